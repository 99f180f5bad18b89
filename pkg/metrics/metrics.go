// Package metrics defines the injectable event sink pipeline stages report
// counts and durations to. Stages never read metrics back; control flow does
// not depend on them.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ltrt/ltrt/pkg/logger"
)

// Metric names emitted by the pipeline
const (
	FramesReceived      = "sync.frames_received"
	FramesEvicted       = "sync.frames_evicted"
	EmptyPolls          = "sync.empty_polls"
	InstantsDiscarded   = "sync.instants_discarded"
	SetsAligned         = "sync.sets_aligned"
	SetSkew             = "sync.skew"
	ProtocolViolations  = "aggregator.protocol_violations"
	CombinedEmitted     = "aggregator.combined_emitted"
	InstantsAbandoned   = "aggregator.instants_abandoned"
	TrackerErrors       = "tracking.errors"
	TrackerProcess      = "tracking.process"
	TriangulationErrors = "triangulation.errors"
	OutputDropped       = "output.dropped"

	StageQueuePull     = "stage.queue_pull"
	StageTracking      = "stage.tracking"
	StageTriangulation = "stage.triangulation"
	StageTotal         = "stage.total"
)

// Tags qualify a metric event (camera, reason, kind)
type Tags map[string]string

func (t Tags) String() string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+t[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Sink receives metric events
type Sink interface {
	Count(name string, delta int64, tags Tags)
	Observe(name string, d time.Duration, tags Tags)
}

// Nop discards every event
type Nop struct{}

// Count implements Sink
func (Nop) Count(string, int64, Tags) {}

// Observe implements Sink
func (Nop) Observe(string, time.Duration, Tags) {}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int64
	tagged   map[string]int64
	samples  map[string][]time.Duration
}

// NewRecorder creates an empty in-memory recorder
func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]int64),
		tagged:   make(map[string]int64),
		samples:  make(map[string][]time.Duration),
	}
}

// Count implements Sink
func (r *Recorder) Count(name string, delta int64, tags Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	if len(tags) > 0 {
		r.tagged[name+tags.String()] += delta
	}
}

// Observe implements Sink
func (r *Recorder) Observe(name string, d time.Duration, _ Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], d)
}

// Counter returns the total of a counter across all tags
func (r *Recorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// CounterWith returns the total of a counter for one exact tag set
func (r *Recorder) CounterWith(name string, tags Tags) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tagged[name+tags.String()]
}

// Samples returns a copy of the durations observed for name
func (r *Recorder) Samples(name string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.samples[name]))
	copy(out, r.samples[name])
	return out
}

// SampleNames lists every duration metric observed, sorted
func (r *Recorder) SampleNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.samples))
	for name := range r.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counters returns a snapshot of all untagged counter totals
func (r *Recorder) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// LogSink writes every event to a logger at debug level
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink that logs events
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log.WithStage("metrics")}
}

// Count implements Sink
func (s *LogSink) Count(name string, delta int64, tags Tags) {
	s.log.Debug(fmt.Sprintf("%s%s += %d", name, tags, delta))
}

// Observe implements Sink
func (s *LogSink) Observe(name string, d time.Duration, tags Tags) {
	s.log.Debug(fmt.Sprintf("%s%s = %s", name, tags, d))
}

// Fanout sends every event to all sinks
type Fanout []Sink

// Count implements Sink
func (f Fanout) Count(name string, delta int64, tags Tags) {
	for _, s := range f {
		s.Count(name, delta, tags)
	}
}

// Observe implements Sink
func (f Fanout) Observe(name string, d time.Duration, tags Tags) {
	for _, s := range f {
		s.Observe(name, d, tags)
	}
}
