package engine

import (
	"fmt"

	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/types"
)

// completedWindow is how many recently completed instants are remembered
// individually; anything older is treated as completed.
const completedWindow = 256

// AggregatorConfig configures result aggregation
type AggregatorConfig struct {
	Cameras []types.CameraID

	// MaxInFlight bounds how many instants may be open at once. Defaults to 1.
	MaxInFlight int
}

// Aggregator joins per-camera tracking results into one CombinedArray per
// instant. A bucket is forwarded only once it holds a result from every
// camera; buckets are never forwarded partially. Owned by one goroutine.
type Aggregator struct {
	cameras     []types.CameraID
	known       map[types.CameraID]struct{}
	maxInFlight int

	buckets   map[uint64]map[types.CameraID]types.TrackingResult
	completed map[uint64]struct{}
	floor     uint64 // every instant below floor is completed
	highest   uint64

	log     logger.Logger
	metrics metrics.Sink
}

// NewAggregator creates an aggregator for the given cameras
func NewAggregator(cfg AggregatorConfig, log logger.Logger, sink metrics.Sink) *Aggregator {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	known := make(map[types.CameraID]struct{}, len(cfg.Cameras))
	for _, id := range cfg.Cameras {
		known[id] = struct{}{}
	}

	return &Aggregator{
		cameras:     types.SortCameraIDs(cfg.Cameras),
		known:       known,
		maxInFlight: cfg.MaxInFlight,
		buckets:     make(map[uint64]map[types.CameraID]types.TrackingResult),
		completed:   make(map[uint64]struct{}),
		log:         log.WithStage("aggregator"),
		metrics:     sink,
	}
}

// InFlight returns the number of open buckets
func (a *Aggregator) InFlight() int { return len(a.buckets) }

// IsCompleted reports whether the instant was forwarded or abandoned
func (a *Aggregator) IsCompleted(instant uint64) bool {
	if instant < a.floor {
		return true
	}
	_, ok := a.completed[instant]
	return ok
}

// OnTrackingResult adds one result. It returns the CombinedArray when the
// result completes its instant, nil otherwise.
//
// Late, duplicate and unknown-camera results are logged, counted and dropped;
// the returned error wraps ErrProtocolViolation and is never fatal. A result
// that would open a bucket beyond MaxInFlight is refused with
// ErrBackpressure and may be retried. A result carrying a tracker error
// abandons its whole instant.
func (a *Aggregator) OnTrackingResult(res types.TrackingResult) (*types.CombinedArray, error) {
	if _, ok := a.known[res.CameraID]; !ok {
		return nil, a.violation(res, "unknown_camera")
	}
	if a.IsCompleted(res.Instant) {
		return nil, a.violation(res, "late")
	}

	bucket, open := a.buckets[res.Instant]
	if !open {
		if len(a.buckets) >= a.maxInFlight {
			return nil, fmt.Errorf("instant %d: %w", res.Instant, ErrBackpressure)
		}
		bucket = make(map[types.CameraID]types.TrackingResult, len(a.cameras))
		a.buckets[res.Instant] = bucket
	}
	if _, dup := bucket[res.CameraID]; dup {
		return nil, a.violation(res, "duplicate")
	}

	if res.Err != nil {
		a.Abandon(res.Instant, res.Err.Error())
		return nil, nil
	}

	bucket[res.CameraID] = res
	if len(bucket) < len(a.cameras) {
		return nil, nil
	}

	combined, err := types.NewCombinedArray(res.Instant, a.cameras, bucket)
	a.markCompleted(res.Instant)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrIncompleteCombined)
	}
	if combined.CameraCount() != len(a.cameras) {
		return nil, fmt.Errorf("instant %d has %d cameras, want %d: %w",
			res.Instant, combined.CameraCount(), len(a.cameras), ErrIncompleteCombined)
	}

	a.metrics.Count(metrics.CombinedEmitted, 1, nil)
	return combined, nil
}

// Abandon discards an open instant and marks it completed so stragglers
// are dropped
func (a *Aggregator) Abandon(instant uint64, reason string) {
	held := len(a.buckets[instant])
	a.markCompleted(instant)
	a.metrics.Count(metrics.InstantsAbandoned, 1, nil)
	a.log.Warn("Abandoned instant",
		logger.WithField("instant", instant),
		logger.WithField("held_results", held),
		logger.WithField("reason", reason))
}

func (a *Aggregator) markCompleted(instant uint64) {
	delete(a.buckets, instant)
	a.completed[instant] = struct{}{}
	if instant > a.highest {
		a.highest = instant
	}

	// Advance the floor past contiguous completions and anything outside the window
	for {
		if _, ok := a.completed[a.floor]; ok {
			delete(a.completed, a.floor)
			a.floor++
			continue
		}
		if a.highest >= completedWindow && a.floor < a.highest-completedWindow {
			if _, open := a.buckets[a.floor]; open {
				break
			}
			a.floor++
			continue
		}
		break
	}
}

func (a *Aggregator) violation(res types.TrackingResult, kind string) error {
	a.metrics.Count(metrics.ProtocolViolations, 1, metrics.Tags{"kind": kind})
	a.log.Warn("Dropped tracking result",
		logger.WithField("camera", res.CameraID.String()),
		logger.WithField("instant", res.Instant),
		logger.WithField("kind", kind))
	return fmt.Errorf("%s result for instant %d (%s): %w", res.CameraID, res.Instant, kind, ErrProtocolViolation)
}
