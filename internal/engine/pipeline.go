package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

// Capacities sizes the bounded channels between stages
type Capacities struct {
	RawFrames    int
	TrackerInput int
	Results      int
	Output       int
}

// Timeouts holds every bounded wait of the pipeline
type Timeouts struct {
	Receive        time.Duration
	SyncPoll       time.Duration
	SendBlock      time.Duration
	StartupGrace   time.Duration
	Shutdown       time.Duration
	StallThreshold time.Duration
}

// Options configures a pipeline
type Options struct {
	Cameras     []types.CameraID
	TargetFPS   float64
	Cutoff      time.Duration // derived from TargetFPS when zero
	Capacities  Capacities
	Timeouts    Timeouts
	MaxInFlight int
}

// Dependencies are the pluggable collaborators of a pipeline
type Dependencies struct {
	Sources      []interfaces.FrameSource
	Trackers     map[types.CameraID]interfaces.Tracker
	Triangulator interfaces.Triangulator
	Calibration  *calibration.Calibration
	Sink         interfaces.OutputSink // optional final consumer
	Metrics      metrics.Sink
	Clock        timeutil.Clock
}

// Pipeline wires sources, the synchronizer, per-camera tracking stages, the
// aggregator, triangulation and the optional output sink through bounded
// channels, and runs them under one Supervisor.
type Pipeline struct {
	opts Options
	deps Dependencies
	log  logger.Logger

	raw       map[types.CameraID]*channel.Bounded[*types.RawFrame]
	trackerIn map[types.CameraID]*channel.Bounded[TrackingRequest]
	results   map[types.CameraID]*channel.Bounded[types.TrackingResult]
	output    *channel.Bounded[*types.Triangulated]

	core       *Core
	stages     []*TrackingStage
	supervisor *Supervisor
}

// NewPipeline validates the wiring and registers every worker with a fresh
// supervisor. Nothing runs until Start.
func NewPipeline(opts Options, deps Dependencies, log logger.Logger) (*Pipeline, error) {
	if err := validate(opts, deps); err != nil {
		return nil, err
	}
	opts = withDefaults(opts)
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	p := &Pipeline{
		opts:      opts,
		deps:      deps,
		log:       log,
		raw:       make(map[types.CameraID]*channel.Bounded[*types.RawFrame], len(opts.Cameras)),
		trackerIn: make(map[types.CameraID]*channel.Bounded[TrackingRequest], len(opts.Cameras)),
		results:   make(map[types.CameraID]*channel.Bounded[types.TrackingResult], len(opts.Cameras)),
	}
	p.allocateChannels()

	synchronizer, err := NewSynchronizer(SynchronizerConfig{
		Cameras:        opts.Cameras,
		Cutoff:         opts.Cutoff,
		TargetFPS:      opts.TargetFPS,
		PollTimeout:    opts.Timeouts.SyncPoll,
		StallThreshold: opts.Timeouts.StallThreshold,
	}, p.raw, log, deps.Metrics, deps.Clock)
	if err != nil {
		return nil, err
	}

	agg := NewAggregator(AggregatorConfig{Cameras: opts.Cameras, MaxInFlight: opts.MaxInFlight}, log, deps.Metrics)

	coreCfg := CoreConfig{
		Synchronizer: synchronizer,
		Aggregator:   agg,
		Triangulator: deps.Triangulator,
		Calibration:  deps.Calibration,
		TrackerIn:    p.trackerIn,
		Results:      p.results,
		ResultPoll:   opts.Timeouts.SyncPoll,
	}
	if deps.Sink != nil {
		coreCfg.Output = p.output
	}
	p.core, err = NewCore(coreCfg, log, deps.Metrics, deps.Clock)
	if err != nil {
		return nil, err
	}

	for _, id := range opts.Cameras {
		p.stages = append(p.stages, NewTrackingStage(id, deps.Trackers[id], p.trackerIn[id], p.results[id],
			opts.Timeouts.Receive, log, deps.Metrics, deps.Clock))
	}

	p.supervisor = NewSupervisor(SupervisorConfig{
		StartupGrace:    opts.Timeouts.StartupGrace,
		ShutdownTimeout: opts.Timeouts.Shutdown,
	}, log, deps.Clock)
	if err := p.supervisor.Add(p.workers()...); err != nil {
		return nil, err
	}
	return p, nil
}

func validate(opts Options, deps Dependencies) error {
	if len(opts.Cameras) == 0 {
		return errors.New("pipeline needs at least one camera")
	}
	seen := make(map[types.CameraID]bool, len(opts.Cameras))
	for _, id := range opts.Cameras {
		if seen[id] {
			return fmt.Errorf("duplicate camera %s", id)
		}
		seen[id] = true
		if deps.Trackers[id] == nil {
			return fmt.Errorf("no tracker for %s", id)
		}
	}

	if len(deps.Sources) != len(opts.Cameras) {
		return fmt.Errorf("have %d sources for %d cameras", len(deps.Sources), len(opts.Cameras))
	}
	sourced := make(map[types.CameraID]bool, len(deps.Sources))
	for _, src := range deps.Sources {
		id := src.CameraID()
		if !seen[id] {
			return fmt.Errorf("source for unconfigured camera %s", id)
		}
		if sourced[id] {
			return fmt.Errorf("two sources for %s", id)
		}
		sourced[id] = true
	}

	if deps.Triangulator == nil {
		return errors.New("pipeline needs a triangulator")
	}
	if deps.Calibration != nil {
		if err := deps.Calibration.Covers(opts.Cameras); err != nil {
			return err
		}
	}
	return nil
}

func withDefaults(opts Options) Options {
	c := &opts.Capacities
	if c.RawFrames < 1 {
		c.RawFrames = 3
	}
	if c.TrackerInput < 1 {
		c.TrackerInput = 1
	}
	if c.Results < 1 {
		c.Results = 1
	}
	if c.Output < 1 {
		c.Output = 16
	}

	t := &opts.Timeouts
	if t.Receive <= 0 {
		t.Receive = DefaultReceiveTimeout
	}
	if t.SyncPoll <= 0 {
		t.SyncPoll = DefaultSyncPoll
	}
	if t.SendBlock <= 0 {
		t.SendBlock = channel.DefaultSendTimeout
	}
	opts.Cameras = types.SortCameraIDs(opts.Cameras)
	return opts
}

func (p *Pipeline) allocateChannels() {
	for _, id := range p.opts.Cameras {
		p.raw[id] = channel.New[*types.RawFrame](channel.Config{
			Name:     "raw." + id.String(),
			Capacity: p.opts.Capacities.RawFrames,
			Policy:   channel.DropOldest,
		})
		p.trackerIn[id] = channel.New[TrackingRequest](channel.Config{
			Name:        "tracker_in." + id.String(),
			Capacity:    p.opts.Capacities.TrackerInput,
			Policy:      channel.BlockWithTimeout,
			SendTimeout: p.opts.Timeouts.SendBlock,
		})
		p.results[id] = channel.New[types.TrackingResult](channel.Config{
			Name:        "results." + id.String(),
			Capacity:    p.opts.Capacities.Results,
			Policy:      channel.BlockWithTimeout,
			SendTimeout: p.opts.Timeouts.SendBlock,
		})
	}
	p.output = channel.New[*types.Triangulated](channel.Config{
		Name:     "output",
		Capacity: p.opts.Capacities.Output,
		Policy:   channel.DropOldest,
	})
}

// workers lists the pipeline workers consumers first: the output sink, the
// core, the trackers, then the sources
func (p *Pipeline) workers() []Worker {
	var workers []Worker

	if p.deps.Sink != nil {
		workers = append(workers, Worker{
			Name: "sink",
			Run:  p.runSink,
		})
	}

	workers = append(workers, Worker{Name: "core", Run: p.core.Run})

	for _, stage := range p.stages {
		w := Worker{Name: "tracker." + stage.Camera().String(), Run: stage.Run}
		if closer, ok := p.deps.Trackers[stage.Camera()].(io.Closer); ok {
			w.Terminate = func() { _ = closer.Close() }
		}
		workers = append(workers, w)
	}

	for _, src := range p.deps.Sources {
		out := p.raw[src.CameraID()]
		w := Worker{
			Name: "source." + src.CameraID().String(),
			Run: func(ctx context.Context, ready func()) error {
				defer out.Close()
				ready()
				return src.Run(ctx, out)
			},
		}
		if closer, ok := src.(io.Closer); ok {
			w.Terminate = func() { _ = closer.Close() }
		}
		workers = append(workers, w)
	}
	return workers
}

// runSink drains the output channel into the sink until the core closes it.
// On cancellation whatever is still buffered is flushed before returning.
func (p *Pipeline) runSink(ctx context.Context, ready func()) error {
	log := p.log.WithStage("sink")
	defer func() {
		if err := p.deps.Sink.Close(); err != nil {
			log.Warn("Failed to close output sink", logger.WithError(err))
		}
	}()
	ready()

	write := func(ctx context.Context, v *types.Triangulated) {
		if err := p.deps.Sink.Write(ctx, v); err != nil {
			log.Warn("Failed to write result",
				logger.WithField("instant", v.Instant),
				logger.WithError(err))
		}
	}

	for {
		v, err := p.output.Recv(ctx, p.opts.Timeouts.Receive)
		switch {
		case err == nil:
			write(ctx, v)
		case errors.Is(err, channel.ErrRecvTimeout):
		case errors.Is(err, channel.ErrClosed):
			return nil
		default:
			flushCtx, cancel := context.WithTimeout(context.Background(), p.opts.Timeouts.Receive)
			for _, v := range p.output.Drain() {
				write(flushCtx, v)
			}
			cancel()
			return nil
		}
	}
}

// Supervisor returns the pipeline's supervisor
func (p *Pipeline) Supervisor() *Supervisor { return p.supervisor }

// Start launches every worker; see Supervisor.Start
func (p *Pipeline) Start(ctx context.Context) ([]*WorkerHandle, error) {
	p.log.Info("Starting pipeline",
		logger.WithField("cameras", len(p.opts.Cameras)),
		logger.WithField("cutoff_ms", float64(p.core.sync.Cutoff())/float64(time.Millisecond)))
	return p.supervisor.Start(ctx)
}

// Stop shuts the pipeline down; see Supervisor.Stop
func (p *Pipeline) Stop(ctx context.Context) error { return p.supervisor.Stop(ctx) }

// Wait blocks until the pipeline stopped; see Supervisor.Wait
func (p *Pipeline) Wait(ctx context.Context) error { return p.supervisor.Wait(ctx) }

// ChannelStats snapshots every channel's counters, keyed by channel name
func (p *Pipeline) ChannelStats() map[string]channel.Stats {
	stats := make(map[string]channel.Stats, 3*len(p.opts.Cameras)+1)
	for _, id := range p.opts.Cameras {
		stats[p.raw[id].Name()] = p.raw[id].Stats()
		stats[p.trackerIn[id].Name()] = p.trackerIn[id].Stats()
		stats[p.results[id].Name()] = p.results[id].Stats()
	}
	stats[p.output.Name()] = p.output.Stats()
	return stats
}
