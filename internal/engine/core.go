package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/channel"
	lcontext "github.com/ltrt/ltrt/pkg/context"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

// Core is the central worker: it pulls aligned sets from the synchronizer,
// fans each set out to the per-camera trackers, aggregates their results
// and triangulates complete instants. One instant is in flight at a time,
// which is what bounds work when trackers are slower than the cameras.
type Core struct {
	sync         *Synchronizer
	agg          *Aggregator
	triangulator interfaces.Triangulator
	calibration  *calibration.Calibration

	trackerIn map[types.CameraID]*channel.Bounded[TrackingRequest]
	results   map[types.CameraID]*channel.Bounded[types.TrackingResult]
	output    *channel.Bounded[*types.Triangulated]

	resultPoll time.Duration
	log        logger.Logger
	metrics    metrics.Sink
	clock      timeutil.Clock
}

// CoreConfig carries the core worker's collaborators
type CoreConfig struct {
	Synchronizer *Synchronizer
	Aggregator   *Aggregator
	Triangulator interfaces.Triangulator
	Calibration  *calibration.Calibration
	TrackerIn    map[types.CameraID]*channel.Bounded[TrackingRequest]
	Results      map[types.CameraID]*channel.Bounded[types.TrackingResult]
	Output       *channel.Bounded[*types.Triangulated] // optional

	// ResultPoll bounds each per-camera wait while collecting results
	ResultPoll time.Duration
}

// NewCore creates the core worker
func NewCore(cfg CoreConfig, log logger.Logger, sink metrics.Sink, clock timeutil.Clock) (*Core, error) {
	if cfg.Synchronizer == nil || cfg.Aggregator == nil || cfg.Triangulator == nil {
		return nil, errors.New("core needs a synchronizer, an aggregator and a triangulator")
	}
	for _, id := range cfg.Synchronizer.Pending().Cameras() {
		if cfg.TrackerIn[id] == nil || cfg.Results[id] == nil {
			return nil, fmt.Errorf("no tracker channels for %s", id)
		}
	}
	if cfg.ResultPoll <= 0 {
		cfg.ResultPoll = DefaultSyncPoll
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Core{
		sync:         cfg.Synchronizer,
		agg:          cfg.Aggregator,
		triangulator: cfg.Triangulator,
		calibration:  cfg.Calibration,
		trackerIn:    cfg.TrackerIn,
		results:      cfg.Results,
		output:       cfg.Output,
		resultPoll:   cfg.ResultPoll,
		log:          log.WithStage("core"),
		metrics:      sink,
		clock:        clock,
	}, nil
}

// Run processes instants until the stream ends or ctx is cancelled. On exit
// it closes the tracker inputs and the output channel so downstream stages
// see end of stream.
func (c *Core) Run(ctx context.Context, ready func()) error {
	defer c.closeDownstream()
	if ready != nil {
		ready()
	}

	for {
		pullStart := c.clock.Now()
		set, err := c.sync.Next(ctx)
		if err != nil {
			return err
		}
		c.metrics.Observe(metrics.StageQueuePull, c.clock.Since(pullStart), nil)

		if err := c.process(ctx, set); err != nil {
			return err
		}
		c.metrics.Observe(metrics.StageTotal, c.clock.Since(pullStart), nil)
	}
}

func (c *Core) process(ctx context.Context, set *types.AlignedFrameSet) error {
	ctx = lcontext.WithInstant(ctx, set.Instant)
	log := logger.WithContext(ctx, c.log)

	for _, frame := range set.Frames {
		req := TrackingRequest{Instant: set.Instant, Frame: frame}
		if err := SendWithRetry(ctx, c.trackerIn[frame.CameraID], req, c.log); err != nil {
			return err
		}
	}

	combined, err := c.collect(ctx, set)
	if err != nil {
		return err
	}
	if combined == nil {
		// Abandoned: a tracker failed on one of the frames
		return nil
	}

	triStart := c.clock.Now()
	points, err := c.triangulator.Triangulate(*combined, c.calibration)
	c.metrics.Observe(metrics.StageTriangulation, c.clock.Since(triStart), nil)
	if err != nil {
		c.metrics.Count(metrics.TriangulationErrors, 1, nil)
		log.Warn("Triangulation failed", logger.WithError(err))
		return nil
	}

	if c.output == nil {
		return nil
	}
	result := &types.Triangulated{
		Instant:    set.Instant,
		Points:     points,
		CapturedAt: set.MaxTimestamp,
	}
	before := c.output.Stats().Dropped
	if err := c.output.Send(ctx, result); err != nil {
		return err
	}
	if dropped := c.output.Stats().Dropped - before; dropped > 0 {
		c.metrics.Count(metrics.OutputDropped, int64(dropped), nil)
	}
	return nil
}

// collect waits for one result per camera for set.Instant. Each camera's
// result channel is polled with a bounded receive in turn, so the wait
// re-checks ctx and a slow tracker never hides a fast one's result.
func (c *Core) collect(ctx context.Context, set *types.AlignedFrameSet) (*types.CombinedArray, error) {
	start := c.clock.Now()
	pending := set.CameraIDs()

	for !c.agg.IsCompleted(set.Instant) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := pending[:0]
		for _, camera := range pending {
			res, err := c.results[camera].Recv(ctx, c.resultPoll)
			switch {
			case err == nil:
			case errors.Is(err, channel.ErrRecvTimeout):
				remaining = append(remaining, camera)
				continue
			case errors.Is(err, channel.ErrClosed):
				return nil, fmt.Errorf("%s tracker: %w", camera, ErrStageExited)
			default:
				return nil, err
			}

			combined, err := c.agg.OnTrackingResult(res)
			switch {
			case err == nil && combined != nil:
				c.metrics.Observe(metrics.StageTracking, c.clock.Since(start), nil)
				return combined, nil
			case err == nil:
				if res.Instant != set.Instant {
					remaining = append(remaining, camera)
				}
			case errors.Is(err, ErrProtocolViolation):
				// Straggler from an abandoned instant; this camera still owes one
				remaining = append(remaining, camera)
			default:
				return nil, err
			}
		}
		pending = remaining

		if len(pending) == 0 && !c.agg.IsCompleted(set.Instant) {
			return nil, fmt.Errorf("instant %d: every camera answered but the instant is open: %w",
				set.Instant, ErrIncompleteCombined)
		}
	}
	return nil, nil
}

func (c *Core) closeDownstream() {
	for _, in := range c.trackerIn {
		in.Close()
	}
	if c.output != nil {
		c.output.Close()
	}
}
