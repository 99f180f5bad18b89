package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

// DefaultReceiveTimeout bounds every stage receive so workers re-check
// cancellation regularly
const DefaultReceiveTimeout = 100 * time.Millisecond

// TrackingRequest hands one frame of an aligned set to its camera's tracker
type TrackingRequest struct {
	Instant uint64
	Frame   *types.RawFrame
}

// TrackingStage runs one camera's tracker. It produces exactly one
// TrackingResult per consumed request, in input order. Closing the input
// channel ends the stage, which then closes its output.
type TrackingStage struct {
	camera      types.CameraID
	tracker     interfaces.Tracker
	in          *channel.Bounded[TrackingRequest]
	out         *channel.Bounded[types.TrackingResult]
	recvTimeout time.Duration

	log     logger.Logger
	metrics metrics.Sink
	clock   timeutil.Clock
}

// NewTrackingStage wires a tracker between its input and result channels
func NewTrackingStage(
	camera types.CameraID,
	tracker interfaces.Tracker,
	in *channel.Bounded[TrackingRequest],
	out *channel.Bounded[types.TrackingResult],
	recvTimeout time.Duration,
	log logger.Logger,
	sink metrics.Sink,
	clock timeutil.Clock,
) *TrackingStage {
	if recvTimeout <= 0 {
		recvTimeout = DefaultReceiveTimeout
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &TrackingStage{
		camera:      camera,
		tracker:     tracker,
		in:          in,
		out:         out,
		recvTimeout: recvTimeout,
		log:         log.WithStage("tracking").WithCamera(camera),
		metrics:     sink,
		clock:       clock,
	}
}

// Camera returns the camera this stage serves
func (t *TrackingStage) Camera() types.CameraID { return t.camera }

// Run processes requests until the input closes or ctx is cancelled.
// ready is called once the tracker is warm.
func (t *TrackingStage) Run(ctx context.Context, ready func()) error {
	defer t.out.Close()

	if w, ok := t.tracker.(interfaces.Warmer); ok {
		if err := w.Warmup(ctx); err != nil {
			return fmt.Errorf("%s tracker warmup: %w", t.camera, err)
		}
	}
	if ready != nil {
		ready()
	}
	t.log.Debug("Tracking stage ready")

	for {
		req, err := t.in.Recv(ctx, t.recvTimeout)
		switch {
		case err == nil:
		case errors.Is(err, channel.ErrRecvTimeout):
			continue
		case errors.Is(err, channel.ErrClosed):
			t.log.Debug("Input closed; tracking stage exiting")
			return nil
		default:
			return err
		}

		result := t.process(ctx, req)
		if err := SendWithRetry(ctx, t.out, result, t.log); err != nil {
			return err
		}
	}
}

func (t *TrackingStage) process(ctx context.Context, req TrackingRequest) types.TrackingResult {
	result := types.TrackingResult{
		CameraID: t.camera,
		Instant:  req.Instant,
	}
	if req.Frame == nil {
		result.Err = fmt.Errorf("instant %d: %w", req.Instant, ErrIncompletePayload)
		return result
	}
	result.SourceSequence = req.Frame.SequenceNumber

	start := t.clock.Now()
	keypoints, err := t.tracker.Process(ctx, req.Frame)
	t.metrics.Observe(metrics.TrackerProcess, t.clock.Since(start), metrics.Tags{"camera": t.camera.String()})

	if err != nil {
		t.metrics.Count(metrics.TrackerErrors, 1, metrics.Tags{"camera": t.camera.String()})
		t.log.Warn("Tracker failed",
			logger.WithField("instant", req.Instant),
			logger.WithField("sequence", req.Frame.SequenceNumber),
			logger.WithError(err))
		result.Err = err
		return result
	}

	result.Keypoints = keypoints
	return result
}

// SendWithRetry pushes v into a blocking channel, retrying send timeouts
// for as long as ctx is alive so nothing is silently lost
func SendWithRetry[T any](ctx context.Context, ch *channel.Bounded[T], v T, log logger.Logger) error {
	attempts := 0
	for {
		err := ch.Send(ctx, v)
		if err == nil {
			return nil
		}
		if !errors.Is(err, channel.ErrSendTimeout) {
			return err
		}
		attempts++
		if attempts == 1 || attempts%10 == 0 {
			log.Debug("Downstream full; retrying send",
				logger.WithField("channel", ch.Name()),
				logger.WithField("attempts", attempts))
		}
	}
}
