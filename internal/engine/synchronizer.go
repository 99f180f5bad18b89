package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

// DefaultSyncPoll is the per-camera wait used by one synchronizer pass
const DefaultSyncPoll = 2 * time.Millisecond

// SynchronizerConfig configures frame alignment
type SynchronizerConfig struct {
	Cameras []types.CameraID

	// Cutoff is the largest accepted spread between the newest and the
	// oldest frame of a set. Derived from TargetFPS when zero.
	Cutoff    time.Duration
	TargetFPS float64

	// PollTimeout bounds each per-camera receive within a pass
	PollTimeout time.Duration

	// StallThreshold escalates a camera that stays empty this long.
	// Zero disables stall detection.
	StallThreshold time.Duration
}

// CutoffForFPS returns the frame interval at fps
func CutoffForFPS(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// Synchronizer groups frames from independent cameras into aligned sets.
//
// Each pass fills the empty slots with bounded per-camera receives. Once all
// slots hold a frame, frames lagging the newest by more than the cutoff are
// evicted and only their slots are refilled on later passes. A set is
// emitted only when every slot survives, so partial sets never leave the
// synchronizer. Instant numbers increase by one per emitted set.
//
// An empty capture discards its instant on every camera: frames captured
// within half a cutoff after it, pending or still queued, are dropped.
type Synchronizer struct {
	slots   *SlotMap
	inputs  map[types.CameraID]*channel.Bounded[*types.RawFrame]
	cutoff  time.Duration
	poll    time.Duration
	stall   time.Duration
	next    uint64
	ready   []*types.AlignedFrameSet

	// Frames captured at or before discardThrough belong to a discarded
	// instant
	discardThrough int64
	discarding     bool

	waiting map[types.CameraID]time.Time

	log     logger.Logger
	metrics metrics.Sink
	clock   timeutil.Clock
}

// NewSynchronizer creates a synchronizer reading one channel per camera
func NewSynchronizer(
	cfg SynchronizerConfig,
	inputs map[types.CameraID]*channel.Bounded[*types.RawFrame],
	log logger.Logger,
	sink metrics.Sink,
	clock timeutil.Clock,
) (*Synchronizer, error) {
	if len(cfg.Cameras) == 0 {
		return nil, errors.New("synchronizer needs at least one camera")
	}

	cutoff := cfg.Cutoff
	if cutoff <= 0 {
		cutoff = CutoffForFPS(cfg.TargetFPS)
	}
	if cutoff <= 0 {
		return nil, errors.New("synchronizer needs a positive cutoff or target fps")
	}

	for _, id := range cfg.Cameras {
		if inputs[id] == nil {
			return nil, fmt.Errorf("no input channel for %s", id)
		}
	}

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = DefaultSyncPoll
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Synchronizer{
		slots:   NewSlotMap(cfg.Cameras),
		inputs:  inputs,
		cutoff:  cutoff,
		poll:    poll,
		stall:   cfg.StallThreshold,
		waiting: make(map[types.CameraID]time.Time, len(cfg.Cameras)),
		log:     log.WithStage("sync"),
		metrics: sink,
		clock:   clock,
	}, nil
}

// Cutoff returns the alignment window
func (s *Synchronizer) Cutoff() time.Duration { return s.cutoff }

// Pending exposes the slot map for inspection
func (s *Synchronizer) Pending() *SlotMap { return s.slots }

// Submit offers one frame as the candidate for its camera.
//
// An empty capture discards the whole instant and returns
// ErrIncompletePayload. A frame flagged Missing names its instant, so the
// other cameras' frames of that instant are dropped whenever they arrive. A
// nil frame carries no timestamp and only clears what is pending.
func (s *Synchronizer) Submit(camera types.CameraID, frame *types.RawFrame) error {
	if frame == nil {
		return s.discard(camera, s.slots.Clear(EvictionMissingFrame))
	}
	if frame.CameraID != camera {
		return fmt.Errorf("frame from %s submitted for %s: %w", frame.CameraID, camera, ErrUnknownCamera)
	}
	if frame.Missing {
		if s.discarding && frame.CaptureTimestamp <= s.discardThrough {
			return fmt.Errorf("%s: %w", camera, ErrIncompletePayload)
		}
		s.discardThrough = frame.CaptureTimestamp + int64(s.cutoff/2)
		s.discarding = true
		return s.discard(camera, s.slots.EvictThrough(s.discardThrough, EvictionMissingFrame))
	}
	if s.discarding && frame.CaptureTimestamp <= s.discardThrough {
		s.recordEvictions([]Eviction{{Camera: camera, Frame: frame, Reason: EvictionMissingFrame}})
		return nil
	}

	if err := s.slots.Fill(frame); err != nil {
		return err
	}
	s.metrics.Count(metrics.FramesReceived, 1, metrics.Tags{"camera": camera.String()})

	if !s.slots.IsComplete() {
		return nil
	}

	if evicted := s.slots.EvictStale(s.cutoff); len(evicted) > 0 {
		s.recordEvictions(evicted)
		return nil
	}

	set := s.slots.Take(s.next)
	s.next++
	s.ready = append(s.ready, set)
	s.metrics.Count(metrics.SetsAligned, 1, nil)
	s.metrics.Observe(metrics.SetSkew, set.Skew(), nil)
	return nil
}

func (s *Synchronizer) discard(camera types.CameraID, evicted []Eviction) error {
	s.recordEvictions(evicted)
	s.metrics.Count(metrics.InstantsDiscarded, 1, metrics.Tags{"camera": camera.String()})
	s.log.Warn("Empty capture; discarding instant",
		logger.WithField("camera", camera.String()),
		logger.WithField("discarded_frames", len(evicted)))
	return fmt.Errorf("%s: %w", camera, ErrIncompletePayload)
}

// Poll returns the next aligned set, if one is ready
func (s *Synchronizer) Poll() (*types.AlignedFrameSet, bool) {
	if len(s.ready) == 0 {
		return nil, false
	}
	set := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	return set, true
}

// Tick runs one scheduling pass. Each empty slot gets one bounded receive
// from its camera so a stalled camera cannot hold up the others. It returns
// the next aligned set, or nil when none completed during the pass.
func (s *Synchronizer) Tick(ctx context.Context) (*types.AlignedFrameSet, error) {
	if set, ok := s.Poll(); ok {
		return set, nil
	}

	for _, camera := range s.slots.Empty() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := s.inputs[camera].Recv(ctx, s.poll)
		switch {
		case err == nil:
			delete(s.waiting, camera)
			if err := s.Submit(camera, frame); err != nil && !errors.Is(err, ErrIncompletePayload) {
				return nil, err
			}

		case errors.Is(err, channel.ErrRecvTimeout):
			if err := s.noteEmpty(camera); err != nil {
				return nil, err
			}

		case errors.Is(err, channel.ErrClosed):
			s.log.Info("Producer signalled end of stream", logger.WithField("camera", camera.String()))
			return nil, fmt.Errorf("%s: %w", camera, ErrStreamExhausted)

		default:
			return nil, err
		}

		if len(s.ready) > 0 {
			break
		}
	}

	set, _ := s.Poll()
	return set, nil
}

// Next blocks, pass after pass, until an aligned set is ready or an error
// ends the stream
func (s *Synchronizer) Next(ctx context.Context) (*types.AlignedFrameSet, error) {
	for {
		set, err := s.Tick(ctx)
		if err != nil {
			return nil, err
		}
		if set != nil {
			return set, nil
		}
	}
}

func (s *Synchronizer) noteEmpty(camera types.CameraID) error {
	s.metrics.Count(metrics.EmptyPolls, 1, metrics.Tags{"camera": camera.String()})

	now := s.clock.Now()
	since, ok := s.waiting[camera]
	if !ok {
		s.waiting[camera] = now
		return nil
	}

	waited := now.Sub(since)
	s.log.Debug("No frame yet",
		logger.WithField("camera", camera.String()),
		logger.WithField("waited_ms", waited.Milliseconds()))

	if s.stall > 0 && waited > s.stall {
		s.log.Error("Camera stalled",
			logger.WithField("camera", camera.String()),
			logger.WithField("waited_ms", waited.Milliseconds()))
		return fmt.Errorf("%s silent for %s: %w", camera, waited.Round(time.Millisecond), ErrProducerStalled)
	}
	return nil
}

func (s *Synchronizer) recordEvictions(evicted []Eviction) {
	for _, e := range evicted {
		s.metrics.Count(metrics.FramesEvicted, 1, metrics.Tags{
			"camera": e.Camera.String(),
			"reason": e.Reason.String(),
		})
		s.log.Debug("Evicted frame",
			logger.WithField("camera", e.Camera.String()),
			logger.WithField("reason", e.Reason.String()),
			logger.WithField("sequence", e.Frame.SequenceNumber),
			logger.WithField("lag_ms", float64(e.Lag)/float64(time.Millisecond)))
	}
}
