package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

var threeCameras = []types.CameraID{0, 1, 2}

func newTestSynchronizer(t *testing.T, cfg SynchronizerConfig, capacity int, rec metrics.Sink, clock timeutil.Clock) (*Synchronizer, func(n int, skew time.Duration, closeAfter bool)) {
	t.Helper()
	if cfg.Cameras == nil {
		cfg.Cameras = threeCameras
	}
	if cfg.TargetFPS == 0 && cfg.Cutoff == 0 {
		cfg.TargetFPS = testFPS
	}
	raw := rawChannels(cfg.Cameras, capacity)
	s, err := NewSynchronizer(cfg, raw, logger.NewNopLogger(), rec, clock)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	return s, func(n int, skew time.Duration, closeAfter bool) {
		feed(t, raw, cfg.Cameras, n, skew, closeAfter)
	}
}

func TestNewSynchronizer_Validation(t *testing.T) {
	raw := rawChannels([]types.CameraID{0}, 1)
	log := logger.NewNopLogger()

	if _, err := NewSynchronizer(SynchronizerConfig{}, raw, log, nil, nil); err == nil {
		t.Error("expected error without cameras")
	}
	if _, err := NewSynchronizer(SynchronizerConfig{Cameras: []types.CameraID{0}}, raw, log, nil, nil); err == nil {
		t.Error("expected error without cutoff or fps")
	}
	if _, err := NewSynchronizer(SynchronizerConfig{Cameras: []types.CameraID{0, 1}, TargetFPS: 30}, raw, log, nil, nil); err == nil {
		t.Error("expected error for camera without channel")
	}

	s, err := NewSynchronizer(SynchronizerConfig{Cameras: []types.CameraID{0}, TargetFPS: 30}, raw, log, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Cutoff() != testInterval {
		t.Errorf("expected cutoff %s, got %s", testInterval, s.Cutoff())
	}
}

func TestSynchronizer_SmallSkewAlignsEveryFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := metrics.NewRecorder()
	s, feedAll := newTestSynchronizer(t, SynchronizerConfig{}, 20, rec, nil)
	feedAll(20, 10*time.Millisecond, true)

	for want := uint64(0); want < 20; want++ {
		set, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("instant %d: %v", want, err)
		}
		if set.Instant != want {
			t.Fatalf("expected instant %d, got %d", want, set.Instant)
		}
		for i, f := range set.Frames {
			if f.CameraID != threeCameras[i] || f.SequenceNumber != want {
				t.Errorf("instant %d slot %d holds %s seq %d", want, i, f.CameraID, f.SequenceNumber)
			}
		}
		if set.Skew() != 20*time.Millisecond {
			t.Errorf("expected skew 20ms, got %s", set.Skew())
		}
	}

	if _, err := s.Next(ctx); !errors.Is(err, ErrStreamExhausted) {
		t.Errorf("expected ErrStreamExhausted, got %v", err)
	}
	if got := rec.Counter(metrics.SetsAligned); got != 20 {
		t.Errorf("expected 20 aligned sets, got %d", got)
	}
	if got := rec.Counter(metrics.FramesEvicted); got != 0 {
		t.Errorf("expected no evictions, got %d", got)
	}
}

func TestSynchronizer_LargeSkewNeverPairsSameIndex(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := metrics.NewRecorder()
	raw := rawChannels(threeCameras, 30)
	s, err := NewSynchronizer(SynchronizerConfig{Cameras: threeCameras, TargetFPS: testFPS}, raw, logger.NewNopLogger(), rec, nil)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	feedOffsets(t, raw, threeCameras, 30, map[types.CameraID]time.Duration{1: 40 * time.Millisecond}, true)

	var sets []*types.AlignedFrameSet
	for {
		set, err := s.Next(ctx)
		if errors.Is(err, ErrStreamExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sets = append(sets, set)
	}

	if len(sets) == 0 {
		t.Fatal("expected at least one aligned set")
	}
	for _, set := range sets {
		if set.Skew() > s.Cutoff() {
			t.Errorf("instant %d skew %s exceeds cutoff %s", set.Instant, set.Skew(), s.Cutoff())
		}
		first := set.Frames[0].SequenceNumber
		same := true
		for _, f := range set.Frames[1:] {
			same = same && f.SequenceNumber == first
		}
		if same {
			t.Errorf("instant %d paired sequence %d across every camera", set.Instant, first)
		}
	}
	for _, id := range []string{"cam_0", "cam_2"} {
		if rec.CounterWith(metrics.FramesEvicted, metrics.Tags{"camera": id, "reason": "stale"}) == 0 {
			t.Errorf("expected stale evictions for leading camera %s", id)
		}
	}
}

func TestSynchronizer_EmptyCaptureDiscardsInstant(t *testing.T) {
	rec := metrics.NewRecorder()
	s, _ := newTestSynchronizer(t, SynchronizerConfig{}, 1, rec, nil)

	if err := s.Submit(0, frame(0, 0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Submit(1, nil); !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("expected ErrIncompletePayload, got %v", err)
	}
	if s.Pending().Len() != 0 {
		t.Errorf("expected every slot cleared, %d still filled", s.Pending().Len())
	}
	if _, ok := s.Poll(); ok {
		t.Error("no set should be emitted for a discarded instant")
	}

	for _, id := range threeCameras {
		if err := s.Submit(id, frame(id, 1, 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	set, ok := s.Poll()
	if !ok || set.Instant != 0 || set.Frames[0].SequenceNumber != 1 {
		t.Errorf("expected the next complete set as instant 0, got %+v", set)
	}

	if got := rec.Counter(metrics.InstantsDiscarded); got != 1 {
		t.Errorf("expected 1 discarded instant, got %d", got)
	}
	if got := rec.CounterWith(metrics.FramesEvicted, metrics.Tags{"camera": "cam_0", "reason": "missing_frame"}); got != 1 {
		t.Errorf("expected cam_0 frame evicted as missing_frame, got %d", got)
	}
}

func TestSynchronizer_EmptyCaptureDropsLateFramesOfItsInstant(t *testing.T) {
	rec := metrics.NewRecorder()
	s, _ := newTestSynchronizer(t, SynchronizerConfig{}, 1, rec, nil)

	if err := s.Submit(0, frame(0, 5, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Submit(1, missing(1, 5, 0)); !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("expected ErrIncompletePayload, got %v", err)
	}
	if s.Pending().Len() != 0 {
		t.Fatalf("expected the pending frame of instant 5 evicted, %d still filled", s.Pending().Len())
	}

	// cam_2 delivers its frame of the discarded instant after the fact
	if err := s.Submit(2, frame(2, 5, 2*time.Millisecond)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Pending().IsFilled(2) {
		t.Error("a frame of the discarded instant must not be kept")
	}

	for _, id := range threeCameras {
		if err := s.Submit(id, frame(id, 6, 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	set, ok := s.Poll()
	if !ok {
		t.Fatal("expected the next instant to align")
	}
	for _, f := range set.Frames {
		if f.SequenceNumber != 6 {
			t.Errorf("%s contributed sequence %d, want 6", f.CameraID, f.SequenceNumber)
		}
	}

	if got := rec.Counter(metrics.InstantsDiscarded); got != 1 {
		t.Errorf("expected 1 discarded instant, got %d", got)
	}
	if got := rec.CounterWith(metrics.FramesEvicted, metrics.Tags{"camera": "cam_2", "reason": "missing_frame"}); got != 1 {
		t.Errorf("expected the late cam_2 frame evicted as missing_frame, got %d", got)
	}
}

func TestSynchronizer_EmptyCaptureKeepsLaterSetsAligned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const frames = 10
	rec := metrics.NewRecorder()
	raw := rawChannels(threeCameras, frames+1)
	for _, id := range threeCameras {
		cfg := fake.SourceConfig{Camera: id, FPS: testFPS, Frames: frames}
		if id == 1 {
			cfg.Missing = map[uint64]bool{5: true}
		}
		if err := fake.NewSyntheticSource(cfg, nil).Run(ctx, raw[id]); err != nil {
			t.Fatalf("source %s: %v", id, err)
		}
	}

	s, err := NewSynchronizer(SynchronizerConfig{Cameras: threeCameras, TargetFPS: testFPS}, raw, logger.NewNopLogger(), rec, nil)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}

	var seqs []uint64
	for {
		set, err := s.Next(ctx)
		if errors.Is(err, ErrStreamExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		first := set.Frames[0].SequenceNumber
		for _, f := range set.Frames {
			if f.SequenceNumber != first {
				t.Fatalf("instant %d mixes sequences: %s has %d, cam_0 has %d", set.Instant, f.CameraID, f.SequenceNumber, first)
			}
		}
		if set.Instant != uint64(len(seqs)) {
			t.Errorf("expected instant %d, got %d", len(seqs), set.Instant)
		}
		seqs = append(seqs, first)
	}

	want := []uint64{0, 1, 2, 3, 4, 6, 7, 8, 9}
	if len(seqs) != len(want) {
		t.Fatalf("expected sequences %v, got %v", want, seqs)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("instant %d: expected sequence %d, got %d", i, want[i], seqs[i])
		}
	}
	if got := rec.Counter(metrics.InstantsDiscarded); got != 1 {
		t.Errorf("expected 1 discarded instant, got %d", got)
	}
}

func TestSynchronizer_SubmitRejectsForeignFrame(t *testing.T) {
	s, _ := newTestSynchronizer(t, SynchronizerConfig{}, 1, nil, nil)
	if err := s.Submit(0, frame(1, 0, 0)); !errors.Is(err, ErrUnknownCamera) {
		t.Errorf("expected ErrUnknownCamera, got %v", err)
	}
}

func TestSynchronizer_ClosedChannelIsEndOfStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw := rawChannels(threeCameras, 4)
	s, err := NewSynchronizer(SynchronizerConfig{Cameras: threeCameras, TargetFPS: testFPS}, raw, logger.NewNopLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	_ = raw[0].Send(ctx, frame(0, 0, 0))
	raw[1].Close()

	_, err = s.Next(ctx)
	if !errors.Is(err, ErrStreamExhausted) {
		t.Fatalf("expected ErrStreamExhausted, got %v", err)
	}
	if !IsCleanStop(err) {
		t.Error("end of stream should be a clean stop")
	}
}

func TestSynchronizer_StallEscalates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cameras := []types.CameraID{0, 1}
	raw := rawChannels(cameras, 4)
	s, err := NewSynchronizer(SynchronizerConfig{
		Cameras:        cameras,
		TargetFPS:      testFPS,
		StallThreshold: 50 * time.Millisecond,
	}, raw, logger.NewNopLogger(), nil, clock)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	_ = raw[0].Send(ctx, frame(0, 0, 0))

	set, err := s.Tick(ctx)
	if err != nil || set != nil {
		t.Fatalf("first pass: expected nothing, got %v, %v", set, err)
	}

	clock.Advance(40 * time.Millisecond)
	if _, err := s.Tick(ctx); err != nil {
		t.Fatalf("below threshold: unexpected error %v", err)
	}

	clock.Advance(40 * time.Millisecond)
	_, err = s.Tick(ctx)
	if !errors.Is(err, ErrProducerStalled) {
		t.Fatalf("expected ErrProducerStalled, got %v", err)
	}
}

func TestSynchronizer_StallDisabledByDefault(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s, _ := newTestSynchronizer(t, SynchronizerConfig{}, 1, nil, clock)

	for i := 0; i < 3; i++ {
		if _, err := s.Tick(ctx); err != nil {
			t.Fatalf("pass %d: unexpected error %v", i, err)
		}
		clock.Advance(time.Hour)
	}
}

func TestSynchronizer_NextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := newTestSynchronizer(t, SynchronizerConfig{}, 1, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
