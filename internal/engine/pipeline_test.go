package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/triangulate"
	"github.com/ltrt/ltrt/pkg/types"
)

type pipelineFixture struct {
	opts Options
	deps Dependencies
	sink *fake.CollectingSink
	rec  *metrics.Recorder
}

func newPipelineFixture(t *testing.T, frames int, paced bool) *pipelineFixture {
	t.Helper()
	cal := calibration.Ring(threeCameras, 4)

	trackers := make(map[types.CameraID]interfaces.Tracker, len(threeCameras))
	for _, id := range threeCameras {
		cam, err := cal.Camera(id)
		if err != nil {
			t.Fatalf("camera %s: %v", id, err)
		}
		trackers[id] = &fake.Tracker{Camera: cam}
	}

	var sources []interfaces.FrameSource
	for _, src := range fake.Sources(threeCameras, testFPS, frames, 0, paced, nil) {
		sources = append(sources, src)
	}

	f := &pipelineFixture{
		sink: &fake.CollectingSink{},
		rec:  metrics.NewRecorder(),
	}
	f.opts = Options{
		Cameras:    threeCameras,
		TargetFPS:  testFPS,
		Capacities: Capacities{RawFrames: frames + 1, Output: frames + 1},
		Timeouts: Timeouts{
			Receive:      10 * time.Millisecond,
			StartupGrace: time.Second,
			Shutdown:     2 * time.Second,
		},
	}
	f.deps = Dependencies{
		Sources:      sources,
		Trackers:     trackers,
		Triangulator: triangulate.New(),
		Calibration:  cal,
		Sink:         f.sink,
		Metrics:      f.rec,
	}
	return f
}

func (f *pipelineFixture) build(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f.opts, f.deps, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestPipeline_ReplaysEveryFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 100, false)
	p := f.build(t)

	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	sup := p.Supervisor()
	if sup.State() != StateStopped || !errors.Is(sup.Cause(), ErrStreamExhausted) {
		t.Errorf("expected STOPPED by end of stream, got %s / %v", sup.State(), sup.Cause())
	}
	if got := f.rec.Counter(metrics.SetsAligned); got != 100 {
		t.Errorf("expected exactly 100 aligned sets, got %d", got)
	}

	results := f.sink.Results()
	if len(results) != 100 {
		t.Fatalf("expected 100 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Instant != uint64(i) {
			t.Fatalf("result %d has instant %d", i, r.Instant)
		}
		if len(r.Points) != fake.JointCount {
			t.Fatalf("instant %d: %d points", r.Instant, len(r.Points))
		}
	}
	want := fake.Pose(42)
	for j, p := range results[42].Points {
		if !triangulate.IsValid(p) || abs(p.X-want[j].X) > 1e-6 || abs(p.Y-want[j].Y) > 1e-6 || abs(p.Z-want[j].Z) > 1e-6 {
			t.Errorf("joint %d: got %+v, want %+v", j, p, want[j])
		}
	}
	if !f.sink.Closed() {
		t.Error("sink should be closed")
	}
	for name, st := range p.ChannelStats() {
		if st.Dropped != 0 {
			t.Errorf("channel %s dropped %d", name, st.Dropped)
		}
	}
}

func TestPipeline_EmptyStreamStopsDuringStartup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 0, false)
	p := f.build(t)

	start := time.Now()
	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= f.opts.Timeouts.StartupGrace {
		t.Errorf("sentinel took %s, longer than the startup grace", elapsed)
	}
	if !errors.Is(p.Supervisor().Cause(), ErrStreamExhausted) {
		t.Errorf("expected ErrStreamExhausted, got %v", p.Supervisor().Cause())
	}
	if len(f.sink.Results()) != 0 {
		t.Error("expected no output")
	}
}

func TestPipeline_StopWhileRunning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 10000, true)
	p := f.build(t)

	if err := p.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start: expected ErrNotStarted, got %v", err)
	}
	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if p.Supervisor().State() != StateStopped || p.Supervisor().Cause() != nil {
		t.Errorf("expected clean STOPPED, got %s / %v", p.Supervisor().State(), p.Supervisor().Cause())
	}
	if len(f.sink.Results()) == 0 {
		t.Error("expected some output before stop")
	}
	if !f.sink.Closed() {
		t.Error("sink should be closed")
	}
}

func TestPipeline_TrackerFailureAbandonsOneInstant(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 20, false)
	f.deps.Trackers[1].(*fake.Tracker).Fail = func(fr *types.RawFrame) bool { return fr.SequenceNumber == 5 }
	p := f.build(t)

	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	results := f.sink.Results()
	if len(results) != 19 {
		t.Fatalf("expected 19 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Instant == 5 {
			t.Error("failed instant must not be emitted")
		}
	}
	if got := f.rec.Counter(metrics.InstantsAbandoned); got != 1 {
		t.Errorf("expected 1 abandoned instant, got %d", got)
	}
	if got := f.rec.Counter(metrics.TrackerErrors); got != 1 {
		t.Errorf("expected 1 tracker error, got %d", got)
	}
}

type panickingTracker struct{}

func (panickingTracker) Process(context.Context, *types.RawFrame) ([]types.Keypoint, error) {
	panic("nil model")
}

func TestPipeline_WorkerPanicStopsPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 20, false)
	f.deps.Trackers[2] = panickingTracker{}
	p := f.build(t)

	var mu sync.Mutex
	var states []State
	p.Supervisor().OnTransition(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, tr.To)
	})

	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected the run to fail")
	}
	for _, h := range p.Supervisor().Handles() {
		if h.Name() != "tracker.cam_2" {
			continue
		}
		if h.Err() == nil || !strings.Contains(h.Err().Error(), "panic: nil model") {
			t.Errorf("expected recovered panic on tracker.cam_2, got %v", h.Err())
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[len(states)-2] != StateStopping || states[len(states)-1] != StateStopped {
		t.Errorf("expected STOPPING then STOPPED, got %v", states)
	}
}

type stuckTracker struct {
	release chan struct{}
	once    sync.Once
}

func (s *stuckTracker) Process(context.Context, *types.RawFrame) ([]types.Keypoint, error) {
	<-s.release
	return nil, errors.New("connection closed")
}

func (s *stuckTracker) Close() error {
	s.once.Do(func() { close(s.release) })
	return nil
}

func TestPipeline_StuckTrackerIsTerminated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newPipelineFixture(t, 20, false)
	stuck := &stuckTracker{release: make(chan struct{})}
	f.deps.Trackers[0] = stuck
	f.opts.Timeouts.Shutdown = 100 * time.Millisecond
	p := f.build(t)

	if _, err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	err := p.Stop(ctx)
	if !errors.Is(err, ErrWorkerLeak) || !strings.Contains(err.Error(), "tracker.cam_0") {
		t.Fatalf("expected leaked tracker.cam_0, got %v", err)
	}
	select {
	case <-stuck.release:
	default:
		t.Error("stuck tracker was not closed")
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *pipelineFixture)
		wantErr string
	}{
		{
			name:    "no cameras",
			mutate:  func(f *pipelineFixture) { f.opts.Cameras = nil },
			wantErr: "at least one camera",
		},
		{
			name:    "duplicate camera",
			mutate:  func(f *pipelineFixture) { f.opts.Cameras = []types.CameraID{0, 1, 1} },
			wantErr: "duplicate camera cam_1",
		},
		{
			name:    "missing tracker",
			mutate:  func(f *pipelineFixture) { delete(f.deps.Trackers, 2) },
			wantErr: "no tracker for cam_2",
		},
		{
			name:    "missing source",
			mutate:  func(f *pipelineFixture) { f.deps.Sources = f.deps.Sources[:2] },
			wantErr: "have 2 sources for 3 cameras",
		},
		{
			name:    "no triangulator",
			mutate:  func(f *pipelineFixture) { f.deps.Triangulator = nil },
			wantErr: "triangulator",
		},
		{
			name:    "calibration misses a camera",
			mutate:  func(f *pipelineFixture) { f.deps.Calibration = calibration.Ring([]types.CameraID{0, 1}, 4) },
			wantErr: "cam_2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t, 1, false)
			tt.mutate(f)
			_, err := NewPipeline(f.opts, f.deps, logger.NewNopLogger())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
