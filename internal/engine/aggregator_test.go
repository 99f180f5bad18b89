package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/types"
)

func result(camera types.CameraID, instant uint64) types.TrackingResult {
	return types.TrackingResult{
		CameraID:  camera,
		Instant:   instant,
		Keypoints: keypoints(2, float64(camera)),
	}
}

func newTestAggregator(maxInFlight int) (*Aggregator, *metrics.Recorder) {
	rec := metrics.NewRecorder()
	return NewAggregator(AggregatorConfig{
		Cameras:     []types.CameraID{1, 0},
		MaxInFlight: maxInFlight,
	}, logger.NewNopLogger(), rec), rec
}

func TestAggregator_CombinesInCanonicalOrder(t *testing.T) {
	agg, rec := newTestAggregator(0)

	combined, err := agg.OnTrackingResult(result(1, 0))
	if err != nil || combined != nil {
		t.Fatalf("partial bucket: got %v, %v", combined, err)
	}
	if agg.InFlight() != 1 {
		t.Errorf("expected 1 open instant, got %d", agg.InFlight())
	}

	combined, err = agg.OnTrackingResult(result(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &types.CombinedArray{
		Instant:   0,
		CameraIDs: []types.CameraID{0, 1},
		Points: [][]types.Point2D{
			{{X: 0, Y: 0}, {X: 0, Y: 1}},
			{{X: 1, Y: 0}, {X: 1, Y: 1}},
		},
		Confidences: [][]float64{{1, 1}, {1, 1}},
	}
	if diff := cmp.Diff(want, combined); diff != "" {
		t.Errorf("combined array mismatch (-want +got):\n%s", diff)
	}
	if !agg.IsCompleted(0) || agg.InFlight() != 0 {
		t.Error("instant 0 should be completed and closed")
	}
	if rec.Counter(metrics.CombinedEmitted) != 1 {
		t.Errorf("expected 1 combined emitted, got %d", rec.Counter(metrics.CombinedEmitted))
	}
}

func TestAggregator_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name  string
		setup []types.TrackingResult
		input types.TrackingResult
		kind  string
	}{
		{
			name:  "unknown camera",
			input: result(7, 0),
			kind:  "unknown_camera",
		},
		{
			name:  "duplicate",
			setup: []types.TrackingResult{result(0, 0)},
			input: result(0, 0),
			kind:  "duplicate",
		},
		{
			name:  "late",
			setup: []types.TrackingResult{result(0, 0), result(1, 0)},
			input: result(0, 0),
			kind:  "late",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, rec := newTestAggregator(1)
			for _, r := range tt.setup {
				if _, err := agg.OnTrackingResult(r); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}

			combined, err := agg.OnTrackingResult(tt.input)
			if combined != nil {
				t.Error("a violation must not produce output")
			}
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected ErrProtocolViolation, got %v", err)
			}
			if got := rec.CounterWith(metrics.ProtocolViolations, metrics.Tags{"kind": tt.kind}); got != 1 {
				t.Errorf("expected 1 %s violation, got %d", tt.kind, got)
			}
		})
	}
}

func TestAggregator_Backpressure(t *testing.T) {
	agg, _ := newTestAggregator(1)

	if _, err := agg.OnTrackingResult(result(0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.OnTrackingResult(result(0, 1)); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if agg.InFlight() != 1 {
		t.Errorf("refused result must not open a bucket, have %d", agg.InFlight())
	}

	if _, err := agg.OnTrackingResult(result(1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.OnTrackingResult(result(0, 1)); err != nil {
		t.Errorf("retry after completion should be accepted, got %v", err)
	}
}

func TestAggregator_TrackerErrorAbandonsInstant(t *testing.T) {
	agg, rec := newTestAggregator(1)

	if _, err := agg.OnTrackingResult(result(1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed := types.TrackingResult{CameraID: 0, Instant: 0, Err: errors.New("model crashed")}
	combined, err := agg.OnTrackingResult(failed)
	if combined != nil || err != nil {
		t.Fatalf("expected silent abandon, got %v, %v", combined, err)
	}
	if !agg.IsCompleted(0) || agg.InFlight() != 0 {
		t.Error("abandoned instant should be completed")
	}
	if rec.Counter(metrics.InstantsAbandoned) != 1 {
		t.Errorf("expected 1 abandoned instant, got %d", rec.Counter(metrics.InstantsAbandoned))
	}

	if _, err := agg.OnTrackingResult(result(1, 0)); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("straggler for abandoned instant should be a violation, got %v", err)
	}
}

func TestAggregator_CompletedWindowSlides(t *testing.T) {
	agg, _ := newTestAggregator(4)

	for instant := uint64(0); instant < 2*completedWindow; instant++ {
		if instant%2 == 0 {
			agg.Abandon(instant, "test")
			continue
		}
		for _, id := range []types.CameraID{0, 1} {
			if _, err := agg.OnTrackingResult(result(id, instant)); err != nil {
				t.Fatalf("instant %d: %v", instant, err)
			}
		}
	}

	if len(agg.completed) != 0 || agg.floor != 2*completedWindow {
		t.Errorf("expected contiguous completions folded into the floor, floor=%d pending=%d", agg.floor, len(agg.completed))
	}
	if !agg.IsCompleted(3) || agg.IsCompleted(2*completedWindow) {
		t.Error("unexpected completion state")
	}
}
