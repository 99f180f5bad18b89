package types_test

import (
	"strings"
	"testing"
	"time"

	"github.com/ltrt/ltrt/pkg/types"
)

func TestCameraID_String(t *testing.T) {
	if got := types.CameraID(3).String(); got != "cam_3" {
		t.Errorf("expected cam_3, got %s", got)
	}
}

func TestSortCameraIDs(t *testing.T) {
	in := []types.CameraID{2, 0, 1}
	got := types.SortCameraIDs(in)

	want := []types.CameraID{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if in[0] != 2 {
		t.Error("input slice was modified")
	}
}

func TestAlignedFrameSet(t *testing.T) {
	set := &types.AlignedFrameSet{
		Frames: []*types.RawFrame{
			{CameraID: 0, CaptureTimestamp: 100},
			{CameraID: 1, CaptureTimestamp: 130},
		},
		MinTimestamp: 100,
		MaxTimestamp: 130,
	}

	if set.Skew() != 30*time.Nanosecond {
		t.Errorf("expected skew 30ns, got %s", set.Skew())
	}
	ids := set.CameraIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("unexpected camera ids %v", ids)
	}
}

func TestNewCombinedArray(t *testing.T) {
	result := func(id types.CameraID, n int) types.TrackingResult {
		kps := make([]types.Keypoint, n)
		for i := range kps {
			kps[i] = types.Keypoint{X: float64(id), Y: float64(i), Confidence: 0.5}
		}
		return types.TrackingResult{CameraID: id, Keypoints: kps}
	}

	tests := []struct {
		name    string
		cameras []types.CameraID
		results map[types.CameraID]types.TrackingResult
		wantErr string
		check   func(t *testing.T, c *types.CombinedArray)
	}{
		{
			name:    "canonical order",
			cameras: []types.CameraID{2, 0, 1},
			results: map[types.CameraID]types.TrackingResult{
				0: result(0, 3), 1: result(1, 3), 2: result(2, 3),
			},
			check: func(t *testing.T, c *types.CombinedArray) {
				if c.CameraCount() != 3 || c.JointCount() != 3 {
					t.Fatalf("expected 3x3, got %dx%d", c.CameraCount(), c.JointCount())
				}
				for i, id := range c.CameraIDs {
					if id != types.CameraID(i) || c.Points[i][0].X != float64(i) {
						t.Errorf("row %d holds %s", i, id)
					}
				}
				if c.Confidences[1][2] != 0.5 {
					t.Errorf("expected confidence 0.5, got %v", c.Confidences[1][2])
				}
			},
		},
		{
			name:    "widest row sets joint count",
			cameras: []types.CameraID{0, 1},
			results: map[types.CameraID]types.TrackingResult{0: result(0, 2), 1: result(1, 5)},
			check: func(t *testing.T, c *types.CombinedArray) {
				if c.JointCount() != 5 {
					t.Errorf("expected 5 joints, got %d", c.JointCount())
				}
			},
		},
		{
			name:    "missing camera",
			cameras: []types.CameraID{0, 1},
			results: map[types.CameraID]types.TrackingResult{0: result(0, 1)},
			wantErr: "have 1 camera results, want 2",
		},
		{
			name:    "foreign camera",
			cameras: []types.CameraID{0, 1},
			results: map[types.CameraID]types.TrackingResult{0: result(0, 1), 7: result(7, 1)},
			wantErr: "missing result for cam_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := types.NewCombinedArray(9, tt.cameras, tt.results)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Instant != 9 {
				t.Errorf("expected instant 9, got %d", c.Instant)
			}
			tt.check(t, c)
		})
	}
}
