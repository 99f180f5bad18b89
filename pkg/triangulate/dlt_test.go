package triangulate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/triangulate"
	"github.com/ltrt/ltrt/pkg/types"
)

func observe(t *testing.T, cal *calibration.Calibration, seq uint64) *types.CombinedArray {
	t.Helper()
	results := make(map[types.CameraID]types.TrackingResult)
	for _, cam := range cal.Cameras() {
		tracker := &fake.Tracker{Camera: cam}
		kps, err := tracker.Process(context.Background(), &types.RawFrame{CameraID: cam.ID, SequenceNumber: seq})
		require.NoError(t, err)
		results[cam.ID] = types.TrackingResult{CameraID: cam.ID, Instant: seq, Keypoints: kps}
	}
	combined, err := types.NewCombinedArray(seq, cal.CameraIDs(), results)
	require.NoError(t, err)
	return combined
}

func TestDLT_RecoversProjectedSkeleton(t *testing.T) {
	cal := calibration.Ring([]types.CameraID{0, 1, 2}, 4)
	combined := observe(t, cal, 7)

	points, err := triangulate.New().Triangulate(*combined, cal)
	require.NoError(t, err)

	want := fake.Pose(7)
	require.Len(t, points, len(want))
	for i := range want {
		assert.InDelta(t, want[i].X, points[i].X, 1e-6, "joint %d x", i)
		assert.InDelta(t, want[i].Y, points[i].Y, 1e-6, "joint %d y", i)
		assert.InDelta(t, want[i].Z, points[i].Z, 1e-6, "joint %d z", i)
	}

	reproj, err := triangulate.ReprojectionError(points, *combined, cal)
	require.NoError(t, err)
	assert.Less(t, reproj, 1e-3)
}

func TestDLT_ConfidenceGating(t *testing.T) {
	cal := calibration.Ring([]types.CameraID{0, 1, 2}, 4)
	combined := observe(t, cal, 0)

	// One low-confidence view still leaves two cameras
	combined.Confidences[0][0] = 0.1
	// Two low-confidence views leave joint 1 with a single camera
	combined.Confidences[0][1] = 0.1
	combined.Confidences[2][1] = 0.1

	points, err := triangulate.New().Triangulate(*combined, cal)
	require.NoError(t, err)

	assert.True(t, triangulate.IsValid(points[0]))
	assert.False(t, triangulate.IsValid(points[1]))
	assert.True(t, triangulate.IsValid(points[2]))
}

func TestDLT_Errors(t *testing.T) {
	cal := calibration.Ring([]types.CameraID{0, 1}, 4)
	combined := observe(t, cal, 0)

	_, err := triangulate.New().Triangulate(*combined, nil)
	assert.ErrorIs(t, err, triangulate.ErrNoCalibration)

	other := calibration.Ring([]types.CameraID{5, 6}, 4)
	_, err = triangulate.New().Triangulate(*combined, other)
	assert.ErrorIs(t, err, calibration.ErrUnknownCamera)
}
