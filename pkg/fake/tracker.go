package fake

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/types"
)

// restPose is a 13-joint standing skeleton centred on the world origin
var restPose = []types.Point3D{
	{X: 0, Y: -0.8, Z: 0},      // head
	{X: 0, Y: -0.55, Z: 0},     // neck
	{X: -0.2, Y: -0.5, Z: 0},   // left shoulder
	{X: 0.2, Y: -0.5, Z: 0},    // right shoulder
	{X: -0.3, Y: -0.2, Z: 0},   // left elbow
	{X: 0.3, Y: -0.2, Z: 0},    // right elbow
	{X: -0.35, Y: 0.1, Z: 0},   // left wrist
	{X: 0.35, Y: 0.1, Z: 0},    // right wrist
	{X: 0, Y: 0.1, Z: 0},       // pelvis
	{X: -0.1, Y: 0.5, Z: 0.05}, // left knee
	{X: 0.1, Y: 0.5, Z: 0.05},  // right knee
	{X: -0.1, Y: 0.9, Z: 0},    // left ankle
	{X: 0.1, Y: 0.9, Z: 0},     // right ankle
}

// JointCount is the number of joints Pose returns
var JointCount = len(restPose)

// Pose returns the skeleton at the given frame: the rest pose swaying
// sideways with a 60-frame period
func Pose(seq uint64) []types.Point3D {
	sway := 0.1 * math.Sin(2*math.Pi*float64(seq%60)/60)
	out := make([]types.Point3D, len(restPose))
	for i, p := range restPose {
		out[i] = types.Point3D{X: p.X + sway, Y: p.Y, Z: p.Z}
	}
	return out
}

// Tracker projects Pose(frame.SequenceNumber) through one calibrated camera.
// Without a camera it emits deterministic keypoints derived from the
// sequence number.
type Tracker struct {
	Camera *calibration.Camera

	// Delay simulates inference time
	Delay time.Duration

	// WarmupDelay simulates model loading before the first frame
	WarmupDelay time.Duration

	// Fail, when set, makes Process fail for the frames it selects
	Fail func(frame *types.RawFrame) bool

	calls atomic.Int64
}

// Process implements interfaces.Tracker
func (t *Tracker) Process(ctx context.Context, frame *types.RawFrame) ([]types.Keypoint, error) {
	t.calls.Add(1)
	if err := wait(ctx, t.Delay); err != nil {
		return nil, err
	}
	if t.Fail != nil && t.Fail(frame) {
		return nil, fmt.Errorf("%s frame %d: tracker failure", frame.CameraID, frame.SequenceNumber)
	}

	pose := Pose(frame.SequenceNumber)
	keypoints := make([]types.Keypoint, len(pose))
	for i, p := range pose {
		if t.Camera == nil {
			keypoints[i] = types.Keypoint{
				X:          float64(frame.SequenceNumber) + float64(i),
				Y:          float64(frame.CameraID),
				Confidence: 1,
			}
			continue
		}
		px, ok := t.Camera.Project(p)
		if !ok {
			continue
		}
		keypoints[i] = types.Keypoint{X: px.X, Y: px.Y, Confidence: 1}
	}
	return keypoints, nil
}

// Warmup implements interfaces.Warmer
func (t *Tracker) Warmup(ctx context.Context) error {
	return wait(ctx, t.WarmupDelay)
}

// Calls returns how many frames Process was handed
func (t *Tracker) Calls() int64 { return t.calls.Load() }

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
