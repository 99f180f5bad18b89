package fake

import (
	"context"
	"fmt"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/types"
)

// Rig serves several cameras from one process, dispatching each frame to
// the synthetic tracker of its camera
type Rig struct {
	trackers map[types.CameraID]*Tracker
}

// NewRig creates one Tracker per camera, each projecting through its
// calibrated camera
func NewRig(cal *calibration.Calibration, cameras []types.CameraID, delay time.Duration) (*Rig, error) {
	r := &Rig{trackers: make(map[types.CameraID]*Tracker, len(cameras))}
	for _, id := range cameras {
		cam, err := cal.Camera(id)
		if err != nil {
			return nil, err
		}
		r.trackers[id] = &Tracker{Camera: cam, Delay: delay}
	}
	return r, nil
}

// Process implements interfaces.Tracker
func (r *Rig) Process(ctx context.Context, frame *types.RawFrame) ([]types.Keypoint, error) {
	t, ok := r.trackers[frame.CameraID]
	if !ok {
		return nil, fmt.Errorf("rig has no tracker for %s", frame.CameraID)
	}
	return t.Process(ctx, frame)
}

// Calls returns how many frames the rig was handed in total
func (r *Rig) Calls() int64 {
	var n int64
	for _, t := range r.trackers {
		n += t.Calls()
	}
	return n
}
