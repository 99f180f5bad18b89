// Package interfaces holds the narrow capability interfaces the pipeline
// depends on. Implementations live in pkg/fake, pkg/remote, pkg/triangulate
// and pkg/recorder; mocks in pkg/mocks.
package interfaces

//go:generate mockgen -destination=../mocks/mocks.go -package=mocks github.com/ltrt/ltrt/pkg/interfaces FrameSource,Tracker,Triangulator,OutputSink

import (
	"context"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/types"
)

// FrameSource produces frames for one camera. Run pushes frames into out
// until the source is exhausted or ctx is cancelled, and closes out exactly
// once before returning. A nil frame marks a capture that produced nothing.
type FrameSource interface {
	CameraID() types.CameraID
	Run(ctx context.Context, out *channel.Bounded[*types.RawFrame]) error
}

// Tracker estimates 2D keypoints for one frame. It is called from a single
// goroutine per camera.
type Tracker interface {
	Process(ctx context.Context, frame *types.RawFrame) ([]types.Keypoint, error)
}

// Warmer is implemented by trackers that need a readiness check before the
// first frame (model load, remote health check)
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Triangulator maps a complete CombinedArray to 3D points. It must be a
// pure function of its inputs.
type Triangulator interface {
	Triangulate(combined types.CombinedArray, cal *calibration.Calibration) ([]types.Point3D, error)
}

// OutputSink consumes triangulated results at the end of the pipeline
type OutputSink interface {
	Write(ctx context.Context, result *types.Triangulated) error
	Close() error
}
