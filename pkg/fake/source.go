// Package fake provides deterministic pipeline collaborators: a synthetic
// multi-camera source that replays a fixed number of frames, a tracker that
// projects a known skeleton through the calibration, a triangulator and a
// collecting output sink.
package fake

import (
	"context"
	"errors"
	"time"

	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/types"
)

// SourceConfig describes one synthetic camera
type SourceConfig struct {
	Camera types.CameraID
	FPS    float64
	Frames int

	// Offset shifts every capture timestamp of this camera, modelling a
	// camera that lags (or leads) the others
	Offset time.Duration

	// Paced delivers frames at FPS on the clock; otherwise as fast as
	// the channel takes them
	Paced bool

	// Missing lists sequence numbers delivered as empty captures
	Missing map[uint64]bool

	Image types.Image
}

// SyntheticSource replays Frames frames for one camera and then signals end
// of stream by closing its channel
type SyntheticSource struct {
	cfg   SourceConfig
	clock timeutil.Clock
}

// NewSyntheticSource creates a synthetic source
func NewSyntheticSource(cfg SourceConfig, clock timeutil.Clock) *SyntheticSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Image.Width == 0 {
		cfg.Image = types.Image{Width: 1280, Height: 720, Channels: 3}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SyntheticSource{cfg: cfg, clock: clock}
}

// CameraID implements interfaces.FrameSource
func (s *SyntheticSource) CameraID() types.CameraID { return s.cfg.Camera }

// Interval is the nominal spacing between captures
func (s *SyntheticSource) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FPS)
}

// Frame builds the frame with the given sequence number
func (s *SyntheticSource) Frame(seq uint64) *types.RawFrame {
	return &types.RawFrame{
		CameraID:         s.cfg.Camera,
		Image:            s.cfg.Image,
		CaptureTimestamp: int64(seq)*int64(s.Interval()) + int64(s.cfg.Offset),
		SequenceNumber:   seq,
	}
}

// Run implements interfaces.FrameSource
func (s *SyntheticSource) Run(ctx context.Context, out *channel.Bounded[*types.RawFrame]) error {
	defer out.Close()

	var ticker timeutil.Ticker
	if s.cfg.Paced {
		ticker = s.clock.NewTicker(s.Interval())
		defer ticker.Stop()
	}

	for seq := uint64(0); seq < uint64(s.cfg.Frames); seq++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C():
			}
		}

		frame := s.Frame(seq)
		if s.cfg.Missing[seq] {
			frame.Image = types.Image{}
			frame.Missing = true
		}
		if err := out.Send(ctx, frame); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Sources builds one synthetic source per camera, the i-th camera lagging
// by i*latency
func Sources(cameras []types.CameraID, fps float64, frames int, latency time.Duration, paced bool, clock timeutil.Clock) []*SyntheticSource {
	out := make([]*SyntheticSource, 0, len(cameras))
	for i, id := range types.SortCameraIDs(cameras) {
		out = append(out, NewSyntheticSource(SourceConfig{
			Camera: id,
			FPS:    fps,
			Frames: frames,
			Offset: time.Duration(i) * latency,
			Paced:  paced,
		}, clock))
	}
	return out
}
