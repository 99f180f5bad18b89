package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ltrt/ltrt/pkg/channel"
	"github.com/ltrt/ltrt/pkg/types"
)

const testFPS = 30.0

var testInterval = CutoffForFPS(testFPS)

func frame(camera types.CameraID, seq uint64, offset time.Duration) *types.RawFrame {
	return &types.RawFrame{
		CameraID:         camera,
		SequenceNumber:   seq,
		CaptureTimestamp: int64(seq)*int64(testInterval) + int64(offset),
	}
}

func missing(camera types.CameraID, seq uint64, offset time.Duration) *types.RawFrame {
	f := frame(camera, seq, offset)
	f.Missing = true
	return f
}

func rawChannels(cameras []types.CameraID, capacity int) map[types.CameraID]*channel.Bounded[*types.RawFrame] {
	out := make(map[types.CameraID]*channel.Bounded[*types.RawFrame], len(cameras))
	for _, id := range cameras {
		out[id] = channel.New[*types.RawFrame](channel.Config{
			Name:     "raw." + id.String(),
			Capacity: capacity,
			Policy:   channel.DropOldest,
		})
	}
	return out
}

// feed queues frames 0..n-1 for every camera, camera i lagging by i*skew,
// and closes each channel when closeAfter is set
func feed(t *testing.T, raw map[types.CameraID]*channel.Bounded[*types.RawFrame], cameras []types.CameraID, n int, skew time.Duration, closeAfter bool) {
	t.Helper()
	offsets := make(map[types.CameraID]time.Duration, len(cameras))
	for i, id := range cameras {
		offsets[id] = time.Duration(i) * skew
	}
	feedOffsets(t, raw, cameras, n, offsets, closeAfter)
}

// feedOffsets queues frames 0..n-1 for every camera, each camera lagging by
// its own offset
func feedOffsets(t *testing.T, raw map[types.CameraID]*channel.Bounded[*types.RawFrame], cameras []types.CameraID, n int, offsets map[types.CameraID]time.Duration, closeAfter bool) {
	t.Helper()
	for _, id := range cameras {
		for seq := 0; seq < n; seq++ {
			if err := raw[id].Send(context.Background(), frame(id, uint64(seq), offsets[id])); err != nil {
				t.Fatalf("send %s seq %d: %v", id, seq, err)
			}
		}
		if closeAfter {
			raw[id].Close()
		}
	}
}

func keypoints(n int, x float64) []types.Keypoint {
	kps := make([]types.Keypoint, n)
	for i := range kps {
		kps[i] = types.Keypoint{X: x, Y: float64(i), Confidence: 1}
	}
	return kps
}
