// Package types provides the core data model shared by every pipeline stage
package types

import (
	"fmt"
	"sort"
	"time"
)

// CameraID identifies one camera (and therefore one frame stream)
type CameraID int

// String implements fmt.Stringer
func (id CameraID) String() string {
	return fmt.Sprintf("cam_%d", int(id))
}

// SortCameraIDs returns a sorted copy of ids in canonical camera order
func SortCameraIDs(ids []CameraID) []CameraID {
	sorted := make([]CameraID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// Image is a raw pixel buffer. Pix is row-major with Channels bytes per pixel.
type Image struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Pix      []byte `json:"pix,omitempty"`
}

// RawFrame is one captured frame. It is immutable once produced; ownership
// moves to whoever dequeues it from a channel.
type RawFrame struct {
	CameraID         CameraID `json:"cameraId"`
	Image            Image    `json:"image"`
	CaptureTimestamp int64    `json:"captureTimestamp"` // monotonic nanoseconds
	SequenceNumber   uint64   `json:"sequenceNumber"`

	// Missing marks an empty capture: the camera fired but produced no
	// image. Timestamp and sequence still identify the instant.
	Missing bool `json:"missing,omitempty"`
}

// CaptureTime returns the capture timestamp as a duration from the clock origin
func (f *RawFrame) CaptureTime() time.Duration {
	return time.Duration(f.CaptureTimestamp)
}

// AlignedFrameSet is a complete set of frames, one per camera, whose capture
// timestamps all lie within the synchronization cutoff of each other.
type AlignedFrameSet struct {
	Instant      uint64
	Frames       []*RawFrame // canonical camera order
	MaxTimestamp int64
	MinTimestamp int64
}

// Skew returns the spread between the newest and oldest frame in the set
func (s *AlignedFrameSet) Skew() time.Duration {
	return time.Duration(s.MaxTimestamp - s.MinTimestamp)
}

// CameraIDs lists the cameras in the set in canonical order
func (s *AlignedFrameSet) CameraIDs() []CameraID {
	ids := make([]CameraID, 0, len(s.Frames))
	for _, f := range s.Frames {
		ids = append(ids, f.CameraID)
	}
	return ids
}

// Keypoint is one tracked joint in image coordinates
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Point2D is a keypoint stripped to the coordinates triangulation consumes
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a triangulated joint position in world coordinates
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TrackingResult is the output of one tracker invocation for one frame.
// Err is set instead of Keypoints when the tracker failed on the frame.
type TrackingResult struct {
	CameraID       CameraID
	Instant        uint64
	SourceSequence uint64
	Keypoints      []Keypoint
	Err            error
}

// CombinedArray holds the 2D keypoints of every camera for one instant,
// concatenated along the camera axis in canonical camera order.
type CombinedArray struct {
	Instant     uint64
	CameraIDs   []CameraID
	Points      [][]Point2D // [camera][joint]
	Confidences [][]float64 // [camera][joint]
}

// NewCombinedArray builds a CombinedArray from one result per expected
// camera. It fails unless results cover exactly the expected camera set.
func NewCombinedArray(instant uint64, cameras []CameraID, results map[CameraID]TrackingResult) (*CombinedArray, error) {
	if len(results) != len(cameras) {
		return nil, fmt.Errorf("instant %d: have %d camera results, want %d", instant, len(results), len(cameras))
	}

	combined := &CombinedArray{
		Instant:     instant,
		CameraIDs:   make([]CameraID, 0, len(cameras)),
		Points:      make([][]Point2D, 0, len(cameras)),
		Confidences: make([][]float64, 0, len(cameras)),
	}

	for _, id := range SortCameraIDs(cameras) {
		res, ok := results[id]
		if !ok {
			return nil, fmt.Errorf("instant %d: missing result for %s", instant, id)
		}
		points := make([]Point2D, len(res.Keypoints))
		conf := make([]float64, len(res.Keypoints))
		for j, kp := range res.Keypoints {
			points[j] = Point2D{X: kp.X, Y: kp.Y}
			conf[j] = kp.Confidence
		}
		combined.CameraIDs = append(combined.CameraIDs, id)
		combined.Points = append(combined.Points, points)
		combined.Confidences = append(combined.Confidences, conf)
	}

	return combined, nil
}

// CameraCount returns the length of the camera axis
func (c *CombinedArray) CameraCount() int {
	return len(c.CameraIDs)
}

// JointCount returns the number of joints tracked per camera (the widest row)
func (c *CombinedArray) JointCount() int {
	n := 0
	for _, row := range c.Points {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// Triangulated is the 3D output for one instant
type Triangulated struct {
	Instant    uint64    `json:"instant"`
	Points     []Point3D `json:"points"`
	CapturedAt int64     `json:"capturedAt"` // newest capture timestamp of the set
}
