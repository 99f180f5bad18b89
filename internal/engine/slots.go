package engine

import (
	"fmt"
	"time"

	"github.com/ltrt/ltrt/pkg/types"
)

// EvictionReason records why a pending frame was discarded
type EvictionReason int

const (
	// EvictionStale: the frame was older than the newest frame of the set by
	// more than the cutoff
	EvictionStale EvictionReason = iota + 1

	// EvictionMissingFrame: another camera delivered an empty capture, so the
	// whole instant was dropped
	EvictionMissingFrame
)

func (r EvictionReason) String() string {
	switch r {
	case EvictionStale:
		return "stale"
	case EvictionMissingFrame:
		return "missing_frame"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Eviction describes one discarded frame
type Eviction struct {
	Camera types.CameraID
	Frame  *types.RawFrame
	Reason EvictionReason
	Lag    time.Duration // distance behind the newest frame, for stale evictions
}

// SlotMap is the pending frame set: one slot per known camera. It is owned
// by a single goroutine and does no locking.
type SlotMap struct {
	cameras []types.CameraID
	index   map[types.CameraID]int
	slots   []*types.RawFrame
	filled  int
}

// NewSlotMap creates an empty slot map for the given cameras
func NewSlotMap(cameras []types.CameraID) *SlotMap {
	ordered := types.SortCameraIDs(cameras)
	m := &SlotMap{
		cameras: ordered,
		index:   make(map[types.CameraID]int, len(ordered)),
		slots:   make([]*types.RawFrame, len(ordered)),
	}
	for i, id := range ordered {
		m.index[id] = i
	}
	return m
}

// Cameras returns the cameras in canonical order
func (m *SlotMap) Cameras() []types.CameraID {
	out := make([]types.CameraID, len(m.cameras))
	copy(out, m.cameras)
	return out
}

// Fill stores frame in its camera's slot. An occupied slot is never
// overwritten.
func (m *SlotMap) Fill(frame *types.RawFrame) error {
	i, ok := m.index[frame.CameraID]
	if !ok {
		return fmt.Errorf("%s: %w", frame.CameraID, ErrUnknownCamera)
	}
	if m.slots[i] != nil {
		return fmt.Errorf("%s: %w", frame.CameraID, ErrSlotOccupied)
	}
	m.slots[i] = frame
	m.filled++
	return nil
}

// IsFilled reports whether the camera's slot holds a frame
func (m *SlotMap) IsFilled(id types.CameraID) bool {
	i, ok := m.index[id]
	return ok && m.slots[i] != nil
}

// Empty lists cameras whose slot is empty, in canonical order
func (m *SlotMap) Empty() []types.CameraID {
	out := make([]types.CameraID, 0, len(m.cameras)-m.filled)
	for i, f := range m.slots {
		if f == nil {
			out = append(out, m.cameras[i])
		}
	}
	return out
}

// Len returns the number of filled slots
func (m *SlotMap) Len() int { return m.filled }

// IsComplete reports whether every slot is filled
func (m *SlotMap) IsComplete() bool { return m.filled == len(m.slots) }

// Bounds returns the oldest and newest capture timestamps among filled slots
func (m *SlotMap) Bounds() (minTS, maxTS int64, ok bool) {
	for _, f := range m.slots {
		if f == nil {
			continue
		}
		if !ok {
			minTS, maxTS, ok = f.CaptureTimestamp, f.CaptureTimestamp, true
			continue
		}
		if f.CaptureTimestamp < minTS {
			minTS = f.CaptureTimestamp
		}
		if f.CaptureTimestamp > maxTS {
			maxTS = f.CaptureTimestamp
		}
	}
	return minTS, maxTS, ok
}

// EvictStale clears every slot whose frame is older than the newest frame
// by more than cutoff. A lag exactly equal to cutoff is kept.
func (m *SlotMap) EvictStale(cutoff time.Duration) []Eviction {
	_, maxTS, ok := m.Bounds()
	if !ok {
		return nil
	}

	threshold := maxTS - int64(cutoff)
	var evicted []Eviction
	for i, f := range m.slots {
		if f == nil || f.CaptureTimestamp >= threshold {
			continue
		}
		evicted = append(evicted, Eviction{
			Camera: m.cameras[i],
			Frame:  f,
			Reason: EvictionStale,
			Lag:    time.Duration(maxTS - f.CaptureTimestamp),
		})
		m.slots[i] = nil
		m.filled--
	}
	return evicted
}

// Clear empties every slot, reporting each held frame with reason
func (m *SlotMap) Clear(reason EvictionReason) []Eviction {
	var evicted []Eviction
	for i, f := range m.slots {
		if f == nil {
			continue
		}
		evicted = append(evicted, Eviction{Camera: m.cameras[i], Frame: f, Reason: reason})
		m.slots[i] = nil
	}
	m.filled = 0
	return evicted
}

// EvictThrough clears every slot whose frame was captured at or before ts
func (m *SlotMap) EvictThrough(ts int64, reason EvictionReason) []Eviction {
	var evicted []Eviction
	for i, f := range m.slots {
		if f == nil || f.CaptureTimestamp > ts {
			continue
		}
		evicted = append(evicted, Eviction{Camera: m.cameras[i], Frame: f, Reason: reason})
		m.slots[i] = nil
		m.filled--
	}
	return evicted
}

// Take snapshots a complete slot map into an aligned set and clears it.
// It panics if the map is not complete.
func (m *SlotMap) Take(instant uint64) *types.AlignedFrameSet {
	if !m.IsComplete() {
		panic("engine: Take on incomplete slot map")
	}

	minTS, maxTS, _ := m.Bounds()
	set := &types.AlignedFrameSet{
		Instant:      instant,
		Frames:       make([]*types.RawFrame, len(m.slots)),
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
	}
	copy(set.Frames, m.slots)

	for i := range m.slots {
		m.slots[i] = nil
	}
	m.filled = 0
	return set
}
