package engine

import (
	"fmt"
	"time"
)

// State is a pipeline lifecycle state
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// validTransitions lists the forward edges of the lifecycle. STARTING may
// go straight to STOPPING when a worker fails during startup.
var validTransitions = map[State][]State{
	StateCreated:  {StateStarting},
	StateStarting: {StateRunning, StateStopping},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
}

// CanTransition reports whether from -> to is a lifecycle edge
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes one state change
type Transition struct {
	RunID string
	From  State
	To    State
	Cause error
	At    time.Time
}
