// Package state provides persistent run state for ltrt pipelines
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/process"
)

const (
	// DefaultHeartbeatInterval is how often a running pipeline refreshes its
	// state file
	DefaultHeartbeatInterval = 10 * time.Second

	// StaleAfter is the heartbeat age after which a run is considered dead
	StaleAfter = 30 * time.Second
)

// ErrNoRuns is returned by Latest when the state directory holds no runs
var ErrNoRuns = errors.New("no recorded runs")

// RunState is the persistent state of one pipeline run
type RunState struct {
	RunID        string           `json:"runId"`
	State        string           `json:"state"`
	Cause        string           `json:"cause,omitempty"`
	Cameras      []int            `json:"cameras"`
	TargetFPS    float64          `json:"targetFps"`
	ConfigPath   string           `json:"configPath,omitempty"`
	RecordingDir string           `json:"recordingDir,omitempty"`
	ProcessID    int              `json:"processId"`
	StartedAt    time.Time        `json:"startedAt"`
	StoppedAt    *time.Time       `json:"stoppedAt,omitempty"`
	Heartbeat    time.Time        `json:"heartbeat"`
	Counters     map[string]int64 `json:"counters,omitempty"`
}

// IsActive reports whether the run's process is alive and still beating
func (s *RunState) IsActive() bool {
	if s.ProcessID == 0 || s.StoppedAt != nil {
		return false
	}
	if time.Since(s.Heartbeat) > StaleAfter {
		return false
	}
	return process.IsAlive(s.ProcessID)
}

// StateManager handles persistent state files, one JSON file per run
type StateManager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	states         map[string]*RunState
	counters       func() map[string]int64
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStateManager creates a new state manager writing into stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithError(err))
	}

	return &StateManager{
		stateDir: stateDir,
		logger:   log,
		states:   make(map[string]*RunState),
	}
}

// Dir returns the state directory
func (sm *StateManager) Dir() string { return sm.stateDir }

// SetCounterSource makes every heartbeat snapshot the given counters
func (sm *StateManager) SetCounterSource(fn func() map[string]int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.counters = fn
}

// InitializeState records a new run owned by this process
func (sm *StateManager) InitializeState(initial RunState) (*RunState, error) {
	if initial.RunID == "" {
		return nil, errors.New("run state needs a run id")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	state := initial
	state.ProcessID = os.Getpid()
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}
	state.Heartbeat = time.Now()

	if err := sm.saveStateFile(&state); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[state.RunID] = &state
	return &state, nil
}

// ReadState reads the state for a run
func (sm *StateManager) ReadState(runID string) (*RunState, error) {
	sm.mu.RLock()
	if state, ok := sm.states[runID]; ok {
		copied := *state
		sm.mu.RUnlock()
		return &copied, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(runID)
}

// UpdateState applies fn to the run's state and persists it
func (sm *StateManager) UpdateState(runID string, fn func(*RunState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[runID]
	if !ok {
		var err error
		state, err = sm.loadStateFile(runID)
		if err != nil {
			return fmt.Errorf("run state not found: %s", runID)
		}
		sm.states[runID] = state
	}

	fn(state)
	state.Heartbeat = time.Now()
	return sm.saveStateFile(state)
}

// RecordTransition stores a lifecycle state change
func (sm *StateManager) RecordTransition(runID, to string, cause error) error {
	return sm.UpdateState(runID, func(s *RunState) {
		s.State = to
		if cause != nil {
			s.Cause = cause.Error()
		}
	})
}

// MarkStopped records the terminal state of a run
func (sm *StateManager) MarkStopped(runID string, cause error) error {
	return sm.UpdateState(runID, func(s *RunState) {
		now := time.Now()
		s.StoppedAt = &now
		if cause != nil {
			s.Cause = cause.Error()
		}
		if sm.counters != nil {
			s.Counters = sm.counters()
		}
	})
}

// RemoveState removes the state for a run
func (sm *StateManager) RemoveState(runID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, runID)

	if err := os.Remove(sm.getStateFilePath(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// DiscoverStates loads every state file in the directory
func (sm *StateManager) DiscoverStates() (map[string]*RunState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[string]*RunState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		runID := strings.TrimSuffix(file.Name(), ".json")
		state, err := sm.loadStateFile(runID)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("run_id", runID),
				logger.WithError(err))
			continue
		}
		states[runID] = state
	}

	return states, nil
}

// Latest returns the most recently started run
func (sm *StateManager) Latest() (*RunState, error) {
	states, err := sm.DiscoverStates()
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, ErrNoRuns
	}

	all := make([]*RunState, 0, len(states))
	for _, s := range states {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return all[0], nil
}

// StartHeartbeat refreshes every owned state file each interval until ctx
// ends or StopHeartbeat is called
func (sm *StateManager) StartHeartbeat(ctx context.Context, interval time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	sm.heartbeatStop = stop
	sm.heartbeatTimer = ticker

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (sm *StateManager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}
	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup stops the heartbeat and releases ownership of every run
func (sm *StateManager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, state := range sm.states {
		state.ProcessID = 0
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("run_id", state.RunID),
				logger.WithError(err))
		}
	}
	return nil
}

func (sm *StateManager) getStateFilePath(runID string) string {
	return filepath.Join(sm.stateDir, runID+".json")
}

func (sm *StateManager) loadStateFile(runID string) (*RunState, error) {
	data, err := os.ReadFile(sm.getStateFilePath(runID))
	if err != nil {
		return nil, err
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

func (sm *StateManager) saveStateFile(state *RunState) error {
	stateFile := sm.getStateFilePath(state.RunID)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (sm *StateManager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	var counters map[string]int64
	if sm.counters != nil {
		counters = sm.counters()
	}
	for _, state := range sm.states {
		state.Heartbeat = now
		if counters != nil {
			state.Counters = counters
		}
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("run_id", state.RunID),
				logger.WithError(err))
		}
	}
}
