// Package context carries run-scoped tracing values through the pipeline
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey int

// Context keys for run tracing
const (
	runIDKey contextKey = iota
	stageKey
	instantKey
	startTimeKey
)

// UnknownRunID is returned when no run id is attached
const UnknownRunID = "unknown-run"

// WithRunID adds a run ID to the context, generating one when empty
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return UnknownRunID
}

// WithStage adds a stage name to the context
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the stage name from context, or ""
func GetStage(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok {
		return s
	}
	return ""
}

// WithInstant adds the synchronized instant being processed
func WithInstant(parent context.Context, instant uint64) context.Context {
	return context.WithValue(parent, instantKey, instant)
}

// GetInstant retrieves the instant from context
func GetInstant(ctx context.Context) (uint64, bool) {
	v, ok := ctx.Value(instantKey).(uint64)
	return v, ok
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration returns the time elapsed since the start time, or 0 if unset
func GetDuration(ctx context.Context) time.Duration {
	start, ok := GetStartTime(ctx)
	if !ok {
		return 0
	}
	return time.Since(start)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// EnrichContext attaches a run ID (if missing) and the start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent
	if GetRunID(ctx) == UnknownRunID {
		ctx = WithRunID(ctx, "")
	}
	return WithStartTime(ctx, time.Now())
}
