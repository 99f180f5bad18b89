package engine

import (
	"context"
	"errors"
)

var (
	// ErrStreamExhausted means a producer signalled end of stream. It ends a
	// run without being a failure.
	ErrStreamExhausted = errors.New("frame stream exhausted")

	// ErrProducerStalled means a camera produced nothing for longer than the
	// stall threshold
	ErrProducerStalled = errors.New("producer stalled")

	// ErrIncompletePayload means a producer delivered an empty capture for an
	// instant; the instant is discarded
	ErrIncompletePayload = errors.New("incomplete multi-camera payload")

	// ErrProtocolViolation marks a tracking result that cannot belong to any
	// open instant (late, duplicate, or from an unknown camera)
	ErrProtocolViolation = errors.New("tracking protocol violation")

	// ErrBackpressure means the aggregator already holds the maximum number
	// of open instants
	ErrBackpressure = errors.New("aggregator at in-flight limit")

	// ErrIncompleteCombined means a combined array would not span every camera
	ErrIncompleteCombined = errors.New("combined array does not cover every camera")

	// ErrWorkerLeak means a worker did not exit before the shutdown deadline
	ErrWorkerLeak = errors.New("worker did not exit before shutdown deadline")

	// ErrStageExited means a downstream stage closed its output while the
	// core still expected results from it
	ErrStageExited = errors.New("pipeline stage exited")

	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrNotStarted     = errors.New("pipeline not started")
	ErrSlotOccupied   = errors.New("slot already holds a frame")
	ErrUnknownCamera  = errors.New("unknown camera")
)

// IsCleanStop reports whether err ends a run without indicating a failure
func IsCleanStop(err error) bool {
	return err == nil ||
		errors.Is(err, ErrStreamExhausted) ||
		errors.Is(err, context.Canceled)
}
