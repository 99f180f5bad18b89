package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ltrt/ltrt/pkg/logger"
)

// Worker is one long-running pipeline goroutine. Run must return once ctx
// is cancelled and should call ready once it can accept work. Terminate,
// when set, force-releases whatever the worker blocks on (for example a
// remote connection) if it misses the shutdown deadline.
type Worker struct {
	Name      string
	Run       func(ctx context.Context, ready func()) error
	Terminate func()
}

// WorkerHandle tracks one started worker
type WorkerHandle struct {
	name      string
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	termOnce  sync.Once
	terminate func()

	mu  sync.Mutex
	err error
}

func newWorkerHandle(w Worker) *WorkerHandle {
	return &WorkerHandle{
		name:      w.Name,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		terminate: w.Terminate,
	}
}

// Name returns the worker name
func (h *WorkerHandle) Name() string { return h.name }

// Done is closed when the worker has returned
func (h *WorkerHandle) Done() <-chan struct{} { return h.done }

// Ready is closed when the worker reported ready (or exited)
func (h *WorkerHandle) Ready() <-chan struct{} { return h.ready }

// Exited reports whether the worker has returned
func (h *WorkerHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the worker's exit error, valid once Done is closed
func (h *WorkerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Terminate runs the worker's terminate hook, at most once
func (h *WorkerHandle) Terminate() {
	if h.terminate == nil {
		return
	}
	h.termOnce.Do(h.terminate)
}

func (h *WorkerHandle) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *WorkerHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.markReady()
	close(h.done)
}

// StopWorkers cancels the shared context and joins every handle until ctx
// expires. Workers still running at the deadline get their Terminate hook
// and are reported as leaked; the returned error then wraps ErrWorkerLeak.
func StopWorkers(ctx context.Context, cancel context.CancelFunc, handles []*WorkerHandle, log logger.Logger) error {
	if cancel != nil {
		cancel()
	}

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
		}
	}

	var leaked []string
	for _, h := range handles {
		if h.Exited() {
			continue
		}
		leaked = append(leaked, h.Name())
		log.Error("Worker did not exit before shutdown deadline; terminating",
			logger.WithField("worker", h.Name()))
		h.Terminate()
	}

	if len(leaked) > 0 {
		return fmt.Errorf("%d worker(s) leaked [%s]: %w", len(leaked), strings.Join(leaked, ", "), ErrWorkerLeak)
	}
	return nil
}
