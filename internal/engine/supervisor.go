package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	lcontext "github.com/ltrt/ltrt/pkg/context"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/timeutil"
)

const (
	DefaultStartupGrace    = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// SupervisorConfig bounds the lifecycle phases
type SupervisorConfig struct {
	StartupGrace    time.Duration
	ShutdownTimeout time.Duration
}

// Supervisor owns the pipeline lifecycle:
// CREATED -> STARTING -> RUNNING -> STOPPING -> STOPPED.
//
// Any worker error or panic, stream exhaustion, stall escalation, parent
// context cancellation or an explicit Stop moves the pipeline to STOPPING.
// Shutdown cancels the shared context and joins every worker with a bounded
// deadline; stragglers are terminated and reported as leaked.
type Supervisor struct {
	cfg   SupervisorConfig
	log   logger.Logger
	clock timeutil.Clock

	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     State
	workers   []Worker
	handles   []*WorkerHandle
	observers []func(Transition)
	runID     string
	cause     error
	result    error
	cancel    context.CancelFunc

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a supervisor in the CREATED state
func NewSupervisor(cfg SupervisorConfig, log logger.Logger, clock timeutil.Clock) *Supervisor {
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = DefaultStartupGrace
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Supervisor{
		cfg:      cfg,
		log:      log.WithStage("supervisor"),
		clock:    clock,
		state:    StateCreated,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Add registers workers. Workers start in registration order, so register
// consumers before their producers.
func (s *Supervisor) Add(workers ...Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return ErrAlreadyStarted
	}
	s.workers = append(s.workers, workers...)
	return nil
}

// OnTransition registers an observer for every state change. Observers run
// synchronously, in order, and must not call back into the supervisor.
func (s *Supervisor) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunID returns the id assigned at Start
func (s *Supervisor) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Handles returns the started workers' handles
func (s *Supervisor) Handles() []*WorkerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkerHandle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Cause returns what moved the pipeline to STOPPING: nil for an explicit
// Stop, ErrStreamExhausted for end of stream, otherwise the failure
func (s *Supervisor) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Done is closed once the pipeline reaches STOPPED
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start launches every worker and waits until all of them report ready or
// the startup grace period elapses. It returns early if the pipeline starts
// stopping during startup.
func (s *Supervisor) Start(ctx context.Context) ([]*WorkerHandle, error) {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if len(s.workers) == 0 {
		s.mu.Unlock()
		return nil, errors.New("no workers registered")
	}
	ctx = lcontext.EnrichContext(ctx)
	s.runID = lcontext.GetRunID(ctx)
	workers := append([]Worker(nil), s.workers...)
	handles := make([]*WorkerHandle, 0, len(workers))
	for _, w := range workers {
		handles = append(handles, newWorkerHandle(w))
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.handles = handles
	s.mu.Unlock()

	s.transition(StateStarting, nil)

	group, gctx := NewSafeGroup(runCtx, s.log)

	for i, w := range workers {
		h, run := handles[i], w.Run
		group.GoNamed(w.Name, func() error {
			return run(gctx, h.markReady)
		}, func(err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("Worker exited with error",
					logger.WithField("worker", h.Name()),
					logger.WithError(err))
			}
			h.finish(err)
		})
	}

	// Wait cancels gctx once every worker has returned
	go func() { _ = group.Wait() }()
	go s.monitor(gctx)

	allReady := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.Ready()
		}
		close(allReady)
	}()

	grace := time.NewTimer(s.cfg.StartupGrace)
	defer grace.Stop()

	select {
	case <-allReady:
		s.log.Debug("All workers ready")
	case <-grace.C:
		s.log.Info("Startup grace period elapsed; running without every ready signal",
			logger.WithField("grace", s.cfg.StartupGrace.String()))
	case <-s.stopping:
		return handles, nil
	}

	s.transition(StateRunning, nil)
	return handles, nil
}

func (s *Supervisor) monitor(gctx context.Context) {
	select {
	case <-gctx.Done():
		cause := context.Cause(gctx)
		if errors.Is(cause, context.Canceled) {
			// Parent cancelled, or every worker returned cleanly
			cause = nil
		}
		s.beginStop(cause)
	case <-s.stopping:
	}
}

func (s *Supervisor) beginStop(cause error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(s.stopping)

		s.transition(StateStopping, cause)
		go s.shutdown()
	})
}

func (s *Supervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	handles, cancelRun, cause := s.handles, s.cancel, s.cause
	s.mu.Unlock()

	result := StopWorkers(ctx, cancelRun, handles, s.log)

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()

	fields := []logger.Field{logger.WithField("run_id", s.RunID())}
	switch {
	case cause == nil:
		fields = append(fields, logger.WithField("cause", "stop requested"))
	default:
		fields = append(fields, logger.WithField("cause", cause.Error()))
	}
	if result != nil {
		s.log.Error("Pipeline stopped with leaked workers", append(fields, logger.WithError(result))...)
	} else if IsCleanStop(cause) {
		s.log.Success("Pipeline stopped", fields...)
	} else {
		s.log.Error("Pipeline stopped after failure", fields...)
	}

	s.transition(StateStopped, cause)
	close(s.done)
}

// Stop requests shutdown and waits for STOPPED or ctx. It is idempotent:
// every call returns the same shutdown result (nil, or an error wrapping
// ErrWorkerLeak).
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.State() == StateCreated {
		return ErrNotStarted
	}

	s.beginStop(nil)

	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until STOPPED or ctx, then reports the run's failure: the
// cause unless it was a clean stop, joined with any leak error
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if !IsCleanStop(s.cause) {
		errs = append(errs, s.cause)
	}
	if s.result != nil {
		errs = append(errs, s.result)
	}
	return errors.Join(errs...)
}

func (s *Supervisor) transition(to State, cause error) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	observers := append([]func(Transition){}, s.observers...)
	t := Transition{RunID: s.runID, From: from, To: to, Cause: cause, At: s.clock.Now()}
	s.mu.Unlock()

	fields := []logger.Field{
		logger.WithField("from", from.String()),
		logger.WithField("to", to.String()),
	}
	if cause != nil {
		fields = append(fields, logger.WithField("cause", cause.Error()))
	}
	s.log.Debug("Pipeline state changed", fields...)

	for _, fn := range observers {
		fn(t)
	}
	return true
}
