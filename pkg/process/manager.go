// Package process handles OS signals and process liveness for a pipeline run
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ltrt/ltrt/pkg/logger"
)

// DefaultHeartbeatInterval is used when SetHeartbeat gets no interval
const DefaultHeartbeatInterval = 10 * time.Second

// Manager turns SIGINT, SIGTERM and SIGHUP into an orderly shutdown and
// runs a periodic heartbeat while the process lives
type Manager struct {
	logger            logger.Logger
	shutdownHandlers  []func()
	heartbeatFunc     func()
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	stopSignals       chan struct{}
	signals           []os.Signal
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
	shutdownOnce      sync.Once
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:  log,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP},
	}
}

// RegisterShutdownHandler adds a shutdown handler. Handlers run once, in
// reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// SetHeartbeat sets the heartbeat function and its interval
func (m *Manager) SetHeartbeat(fn func(), interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	m.heartbeatFunc = fn
	m.heartbeatInterval = interval
}

// Start watches for signals until ctx ends or Stop is called. The context
// controls the lifetime of the manager; its end also triggers the shutdown
// handlers.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopSignals = make(chan struct{})
	stop := m.stopSignals
	heartbeat := m.heartbeatFunc != nil
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, m.signals...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case <-ctx.Done():
			m.handleShutdown()
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig.String()))
			m.handleShutdown()
		case <-stop:
		}
	}()

	if heartbeat {
		m.startHeartbeat(ctx)
	}
}

// Stop releases the signal handlers and stops the heartbeat without running
// the shutdown handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	close(m.stopSignals)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Info("Initiating graceful shutdown...")

		m.mu.Lock()
		handlers := make([]func(), len(m.shutdownHandlers))
		copy(handlers, m.shutdownHandlers)
		m.mu.Unlock()

		for i := len(handlers) - 1; i >= 0; i-- {
			handlers[i]()
		}
	})
}

func (m *Manager) startHeartbeat(ctx context.Context) {
	m.mu.Lock()
	m.heartbeatStop = make(chan struct{})
	stop, fn, interval := m.heartbeatStop, m.heartbeatFunc, m.heartbeatInterval
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// IsAlive reports whether a process with pid exists
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Terminate asks pid to shut down with SIGTERM and kills it if it is still
// alive after grace
func Terminate(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return proc.Kill()
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if IsAlive(pid) {
		return proc.Kill()
	}
	return nil
}
