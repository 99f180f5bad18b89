package calibration

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ltrt/ltrt/pkg/logger"
)

// DefaultDebounce collapses the burst of events editors produce on save
const DefaultDebounce = 500 * time.Millisecond

// ChangeType classifies a calibration file event
type ChangeType string

const (
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	ChangeError    ChangeType = "error"
)

// ChangeEvent reports that the calibration on disk no longer matches the
// one loaded at startup. Parsed is the new content when it parses.
type ChangeEvent struct {
	Path      string
	Type      ChangeType
	Timestamp time.Time
	Parsed    *Calibration
	Err       error
}

// ChangeCallback receives change events
type ChangeCallback func(ChangeEvent)

// Watcher reports calibration file changes during a run. The running
// pipeline keeps the calibration it started with; the watcher only tells
// the operator a restart is needed.
type Watcher struct {
	path     string
	log      logger.Logger
	debounce time.Duration
	callback ChangeCallback

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	pending  ChangeType
	done     chan struct{}
	watching bool
}

// NewWatcher creates a watcher for path. A nil callback logs a warning per change.
func NewWatcher(path string, log logger.Logger, callback ChangeCallback) *Watcher {
	w := &Watcher{
		path:     path,
		log:      log.WithStage("calibration"),
		debounce: DefaultDebounce,
		callback: callback,
	}
	if w.callback == nil {
		w.callback = w.warn
	}
	return w
}

// SetDebounce overrides the debounce period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching until ctx is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("already watching %s", w.path)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch calibration directory: %w", err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.watching = true

	go w.loop(ctx, fw, w.done)

	w.log.Debug("Watching calibration file", logger.WithField("path", w.path))
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return
	}
	w.watching = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fw, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if err := fw.Close(); err != nil {
		w.log.Warn("Error closing file watcher", logger.WithError(err))
	}
	<-done
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Calibration watcher panic recovered", logger.WithField("panic", r))
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			change := ChangeModified
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				change = ChangeRemoved
			}
			w.schedule(change)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.callback(ChangeEvent{Path: w.path, Type: ChangeError, Timestamp: time.Now(), Err: err})
		}
	}
}

func (w *Watcher) schedule(change ChangeType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return
	}
	// A rename-then-create save ends as a modification
	w.pending = change
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	change := w.pending
	watching := w.watching
	w.mu.Unlock()
	if !watching {
		return
	}

	event := ChangeEvent{Path: w.path, Type: change, Timestamp: time.Now()}
	if change == ChangeModified {
		event.Parsed, event.Err = Load(w.path)
	}
	w.callback(event)
}

func (w *Watcher) warn(event ChangeEvent) {
	fields := []logger.Field{
		logger.WithField("path", event.Path),
		logger.WithField("change", event.Type),
	}
	if event.Err != nil {
		fields = append(fields, logger.WithError(event.Err))
	}
	w.log.Warn("Calibration changed on disk; restart the pipeline to apply it", fields...)
}
