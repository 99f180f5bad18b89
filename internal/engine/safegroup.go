package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/ltrt/ltrt/pkg/logger"
)

// SafeGroup wraps errgroup.Group with panic recovery so a crashing worker
// becomes an error that cancels its siblings instead of taking the process
// down.
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a new SafeGroup with panic recovery. The returned
// context is cancelled, with the error as its cause, when any function fails.
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &SafeGroup{
		group:  g,
		logger: log,
	}, ctx
}

// Go runs fn in a new goroutine with panic recovery
func (sg *SafeGroup) Go(fn func() error) {
	sg.GoNamed("", fn, nil)
}

// GoNamed runs fn like Go and calls done with its final error, panics
// included, before the group sees it
func (sg *SafeGroup) GoNamed(name string, fn func() error, done func(error)) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("worker", name),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("worker %q panic: %v", name, r)
			}
			if done != nil {
				done(err)
			}
		}()

		return fn()
	})
}

// Wait blocks until all goroutines have completed and returns the first error
func (sg *SafeGroup) Wait() (err error) {
	defer func() {
		if r := recover(); r != nil {
			sg.logger.Error("Panic during SafeGroup.Wait()",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			err = fmt.Errorf("wait panic: %v", r)
		}
	}()

	return sg.group.Wait()
}
