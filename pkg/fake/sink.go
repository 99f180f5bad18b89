package fake

import (
	"context"
	"sync"

	"github.com/ltrt/ltrt/pkg/types"
)

// CollectingSink keeps every triangulated result in memory
type CollectingSink struct {
	mu      sync.Mutex
	results []*types.Triangulated
	closed  bool
}

// Write implements interfaces.OutputSink
func (s *CollectingSink) Write(_ context.Context, result *types.Triangulated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// Close implements interfaces.OutputSink
func (s *CollectingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns a copy of everything written so far
func (s *CollectingSink) Results() []*types.Triangulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Triangulated(nil), s.results...)
}

// Closed reports whether Close was called
func (s *CollectingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
