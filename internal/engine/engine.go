// Package engine runs the multi-camera pipeline.
// This package consolidates the following functionality:
// - Frame synchronization across cameras (synchronizer.go, slots.go)
// - Per-camera tracking workers (tracking.go)
// - Result aggregation and triangulation (aggregator.go, core.go)
// - Worker lifecycle and shutdown (supervisor.go, handles.go, state.go)
package engine

// This file serves as the package documentation.
// The actual implementation is split across multiple files:
// - pipeline.go: Channel allocation and worker wiring
// - factory.go: Dependency injection factory
// - safegroup.go: Panic-safe concurrency utilities
// - errors.go: Sentinel errors shared by the stages
