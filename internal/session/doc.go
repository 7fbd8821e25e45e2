// Package session orchestrates the lifecycle of one model handle:
// artifact acquisition, load, parameter push, generation and unload.
// It is structured into small files by concern:
//
//   - session.go: Session type, constructor, Snapshot, Close, worker.
//   - types.go: State and Kind, Snapshot.
//   - errors.go: error types and helpers (IsBusy, IsInvalidState, IsEngineError).
//   - events.go: Event, EventPublisher, MemoryPublisher, Broadcaster.
//   - operation.go: Operation handles returned by every accepted call.
//   - ops.go: AcquireArtifact/Open, Load, ApplyParameters, Generate, Unload.
//   - metrics.go: Prometheus collectors.
//
// Concurrency model: the public API never blocks on native work. An
// accepted call marks the session busy, hands the native call to a single
// worker goroutine locked to its OS thread, and returns an *Operation.
// Overlapping calls are rejected with a busy error rather than queued, so
// the engine sees fetch, load, parameters/generate and free strictly in
// issue order. Events and progress are delivered on the consumption
// Executor, never on the worker.
package session
