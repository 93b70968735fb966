// Package workers runs the engine's background jobs: the periodic sync pass
// with its connectivity-driven triggers, and the retention sweep. Each worker
// follows the same Start/Stop contract and owns one goroutine.
package workers

import "context"

// Worker is a background job with an idle-until-started lifecycle. Start
// launches the worker's goroutine; Stop cancels it and blocks until it has
// fully exited. Stop is safe to call on a worker that never started.
type Worker interface {
	Start(ctx context.Context)
	Stop()
}

// SyncRunner is the slice of the orchestrator the sync worker drives.
type SyncRunner interface {
	RunPass(ctx context.Context) error
	Kicks() <-chan struct{}
}

// Sweeper is the slice of the retention sweeper its worker drives.
type Sweeper interface {
	Sweep(ctx context.Context) error
}
