package stage

import (
	"context"

	"telecine/internal/queue"
)

// ProgressFunc is the hook a handler calls at a bounded cadence while doing
// long work. It persists progress, refreshes the job heartbeat, and polls for
// cancellation. It returns services.ErrCancelled once a cancellation request
// has been absorbed; the handler must stop immediately and return that error.
type ProgressFunc func(percent float64, stage string) error

// Handler describes the contract the worker pool needs from each pipeline
// stage. Execute does the work; the framework owns claiming, state
// transitions, retry, and cleanup ordering.
type Handler interface {
	Kind() queue.JobKind
	Prepare(context.Context, *queue.File) error
	Execute(context.Context, *queue.File, ProgressFunc) error
	// Cleanup removes partial work after a failure or cancellation so the
	// file can resume from its checkpoint. Must be idempotent.
	Cleanup(context.Context, *queue.File) error
	HealthCheck(context.Context) Health
}
