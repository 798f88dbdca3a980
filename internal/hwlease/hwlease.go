// Package hwlease serializes access to the shared hardware accelerator used
// by the transcription and analysis stages. At most one holder exists at a
// time; once shutdown begins, waiters abandon the attempt instead of
// acquiring.
package hwlease

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrShuttingDown is returned when a lease is requested after shutdown began.
var ErrShuttingDown = errors.New("hardware lease: shutting down")

// Lease is a process-wide mutual exclusion handle over the accelerator.
type Lease struct {
	slot     chan struct{}
	shutdown atomic.Bool
}

// New constructs an unheld lease.
func New() *Lease {
	l := &Lease{slot: make(chan struct{}, 1)}
	l.slot <- struct{}{}
	return l
}

// Acquire blocks until the lease is free, the context is cancelled, or
// shutdown begins. The shutdown flag is checked both before and after the
// wait so a lease granted during shutdown is released immediately.
func (l *Lease) Acquire(ctx context.Context) error {
	if l.shutdown.Load() {
		return ErrShuttingDown
	}
	select {
	case <-l.slot:
	case <-ctx.Done():
		return ctx.Err()
	}
	if l.shutdown.Load() {
		l.Release()
		return ErrShuttingDown
	}
	return nil
}

// TryAcquire takes the lease if it is immediately free.
func (l *Lease) TryAcquire() bool {
	if l.shutdown.Load() {
		return false
	}
	select {
	case <-l.slot:
		return true
	default:
		return false
	}
}

// Release returns the lease. Must only be called by the current holder.
func (l *Lease) Release() {
	select {
	case l.slot <- struct{}{}:
	default:
	}
}

// Shutdown flips the shutdown flag; current holders finish normally, waiters
// and future callers get ErrShuttingDown.
func (l *Lease) Shutdown() {
	l.shutdown.Store(true)
}
