package hwlease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireIsExclusive(t *testing.T) {
	lease := New()
	ctx := context.Background()

	if err := lease.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if lease.TryAcquire() {
		t.Fatal("held lease must not be acquirable")
	}

	lease.Release()
	if !lease.TryAcquire() {
		t.Fatal("released lease must be acquirable")
	}
	lease.Release()
}

func TestAcquireRespectsContext(t *testing.T) {
	lease := New()
	if err := lease.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lease.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	lease.Release()
}

func TestShutdownBlocksWaiters(t *testing.T) {
	lease := New()
	lease.Shutdown()
	if err := lease.Acquire(context.Background()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if lease.TryAcquire() {
		t.Fatal("shutdown lease must refuse TryAcquire")
	}

	// A waiter blocked when shutdown flips must abandon the attempt even if
	// the slot frees up.
	lease = New()
	if err := lease.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- lease.Acquire(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	lease.Shutdown()
	lease.Release()
	if err := <-done; !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected waiter to abandon on shutdown, got %v", err)
	}
}
