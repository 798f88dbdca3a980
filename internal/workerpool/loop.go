package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"telecine/internal/logging"
	"telecine/internal/queue"
)

func (p *Pool) runLoop(ctx context.Context, kind queue.JobKind) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldJobKind, string(kind)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := p.pollOnce(ctx, kind, logger)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Framework-internal failures must never kill the loop. Log and
			// back off briefly.
			logger.Error("worker loop iteration failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "worker_loop_error"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.sleep(ctx, p.errorInterval)
			continue
		}
		if !worked {
			p.sleep(ctx, p.pollInterval)
		}
	}
}

// pollOnce claims and runs at most one job. Returns whether work was done.
func (p *Pool) pollOnce(ctx context.Context, kind queue.JobKind, logger *slog.Logger) (bool, error) {
	paused, err := p.store.IsPaused(ctx, kind)
	if err != nil {
		return false, err
	}
	if paused {
		return false, nil
	}

	job, err := p.store.NextQueuedJob(ctx, kind)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if p.stopping.Load() {
		return false, nil
	}
	claimed, err := p.integrity.ClaimJob(ctx, job, p.workerID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another worker won the claim; loop immediately for the next job.
		return true, nil
	}

	job, err = p.store.GetJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.runJob(ctx, job, logger)
	return true, nil
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
