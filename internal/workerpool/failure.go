package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"telecine/internal/classify"
	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/queue"
)

// kindForCheckpoint returns the stage that resumes work from a checkpoint
// state. Terminal checkpoints have no successor.
func kindForCheckpoint(checkpoint queue.FileState) (queue.JobKind, bool) {
	switch checkpoint {
	case queue.FileDiscovered:
		return queue.JobCopy, true
	case queue.FileCopied:
		return queue.JobProcess, true
	case queue.FileProcessed:
		return queue.JobOrganize, true
	default:
		return "", false
	}
}

// retryKind returns the stage to requeue after a reset. Pipeline checkpoints
// map to their resuming stage; the post-completion analytics stages leave no
// checkpoint behind and retry as themselves.
func retryKind(checkpoint queue.FileState, kind queue.JobKind) (queue.JobKind, bool) {
	if next, ok := kindForCheckpoint(checkpoint); ok {
		return next, true
	}
	if checkpoint == queue.FileCompleted && kind.IsPostCompletion() {
		return kind, true
	}
	return "", false
}

// handleFailure implements retry-with-reset. Below the retry budget the file
// rolls back to its checkpoint and a fresh job carries the incremented retry
// counter; once the budget is exhausted the failure is classified and both
// job and file go to failed, pending recovery.
func (p *Pool) handleFailure(ctx context.Context, job *queue.Job, file *queue.File, cause error, logger *slog.Logger) {
	job.Retries++
	now := time.Now().UTC()
	job.State = queue.JobFailed
	job.IsCancellable = false
	job.CancellationRequested = false
	job.FinishedAt = &now
	if cause != nil {
		job.ErrorMessage = cause.Error()
	}

	if file == nil {
		if err := p.store.UpdateJob(ctx, job); err != nil {
			logger.Error("failed to record job failure", logging.Error(err))
		}
		return
	}

	if job.Retries >= job.MaxRetries {
		p.failPermanently(ctx, job, file, cause, logger)
		return
	}

	p.cleanupPartialWork(ctx, job.Kind, file, logger)

	checkpoint, err := p.store.CheckpointForFile(ctx, file)
	if err != nil {
		logger.Error("failed to resolve checkpoint", logging.Error(err))
		checkpoint = queue.FileDiscovered
	}
	file.State = checkpoint

	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventJobRequeued,
		Payload: fmt.Sprintf(`{"job_id":%d,"kind":%q,"retries":%d,"error":%q}`,
			job.ID, job.Kind, job.Retries, truncate(job.ErrorMessage, 200)),
	}
	if err := p.store.ApplyTransition(ctx, job, file, event); err != nil {
		logger.Error("failed to record retry reset", logging.Error(err))
		return
	}
	metrics.JobRetries.WithLabelValues(string(job.Kind)).Inc()

	nextKind, ok := retryKind(checkpoint, job.Kind)
	if !ok {
		return
	}
	successor, created, err := p.integrity.GetOrCreateJob(ctx, file.ID, nextKind, job.Priority)
	if err != nil {
		logger.Error("failed to create retry job", logging.Error(err))
		return
	}
	if created && successor.Retries < job.Retries {
		// Carry the retry counter forward so the budget spans attempts.
		successor.Retries = job.Retries
		if err := p.store.UpdateJob(ctx, successor); err != nil {
			logger.Error("failed to carry retry count forward", logging.Error(err))
		}
	}
	logger.Warn("stage failed, reset to checkpoint",
		logging.String("checkpoint", string(checkpoint)),
		logging.Int("retries", job.Retries),
		logging.Int("max_retries", job.MaxRetries),
		logging.Error(cause),
	)
}

// failPermanently classifies the exhausted failure and parks the file in the
// failed state for the recovery orchestrator.
func (p *Pool) failPermanently(ctx context.Context, job *queue.Job, file *queue.File, cause error, logger *slog.Logger) {
	category, message := classify.Classify(cause, job.Kind)

	var retryAfter *time.Time
	if delay, ok := classify.Backoff(category, 1); ok {
		at := time.Now().UTC().Add(delay)
		retryAfter = &at
	}
	file.SetFailed(category, job.Kind, message, retryAfter)

	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventFileFailed,
		Payload: fmt.Sprintf(`{"job_id":%d,"kind":%q,"category":%q,"hint":%q}`,
			job.ID, job.Kind, category, classify.RecoveryHint(category)),
	}
	if err := p.store.ApplyTransition(ctx, job, file, event); err != nil {
		logger.Error("failed to record permanent failure", logging.Error(err))
		return
	}
	metrics.JobsFailed.WithLabelValues(string(job.Kind), string(category)).Inc()
	logger.Error("retries exhausted, file failed",
		logging.String("category", string(category)),
		logging.String(logging.FieldEventType, queue.EventFileFailed),
		logging.String(logging.FieldErrorHint, classify.RecoveryHint(category)),
		logging.Error(cause),
	)
}

// handleCancellation absorbs a user cancellation: partial work is cleaned,
// the file returns to its checkpoint, the job fails with the cancellation
// message without consuming a retry, and the checkpoint's stage is requeued.
func (p *Pool) handleCancellation(ctx context.Context, job *queue.Job, file *queue.File, logger *slog.Logger) {
	p.cleanupPartialWork(ctx, job.Kind, file, logger)

	now := time.Now().UTC()
	job.State = queue.JobFailed
	job.ErrorMessage = queue.CancelledByUserMessage
	job.IsCancellable = false
	job.CancellationRequested = false
	job.FinishedAt = &now

	checkpoint, err := p.store.CheckpointForFile(ctx, file)
	if err != nil {
		logger.Error("failed to resolve checkpoint", logging.Error(err))
		checkpoint = queue.FileDiscovered
	}
	file.State = checkpoint

	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventJobCancelled,
		Payload:   fmt.Sprintf(`{"job_id":%d,"kind":%q}`, job.ID, job.Kind),
	}
	if err := p.store.ApplyTransition(ctx, job, file, event); err != nil {
		logger.Error("failed to record cancellation", logging.Error(err))
		return
	}
	metrics.JobsCancelled.WithLabelValues(string(job.Kind)).Inc()
	logger.Info("job cancelled by user", logging.String("checkpoint", string(checkpoint)))

	if nextKind, ok := retryKind(checkpoint, job.Kind); ok {
		if _, _, err := p.integrity.GetOrCreateJob(ctx, file.ID, nextKind, job.Priority); err != nil {
			logger.Error("failed to requeue after cancellation", logging.Error(err))
		}
	}
}

// cleanupPartialWork delegates to the stage handler's cleanup so partial
// downloads and temp directories never survive a reset.
func (p *Pool) cleanupPartialWork(ctx context.Context, kind queue.JobKind, file *queue.File, logger *slog.Logger) {
	handler, ok := p.handlers[kind]
	if !ok || file == nil {
		return
	}
	if err := handler.Cleanup(ctx, file); err != nil {
		logger.Warn("partial work cleanup failed", logging.Error(err))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
