package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/stage"
)

func (p *Pool) runJob(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	handler := p.handlers[job.Kind]
	jobLogger := logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldFileID, job.FileID),
	)

	file, err := p.store.GetFile(ctx, job.FileID)
	if err != nil || file == nil {
		jobLogger.Error("failed to load file for claimed job", logging.Error(err))
		p.handleFailure(ctx, job, file, fmt.Errorf("load file %d: %w", job.FileID, err), jobLogger)
		return
	}

	if err := p.markStageStarted(ctx, job, file); err != nil {
		jobLogger.Error("failed to record stage start", logging.Error(err))
		p.handleFailure(ctx, job, file, err, jobLogger)
		return
	}

	if err := handler.Prepare(ctx, file); err != nil {
		p.handleFailure(ctx, job, file, err, jobLogger)
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go p.integrity.HeartbeatLoop(heartbeatCtx, &heartbeatWG, job.ID)

	started := time.Now()
	execErr := handler.Execute(ctx, file, p.progressFunc(ctx, job))
	stopHeartbeat()
	heartbeatWG.Wait()
	metrics.StageDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(started).Seconds())

	// Re-read both rows: progress persistence and cancellation polling may
	// have advanced them while the handler ran.
	if fresh, readErr := p.store.GetJob(ctx, job.ID); readErr == nil && fresh != nil {
		job = fresh
	}
	if fresh, readErr := p.store.GetFile(ctx, file.ID); readErr == nil && fresh != nil {
		file = fresh
	}

	switch {
	case execErr == nil:
		p.finishJob(ctx, job, file, jobLogger)
	case services.IsCancelled(execErr):
		p.handleCancellation(ctx, job, file, jobLogger)
	default:
		p.handleFailure(ctx, job, file, execErr, jobLogger)
	}
}

// markStageStarted moves the file into the stage's in-progress state and
// records the transition. Post-completion stages leave the file state alone.
func (p *Pool) markStageStarted(ctx context.Context, job *queue.Job, file *queue.File) error {
	inProgress := job.Kind.InProgressState()
	var fileUpdate *queue.File
	if inProgress.IsInProgress() && file.State != inProgress {
		file.State = inProgress
		fileUpdate = file
	}
	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventStageStarted,
		Payload:   fmt.Sprintf(`{"job_id":%d,"kind":%q}`, job.ID, job.Kind),
	}
	return p.store.ApplyTransition(ctx, nil, fileUpdate, event)
}

// progressFunc builds the hook handlers call at a bounded cadence. It
// persists progress, refreshes the heartbeat, and polls for cancellation;
// persistence is rate-limited so tight handler loops cannot flood SQLite.
func (p *Pool) progressFunc(ctx context.Context, job *queue.Job) stage.ProgressFunc {
	interval := time.Duration(p.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	return func(percent float64, stageName string) error {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, string(job.Kind), "progress", "daemon shutting down", err)
		}
		if !limiter.Allow() {
			return nil
		}
		fresh, err := p.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil
		}
		if fresh != nil && fresh.CancellationRequested {
			return services.Wrap(services.ErrCancelled, string(job.Kind), "progress", queue.CancelledByUserMessage, nil)
		}
		if err := p.store.UpdateJobProgress(ctx, job.ID, percent, stageName); err != nil {
			// Progress persistence is best-effort; the heartbeat toucher
			// retries on its own cadence.
			return nil
		}
		return nil
	}
}

// finishJob records a successful stage and chains the next one.
func (p *Pool) finishJob(ctx context.Context, job *queue.Job, file *queue.File, logger *slog.Logger) {
	now := time.Now().UTC()
	job.State = queue.JobDone
	job.ProgressPercent = 100
	job.IsCancellable = false
	job.CancellationRequested = false
	job.FinishedAt = &now

	doneState := job.Kind.DoneState()
	eventType := queue.EventStageCompleted
	if doneState == queue.FileCompleted && file.State != queue.FileCompleted {
		eventType = queue.EventFileCompleted
	}
	if file.State != doneState && file.State != queue.FileSkipped {
		file.State = doneState
	}
	if doneState == queue.FileCompleted {
		file.ClearFailureTracking()
	}

	event := &queue.Event{
		FileID:    file.ID,
		EventType: eventType,
		Payload:   fmt.Sprintf(`{"job_id":%d,"kind":%q}`, job.ID, job.Kind),
	}
	if err := p.store.ApplyTransition(ctx, job, file, event); err != nil {
		logger.Error("failed to record stage completion", logging.Error(err))
		return
	}
	metrics.JobsCompleted.WithLabelValues(string(job.Kind)).Inc()
	logger.Info("stage completed", logging.String(logging.FieldEventType, eventType))

	p.chainNext(ctx, job, file, logger)
}

// chainNext enqueues the successor stage, honoring the optional-stage
// configuration. Chained jobs inherit the finished job's priority; the
// post-completion analytics stages run at the background tier.
func (p *Pool) chainNext(ctx context.Context, job *queue.Job, file *queue.File, logger *slog.Logger) {
	if file.State == queue.FileSkipped {
		return
	}
	next, ok := job.Kind.Next()
	if !ok {
		return
	}
	priority := job.Priority
	switch next {
	case queue.JobTranscribe:
		if !p.cfg.Transcription.Enabled {
			return
		}
		priority = queue.PriorityBackgroundAnalysis
	case queue.JobAnalyze:
		if !p.cfg.Analysis.Enabled {
			return
		}
		priority = queue.PriorityBackgroundAnalysis
	}
	if _, _, err := p.integrity.GetOrCreateJob(ctx, file.ID, next, priority); err != nil {
		logger.Error("failed to enqueue next stage",
			logging.String("next_kind", string(next)),
			logging.Error(err),
		)
	}
}
