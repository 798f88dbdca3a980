// Package integrity guarantees the job queue never contains orphaned or
// duplicate work: zombie reclamation at startup and via the watchdog,
// idempotent job creation, optimistic claiming, and graceful shutdown resets.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/queue"
)

// Service wraps the queue store with the invariants described above. All
// worker loops create and claim jobs exclusively through it.
type Service struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger

	heartbeatTimeout time.Duration
	watchdogInterval time.Duration
}

// NewService constructs the integrity service.
func NewService(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Service {
	return &Service{
		store:            store,
		cfg:              cfg,
		logger:           logging.NewComponentLogger(logger, "integrity"),
		heartbeatTimeout: time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		watchdogInterval: time.Duration(cfg.Workflow.WatchdogInterval) * time.Second,
	}
}

// GetOrCreateJob delegates to the store's idempotent chokepoint, applying the
// configured retry budget.
func (s *Service) GetOrCreateJob(ctx context.Context, fileID int64, kind queue.JobKind, priority int) (*queue.Job, bool, error) {
	job, created, err := s.store.GetOrCreateJob(ctx, fileID, kind, priority, s.cfg.Workflow.MaxRetries)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("job created",
			logging.Int64(logging.FieldFileID, fileID),
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobKind, string(kind)),
			logging.Int("priority", priority),
		)
		metrics.JobsCreated.WithLabelValues(string(kind)).Inc()
	}
	return job, created, nil
}

// ClaimJob attempts the optimistic queued-to-running transition, resolving
// the file checkpoint so a crash during execution can roll back cleanly.
func (s *Service) ClaimJob(ctx context.Context, job *queue.Job, workerID string) (bool, error) {
	if job == nil {
		return false, errors.New("job is nil")
	}
	file, err := s.store.GetFile(ctx, job.FileID)
	if err != nil {
		return false, err
	}
	if file == nil {
		return false, fmt.Errorf("job %d references missing file %d", job.ID, job.FileID)
	}
	checkpoint, err := s.store.CheckpointForFile(ctx, file)
	if err != nil {
		return false, err
	}
	return s.store.ClaimJob(ctx, job.ID, workerID, checkpoint)
}

// StartupRecovery reclaims every running job found at boot. The process just
// started, so none of them can be legitimately running. Must complete before
// any worker loop claims work.
func (s *Service) StartupRecovery(ctx context.Context) (int, error) {
	jobs, err := s.store.RunningJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	reclaimed := 0
	for _, job := range jobs {
		if err := s.reclaimZombie(ctx, job, "startup"); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	if reclaimed > 0 {
		s.logger.Info("startup recovery reclaimed zombie jobs", logging.Int("count", reclaimed))
	}
	return reclaimed, nil
}

// RunWatchdog polls for running jobs with stale or missing heartbeats and
// reclaims them like startup recovery. Blocks until the context is cancelled.
func (s *Service) RunWatchdog(ctx context.Context) error {
	if s.watchdogInterval <= 0 || s.heartbeatTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.reclaimStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("watchdog reclaim failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "watchdog_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}

func (s *Service) reclaimStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.heartbeatTimeout)
	jobs, err := s.store.StaleRunningJobs(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.reclaimZombie(ctx, job, "watchdog"); err != nil {
			return err
		}
	}
	return nil
}

// PrepareForShutdown resets running jobs owned by this worker instance back
// to queued so the next boot does not wait out the watchdog timeout.
func (s *Service) PrepareForShutdown(ctx context.Context, workerID string) error {
	jobs, err := s.store.RunningJobsForWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("list running jobs for worker: %w", err)
	}
	for _, job := range jobs {
		if err := s.reclaimZombie(ctx, job, "shutdown"); err != nil {
			return err
		}
	}
	return nil
}

// reclaimZombie requeues a job that was running when its worker died: job
// back to queued with the retry counter bumped (capped at max), heartbeat
// and worker identity cleared, file reset to its checkpoint. Idempotent by
// construction since a reclaimed job is no longer running.
func (s *Service) reclaimZombie(ctx context.Context, job *queue.Job, source string) error {
	file, err := s.store.GetFile(ctx, job.FileID)
	if err != nil {
		return err
	}

	job.State = queue.JobQueued
	if job.Retries < job.MaxRetries {
		job.Retries++
	}
	job.LastHeartbeat = nil
	job.WorkerID = ""
	job.IsCancellable = false
	job.CancellationRequested = false
	job.ProgressPercent = 0
	job.ProgressStage = ""
	job.StartedAt = nil

	var fileUpdate *queue.File
	if file != nil {
		checkpoint, cpErr := s.store.CheckpointForFile(ctx, file)
		if cpErr != nil {
			return cpErr
		}
		if file.State != checkpoint {
			file.State = checkpoint
			fileUpdate = file
		}
	}

	event := &queue.Event{
		FileID:    job.FileID,
		EventType: queue.EventZombieReclaim,
		Payload:   fmt.Sprintf(`{"job_id":%d,"kind":%q,"source":%q}`, job.ID, job.Kind, source),
	}
	if err := s.store.ApplyTransition(ctx, job, fileUpdate, event); err != nil {
		return fmt.Errorf("reclaim job %d: %w", job.ID, err)
	}
	s.logger.Info("reclaimed zombie job",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldFileID, job.FileID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
		logging.String("source", source),
	)
	metrics.ZombiesReclaimed.Inc()
	return nil
}

// CleanupFailedJobHistory prunes old failed job rows for a file beyond the
// configured retention count.
func (s *Service) CleanupFailedJobHistory(ctx context.Context, fileID int64) error {
	keep := s.cfg.Workflow.FailedJobHistory
	pruned, err := s.store.PruneFailedJobs(ctx, fileID, keep)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Debug("pruned failed job history",
			logging.Int64(logging.FieldFileID, fileID),
			logging.Int64("pruned", pruned),
		)
	}
	return nil
}

// HeartbeatLoop refreshes a running job's heartbeat until the context is
// cancelled. Run as a goroutine alongside stage execution.
func (s *Service) HeartbeatLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	interval := time.Duration(s.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.TouchJobHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Warn("heartbeat update failed",
					logging.Int64(logging.FieldJobID, jobID),
					logging.Error(err),
				)
			}
		}
	}
}
