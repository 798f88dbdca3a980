// Package recovery is the only component that looks at the failed file
// population as a whole and decides when it is safe and useful to retry,
// without letting old failures block fresh arrivals or vice versa.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"telecine/internal/classify"
	"telecine/internal/config"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/queue"
)

// ConnectivityProbe reports whether the remote source is reachable.
type ConnectivityProbe interface {
	Connected(ctx context.Context) bool
}

// Orchestrator owns the recovery poll loop.
type Orchestrator struct {
	cfg       *config.Config
	store     *queue.Store
	integrity *integrity.Service
	probe     ConnectivityProbe
	logger    *slog.Logger

	statusLimiter *rate.Limiter

	// validatePath is swapped in tests.
	validatePath func(path string) bool
}

// NewOrchestrator constructs the recovery loop.
func NewOrchestrator(cfg *config.Config, store *queue.Store, svc *integrity.Service, probe ConnectivityProbe, logger *slog.Logger) *Orchestrator {
	statusInterval := time.Duration(cfg.Recovery.StatusInterval) * time.Second
	if statusInterval <= 0 {
		statusInterval = 5 * time.Minute
	}
	return &Orchestrator{
		cfg:           cfg,
		store:         store,
		integrity:     svc,
		probe:         probe,
		logger:        logging.NewComponentLogger(logger, "recovery"),
		statusLimiter: rate.NewLimiter(rate.Every(statusInterval), 1),
		validatePath:  pathWritable,
	}
}

// Run polls until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.cfg.Recovery.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := time.Duration(o.cfg.Recovery.PollInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn("recovery cycle failed", logging.Error(err))
			}
		}
	}
}

// Cycle runs one recovery pass. Exported so tests and the CLI health check
// can drive it directly.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	o.maybeBroadcastStatus(ctx)

	// Session-awareness: any active work above the recovery tier means the
	// pipeline is busy with fresh arrivals; defer wholesale.
	active, err := o.store.ActiveJobCountAbovePriority(ctx, queue.PriorityRecovery)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}

	failed, err := o.store.FailedFilesOldestFirst(ctx)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}

	activeKinds, err := o.store.ActiveKinds(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, file := range failed {
		if err := ctx.Err(); err != nil {
			return err
		}
		admitted, err := o.consider(ctx, file, activeKinds, now)
		if err != nil {
			o.logger.Warn("recovery admission failed",
				logging.Int64(logging.FieldFileID, file.ID),
				logging.Error(err),
			)
			continue
		}
		if admitted {
			// Requeued work makes its kind active for the rest of the cycle.
			activeKinds[classify.RequiredJobKind(file.FailureCategory)] = true
		}
	}
	return nil
}

// consider applies the admission gates to one failed file and requeues it
// when all pass.
func (o *Orchestrator) consider(ctx context.Context, file *queue.File, activeKinds map[queue.JobKind]bool, now time.Time) (bool, error) {
	category := file.FailureCategory
	if category == "" {
		category = queue.FailureUnknown
	}
	if classify.IsUnrecoverable(category) {
		return false, nil
	}
	if file.RetryAfter != nil && file.RetryAfter.After(now) {
		return false, nil
	}
	// Stage-awareness: only wait for the worker kind that will redo the
	// failed work, not the whole pipeline.
	requiredKind := classify.RequiredJobKind(category)
	if activeKinds[requiredKind] {
		return false, nil
	}
	if classify.RequiresFTP(category) && !o.probe.Connected(ctx) {
		return false, nil
	}
	if classify.RequiresPathValidation(category) && !o.validatePath(o.destinationFor(file)) {
		return false, nil
	}
	return true, o.requeue(ctx, file, category)
}

// requeue performs the admission side effects: bump the cumulative attempt
// counter, push the backoff deadline out using the new count, reset the file
// to its checkpoint, and create the recovery-tier job.
func (o *Orchestrator) requeue(ctx context.Context, file *queue.File, category queue.FailureCategory) error {
	checkpoint, err := o.store.CheckpointForFile(ctx, file)
	if err != nil {
		return err
	}

	file.RecoveryAttempts++
	if delay, ok := classify.Backoff(category, file.RecoveryAttempts); ok {
		next := time.Now().UTC().Add(delay)
		file.RetryAfter = &next
	}
	file.State = checkpoint
	file.ErrorMessage = ""

	nextKind, ok := kindForCheckpoint(checkpoint)
	if !ok && checkpoint == queue.FileCompleted && file.FailureJobKind.IsPostCompletion() && o.analyticsEnabled(file.FailureJobKind) {
		// A completed checkpoint with a failed analytics stage means the
		// pipeline work is durable but the transcript or analysis is not;
		// retry that stage instead of declaring victory.
		nextKind = file.FailureJobKind
		ok = true
	}
	if !ok {
		// The file already holds durable work for every stage; mark it
		// completed instead of retrying.
		file.State = queue.FileCompleted
		file.ClearFailureTracking()
		return o.store.ApplyTransition(ctx, nil, file, &queue.Event{
			FileID:    file.ID,
			EventType: queue.EventFileCompleted,
			Payload:   `{"source":"recovery"}`,
		})
	}

	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventRecoveryQueued,
		Payload: fmt.Sprintf(`{"category":%q,"attempt":%d,"checkpoint":%q,"kind":%q}`,
			category, file.RecoveryAttempts, checkpoint, nextKind),
	}
	if err := o.store.ApplyTransition(ctx, nil, file, event); err != nil {
		return err
	}
	if _, _, err := o.integrity.GetOrCreateJob(ctx, file.ID, nextKind, queue.PriorityRecovery); err != nil {
		return err
	}
	if err := o.integrity.CleanupFailedJobHistory(ctx, file.ID); err != nil {
		o.logger.Warn("failed job history cleanup failed",
			logging.Int64(logging.FieldFileID, file.ID),
			logging.Error(err),
		)
	}
	metrics.RecoveryRequeues.WithLabelValues(string(category)).Inc()
	o.logger.Info("requeued failed file",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("category", string(category)),
		logging.Int("attempt", file.RecoveryAttempts),
		logging.String("checkpoint", string(checkpoint)),
	)
	return nil
}

// analyticsEnabled gates analytics requeues on their config switches so a
// disabled stage can never hold a recovery-tier job open forever.
func (o *Orchestrator) analyticsEnabled(kind queue.JobKind) bool {
	switch kind {
	case queue.JobTranscribe:
		return o.cfg.Transcription.Enabled
	case queue.JobAnalyze:
		return o.cfg.Analysis.Enabled
	default:
		return false
	}
}

func (o *Orchestrator) destinationFor(file *queue.File) string {
	if file.FinalPath != "" {
		return filepath.Dir(file.FinalPath)
	}
	return o.cfg.Paths.LibraryDir
}

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

func pathWritable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(path, ".telecine-write-check")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	_ = os.Remove(probe)
	return true
}
