package recovery

import (
	"context"
	"fmt"
	"time"

	"telecine/internal/classify"
	"telecine/internal/logging"
	"telecine/internal/queue"
)

// Status is the read-only aggregate snapshot of the failed population.
type Status struct {
	AwaitingFTP     int
	AwaitingBackoff int
	Unrecoverable   int
	ReadyToRetry    int
	ActiveJobs      int
	FTPConnected    bool
}

// Snapshot computes the current recovery status without mutating anything.
func (o *Orchestrator) Snapshot(ctx context.Context) (Status, error) {
	failed, err := o.store.FailedFilesOldestFirst(ctx)
	if err != nil {
		return Status{}, err
	}
	active, err := o.store.ActiveJobCountAbovePriority(ctx, queue.PriorityRecovery)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		ActiveJobs:   active,
		FTPConnected: o.probe.Connected(ctx),
	}
	now := time.Now().UTC()
	for _, file := range failed {
		category := file.FailureCategory
		if category == "" {
			category = queue.FailureUnknown
		}
		switch {
		case classify.IsUnrecoverable(category):
			status.Unrecoverable++
		case file.RetryAfter != nil && file.RetryAfter.After(now):
			status.AwaitingBackoff++
		case classify.RequiresFTP(category) && !status.FTPConnected:
			status.AwaitingFTP++
		default:
			status.ReadyToRetry++
		}
	}
	return status, nil
}

// maybeBroadcastStatus appends a rate-limited status event for external
// observers. Read-only with respect to files and jobs.
func (o *Orchestrator) maybeBroadcastStatus(ctx context.Context) {
	if !o.statusLimiter.Allow() {
		return
	}
	status, err := o.Snapshot(ctx)
	if err != nil {
		o.logger.Warn("recovery status snapshot failed", logging.Error(err))
		return
	}
	if status.AwaitingFTP == 0 && status.AwaitingBackoff == 0 &&
		status.Unrecoverable == 0 && status.ReadyToRetry == 0 {
		return
	}
	payload := fmt.Sprintf(
		`{"awaiting_ftp":%d,"awaiting_backoff":%d,"unrecoverable":%d,"ready":%d,"active_jobs":%d,"ftp_connected":%t}`,
		status.AwaitingFTP, status.AwaitingBackoff, status.Unrecoverable,
		status.ReadyToRetry, status.ActiveJobs, status.FTPConnected,
	)
	if err := o.store.AppendEvent(ctx, 0, queue.EventRecoveryStatus, payload); err != nil {
		o.logger.Warn("recovery status broadcast failed", logging.Error(err))
	}
}
