package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/testsupport"
)

type stubProbe struct {
	connected bool
}

func (p *stubProbe) Connected(context.Context) bool { return p.connected }

func newOrchestrator(t *testing.T, probe *stubProbe) (*Orchestrator, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc := integrity.NewService(cfg, store, logging.NewNop())
	o := NewOrchestrator(cfg, store, svc, probe, logging.NewNop())
	o.validatePath = func(string) bool { return true }
	return o, store
}

func failFile(t *testing.T, store *queue.Store, remotePath string, category queue.FailureCategory, retryAfter *time.Time) *queue.File {
	t.Helper()
	ctx := context.Background()
	session, err := store.GetOrCreateSession(ctx, "session", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", remotePath)
	file.SetFailed(category, queue.JobCopy, "boom", retryAfter)
	if err := store.UpdateFile(ctx, file); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	return file
}

func TestCycleSkipsUnrecoverable(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()
	file := failFile(t, store, "/incoming/clip.mov", queue.FailureFTPAuth, nil)

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	after, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if after.State != queue.FileFailed || after.RecoveryAttempts != 0 {
		t.Fatalf("unrecoverable file must stay failed untouched, got %s attempts=%d", after.State, after.RecoveryAttempts)
	}
}

func TestCycleHonorsBackoff(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)
	file := failFile(t, store, "/incoming/clip.mov", queue.FailureProcessingError, &future)

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	after, _ := store.GetFile(ctx, file.ID)
	if after.State != queue.FileFailed {
		t.Fatalf("file inside backoff must stay failed, got %s", after.State)
	}
}

func TestCycleRequiresFTPForConnectionFailures(t *testing.T) {
	probe := &stubProbe{connected: false}
	o, store := newOrchestrator(t, probe)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	file := failFile(t, store, "/incoming/clip.mov", queue.FailureFTPConnection, &past)

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if after, _ := store.GetFile(ctx, file.ID); after.State != queue.FileFailed {
		t.Fatalf("disconnected probe must block requeue, got %s", after.State)
	}

	probe.connected = true
	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	after, _ := store.GetFile(ctx, file.ID)
	if after.State != queue.FileDiscovered {
		t.Fatalf("expected reset to checkpoint, got %s", after.State)
	}
	if after.RecoveryAttempts != 1 {
		t.Fatalf("expected attempt counter 1, got %d", after.RecoveryAttempts)
	}
	if after.RetryAfter == nil || !after.RetryAfter.After(time.Now().UTC()) {
		t.Fatal("expected a fresh backoff deadline")
	}

	job, err := store.NextQueuedJob(ctx, queue.JobCopy)
	if err != nil {
		t.Fatalf("NextQueuedJob: %v", err)
	}
	if job == nil || job.Priority != queue.PriorityRecovery {
		t.Fatalf("expected recovery-tier job, got %#v", job)
	}
}

func TestCycleFirstAttemptUsesBaseBackoff(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	file := failFile(t, store, "/incoming/clip.mov", queue.FailureFTPConnection, &past)

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	after, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if after.RecoveryAttempts != 1 {
		t.Fatalf("expected attempt counter 1, got %d", after.RecoveryAttempts)
	}
	if after.RetryAfter == nil {
		t.Fatal("expected a backoff deadline")
	}
	// The first attempt waits the category's base delay (30s for FTP
	// connection failures), not the doubled second step.
	delay := time.Until(*after.RetryAfter)
	if delay <= 0 || delay > 45*time.Second {
		t.Fatalf("first attempt must use the base backoff, got %s", delay)
	}
}

func TestCycleRequeuesFailedTranscription(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	o.cfg.Transcription.Enabled = true
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "session", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")
	file.FinalPath = filepath.Join(o.cfg.Paths.LibraryDir, "clip.mov")

	// The pipeline ran through organize, then transcription exhausted its
	// retries.
	organize, _, err := store.GetOrCreateJob(ctx, file.ID, queue.JobOrganize, queue.PriorityNormal, 3)
	if err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}
	done := time.Now().UTC()
	organize.State = queue.JobDone
	organize.FinishedAt = &done
	if err := store.UpdateJob(ctx, organize); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	file.SetFailed(queue.FailureProcessingError, queue.JobTranscribe, "whisper: exit status 1", &past)
	if err := store.UpdateFile(ctx, file); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	after, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if after.State != queue.FileCompleted {
		t.Fatalf("pipeline work is durable, expected completed state, got %s", after.State)
	}
	if after.RecoveryAttempts != 1 {
		t.Fatalf("expected attempt counter 1, got %d", after.RecoveryAttempts)
	}

	job, err := store.NextQueuedJob(ctx, queue.JobTranscribe)
	if err != nil {
		t.Fatalf("NextQueuedJob: %v", err)
	}
	if job == nil || job.Priority != queue.PriorityRecovery {
		t.Fatalf("expected recovery-tier transcribe job, got %#v", job)
	}
}

func TestCycleCompletesFailedTranscriptionWhenDisabled(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	o.cfg.Transcription.Enabled = false
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "session", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")
	organize, _, err := store.GetOrCreateJob(ctx, file.ID, queue.JobOrganize, queue.PriorityNormal, 3)
	if err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}
	done := time.Now().UTC()
	organize.State = queue.JobDone
	organize.FinishedAt = &done
	if err := store.UpdateJob(ctx, organize); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	file.SetFailed(queue.FailureProcessingError, queue.JobTranscribe, "whisper: exit status 1", &past)
	if err := store.UpdateFile(ctx, file); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	after, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if after.State != queue.FileCompleted {
		t.Fatalf("disabled stage must settle on completed, got %s", after.State)
	}
	if after.FailureCategory != "" || after.RetryAfter != nil {
		t.Fatalf("failure tracking must be cleared, got %+v", after)
	}

	job, err := store.NextQueuedJob(ctx, queue.JobTranscribe)
	if err != nil {
		t.Fatalf("NextQueuedJob: %v", err)
	}
	if job != nil {
		t.Fatal("disabled transcription must not be requeued")
	}
}

func TestCycleDefersToActiveSession(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	failed := failFile(t, store, "/incoming/failed.mov", queue.FailureProcessingError, &past)

	// Fresh work above the recovery tier blocks the whole cycle.
	session, _ := store.GetOrCreateSession(ctx, "fresh", time.Now().UTC())
	fresh := testsupport.NewFile(t, store, session.ID, "fresh.mov", "/incoming/fresh.mov")
	if _, _, err := store.GetOrCreateJob(ctx, fresh.ID, queue.JobCopy, queue.PriorityNormal, 3); err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if after, _ := store.GetFile(ctx, failed.ID); after.State != queue.FileFailed {
		t.Fatalf("active session must defer recovery, got %s", after.State)
	}
}

func TestCycleStageAwareGating(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	// A process failure is gated only by active process jobs. Use a
	// recovery-tier process job so the session gate stays open.
	failed := failFile(t, store, "/incoming/failed.mov", queue.FailureProcessingError, &past)
	session, _ := store.GetOrCreateSession(ctx, "other", time.Now().UTC())
	other := testsupport.NewFile(t, store, session.ID, "other.mov", "/incoming/other.mov")
	if _, _, err := store.GetOrCreateJob(ctx, other.ID, queue.JobProcess, queue.PriorityRecovery, 3); err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if after, _ := store.GetFile(ctx, failed.ID); after.State != queue.FileFailed {
		t.Fatalf("active process kind must gate process failures, got %s", after.State)
	}

	// An FTP failure does not wait on the process worker.
	ftpFailed := failFile(t, store, "/incoming/ftp.mov", queue.FailureFTPConnection, &past)
	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if after, _ := store.GetFile(ctx, ftpFailed.ID); after.State != queue.FileDiscovered {
		t.Fatalf("ftp failure must not gate on process worker, got %s", after.State)
	}
}

func TestCycleProcessesOldestFailureFirst(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: true})
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)
	first := failFile(t, store, "/incoming/old.mov", queue.FailureProcessingError, nil)
	second := failFile(t, store, "/incoming/new.mov", queue.FailureProcessingError, nil)
	first.FailedAt = &old
	second.FailedAt = &recent
	for _, f := range []*queue.File{first, second} {
		if err := store.UpdateFile(ctx, f); err != nil {
			t.Fatalf("UpdateFile: %v", err)
		}
	}

	if err := o.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	// Only the oldest is admitted; its kind becomes active and gates the
	// second within the same cycle.
	afterFirst, _ := store.GetFile(ctx, first.ID)
	afterSecond, _ := store.GetFile(ctx, second.ID)
	if afterFirst.State == queue.FileFailed {
		t.Fatal("oldest failure must be admitted first")
	}
	if afterSecond.State != queue.FileFailed {
		t.Fatal("same-kind failures must wait for the next cycle")
	}
}

func TestSnapshotCountsPopulation(t *testing.T) {
	o, store := newOrchestrator(t, &stubProbe{connected: false})
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	past := time.Now().UTC().Add(-time.Minute)
	failFile(t, store, "/incoming/a.mov", queue.FailureFTPAuth, nil)
	failFile(t, store, "/incoming/b.mov", queue.FailureProcessingError, &future)
	failFile(t, store, "/incoming/c.mov", queue.FailureFTPConnection, &past)
	failFile(t, store, "/incoming/d.mov", queue.FailureStoragePath, &past)

	status, err := o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if status.Unrecoverable != 1 || status.AwaitingBackoff != 1 || status.AwaitingFTP != 1 || status.ReadyToRetry != 1 {
		t.Fatalf("unexpected snapshot: %+v", status)
	}
	if status.FTPConnected {
		t.Fatal("probe reports disconnected")
	}
}
