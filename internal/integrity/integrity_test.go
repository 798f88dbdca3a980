package integrity_test

import (
	"context"
	"testing"

	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/testsupport"
)

func newFixture(t *testing.T) (*integrity.Service, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return integrity.NewService(cfg, store, logging.NewNop()), store
}

func claimRunningJob(t *testing.T, svc *integrity.Service, store *queue.Store, fileID int64, kind queue.JobKind, workerID string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	job, _, err := svc.GetOrCreateJob(ctx, fileID, kind, queue.PriorityNormal)
	if err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}
	claimed, err := svc.ClaimJob(ctx, job, workerID)
	if err != nil || !claimed {
		t.Fatalf("ClaimJob: claimed=%v err=%v", claimed, err)
	}
	job, err = store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func TestStartupRecoveryRequeuesRunningJobs(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	job := claimRunningJob(t, svc, store, file.ID, queue.JobCopy, "worker-a")

	// Simulate the crash leaving the file mid-copy.
	file.State = queue.FileCopying
	if err := store.UpdateFile(ctx, file); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	reclaimed, err := svc.StartupRecovery(ctx)
	if err != nil {
		t.Fatalf("StartupRecovery: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	requeued, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if requeued.State != queue.JobQueued {
		t.Fatalf("expected queued job, got %s", requeued.State)
	}
	if requeued.WorkerID != "" || requeued.LastHeartbeat != nil {
		t.Fatal("reclaimed job must shed worker identity and heartbeat")
	}
	if requeued.Retries != 1 {
		t.Fatalf("zombie reclaim must count as a retry, got %d", requeued.Retries)
	}

	updated, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if updated.State != queue.FileDiscovered {
		t.Fatalf("expected checkpoint rollback to discovered, got %s", updated.State)
	}

	// Nothing left running, so a second pass is a no-op.
	reclaimed, err = svc.StartupRecovery(ctx)
	if err != nil {
		t.Fatalf("second StartupRecovery: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected idempotent recovery, got %d", reclaimed)
	}
}

func TestReclaimCapsRetriesAtBudget(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	job := claimRunningJob(t, svc, store, file.ID, queue.JobCopy, "worker-a")
	job.Retries = job.MaxRetries
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if _, err := svc.StartupRecovery(ctx); err != nil {
		t.Fatalf("StartupRecovery: %v", err)
	}

	requeued, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if requeued.Retries != requeued.MaxRetries {
		t.Fatalf("retries must cap at the budget, got %d/%d", requeued.Retries, requeued.MaxRetries)
	}
}

func TestPrepareForShutdownOnlyTouchesOwnJobs(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()
	session := testsupport.NewSession(t, store, "session")
	mine := testsupport.NewFile(t, store, session.ID, "mine.mov", "/incoming/mine.mov")
	theirs := testsupport.NewFile(t, store, session.ID, "theirs.mov", "/incoming/theirs.mov")

	myJob := claimRunningJob(t, svc, store, mine.ID, queue.JobCopy, "worker-a")
	otherJob := claimRunningJob(t, svc, store, theirs.ID, queue.JobCopy, "worker-b")

	if err := svc.PrepareForShutdown(ctx, "worker-a"); err != nil {
		t.Fatalf("PrepareForShutdown: %v", err)
	}

	requeued, err := store.GetJob(ctx, myJob.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if requeued.State != queue.JobQueued {
		t.Fatalf("own job must be requeued, got %s", requeued.State)
	}

	untouched, err := store.GetJob(ctx, otherJob.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if untouched.State != queue.JobRunning || untouched.WorkerID != "worker-b" {
		t.Fatalf("other worker's job must stay running, got %s/%s", untouched.State, untouched.WorkerID)
	}
}

func TestGetOrCreateJobAppliesRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(7))
	store := testsupport.MustOpenStore(t, cfg)
	svc := integrity.NewService(cfg, store, logging.NewNop())
	ctx := context.Background()
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	job, created, err := svc.GetOrCreateJob(ctx, file.ID, queue.JobCopy, queue.PriorityNormal)
	if err != nil {
		t.Fatalf("GetOrCreateJob: %v", err)
	}
	if !created {
		t.Fatal("expected job creation")
	}
	if job.MaxRetries != 7 {
		t.Fatalf("expected configured budget 7, got %d", job.MaxRetries)
	}
}
