package notifications_test

import (
	"context"
	"testing"

	"telecine/internal/logging"
	"telecine/internal/notifications"
	"telecine/internal/queue"
	"telecine/internal/testsupport"
)

type recordingService struct {
	completed []string
	failed    []string
	skipped   []string
	recovered []string
	statuses  int
}

func (r *recordingService) NotifyFileCompleted(_ context.Context, filename, _ string) error {
	r.completed = append(r.completed, filename)
	return nil
}

func (r *recordingService) NotifyFileFailed(_ context.Context, filename, category, _ string) error {
	r.failed = append(r.failed, filename+":"+category)
	return nil
}

func (r *recordingService) NotifyFileSkipped(_ context.Context, filename string) error {
	r.skipped = append(r.skipped, filename)
	return nil
}

func (r *recordingService) NotifyRecoveryQueued(_ context.Context, filename, category string, attempt int) error {
	r.recovered = append(r.recovered, filename)
	return nil
}

func (r *recordingService) NotifyRecoveryStatus(context.Context, int, int, int, int) error {
	r.statuses++
	return nil
}

func (r *recordingService) TestNotification(context.Context) error { return nil }

func TestDrainDispatchesSignificantEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.Failures = true
	cfg.Notifications.Completions = true
	cfg.Notifications.Recovery = true
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	ctx := context.Background()
	events := []struct {
		eventType string
		payload   string
	}{
		{queue.EventStageStarted, ""},
		{queue.EventFileCompleted, `{"job_id":1,"kind":"organize"}`},
		{queue.EventFileFailed, `{"job_id":2,"kind":"copy","category":"ftp_auth","hint":"Check FTP credentials"}`},
		{queue.EventRecoveryQueued, `{"category":"ftp_connection","attempt":1,"checkpoint":"discovered","kind":"copy"}`},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, file.ID, ev.eventType, ev.payload); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := store.AppendEvent(ctx, 0, queue.EventRecoveryStatus, `{"awaiting_ftp":1,"ready":2}`); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	svc := &recordingService{}
	notifier := notifications.NewNotifier(cfg, store, svc, logging.NewNop())
	if err := notifier.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(svc.completed) != 1 || svc.completed[0] != "clip.mov" {
		t.Fatalf("unexpected completions: %v", svc.completed)
	}
	if len(svc.failed) != 1 || svc.failed[0] != "clip.mov:ftp_auth" {
		t.Fatalf("unexpected failures: %v", svc.failed)
	}
	if len(svc.recovered) != 1 {
		t.Fatalf("unexpected recovery notifications: %v", svc.recovered)
	}
	if svc.statuses != 1 {
		t.Fatalf("expected one status broadcast, got %d", svc.statuses)
	}

	// A second drain must not redeliver.
	if err := notifier.Drain(ctx); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
	if len(svc.completed) != 1 || len(svc.failed) != 1 {
		t.Fatal("drain redelivered events")
	}
}

func TestDrainSkipsEventsForClearedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.Completions = true
	cfg.Notifications.Failures = true
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	// Events whose file row was cleared between the append and the drain,
	// the way queue clear races a slow poll cycle.
	ctx := context.Background()
	missingID := file.ID + 100
	if err := store.AppendEvent(ctx, missingID, queue.EventFileCompleted, ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AppendEvent(ctx, missingID, queue.EventFileFailed, `{"category":"unknown"}`); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AppendEvent(ctx, file.ID, queue.EventFileCompleted, ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	svc := &recordingService{}
	notifier := notifications.NewNotifier(cfg, store, svc, logging.NewNop())
	if err := notifier.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(svc.failed) != 0 {
		t.Fatalf("cleared file must not be announced, got %v", svc.failed)
	}
	// The drain keeps going past the orphaned events.
	if len(svc.completed) != 1 || svc.completed[0] != "clip.mov" {
		t.Fatalf("expected the surviving file's notification, got %v", svc.completed)
	}
}

func TestDrainHonorsCategoryFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.Failures = true
	cfg.Notifications.Completions = false
	cfg.Notifications.Recovery = false
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	ctx := context.Background()
	if err := store.AppendEvent(ctx, file.ID, queue.EventFileCompleted, ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AppendEvent(ctx, file.ID, queue.EventFileFailed, `{"category":"unknown"}`); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	svc := &recordingService{}
	notifier := notifications.NewNotifier(cfg, store, svc, logging.NewNop())
	if err := notifier.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(svc.completed) != 0 {
		t.Fatalf("completions disabled, got %v", svc.completed)
	}
	if len(svc.failed) != 1 {
		t.Fatalf("expected failure notification, got %v", svc.failed)
	}
}
