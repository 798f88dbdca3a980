package testsupport

import (
	"context"
	"testing"
	"time"

	"telecine/internal/config"
	"telecine/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates a session for tests using the provided store.
func NewSession(t testing.TB, store *queue.Store, name string) *queue.Session {
	t.Helper()

	session, err := store.GetOrCreateSession(context.Background(), name, time.Now().UTC())
	if err != nil {
		t.Fatalf("store.GetOrCreateSession: %v", err)
	}
	return session
}

// NewFile inserts a discovered file for tests using the provided store.
func NewFile(t testing.TB, store *queue.Store, sessionID int64, filename, remotePath string) *queue.File {
	t.Helper()

	file, err := store.NewFile(context.Background(), &queue.File{
		SessionID:  sessionID,
		Filename:   filename,
		RemotePath: remotePath,
	})
	if err != nil {
		t.Fatalf("store.NewFile: %v", err)
	}
	return file
}
