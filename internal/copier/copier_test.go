package copier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/testsupport"
)

type stubTransfer struct {
	payload []byte
	sizeErr error
	retrErr error
}

func (s *stubTransfer) Size(context.Context, string) (int64, error) {
	if s.sizeErr != nil {
		return 0, s.sizeErr
	}
	return int64(len(s.payload)), nil
}

func (s *stubTransfer) Retrieve(_ context.Context, _ string, _ int64, w io.Writer, onChunk func(int64) error) error {
	if s.retrErr != nil {
		return s.retrErr
	}
	if _, err := w.Write(s.payload); err != nil {
		return err
	}
	if onChunk != nil {
		return onChunk(int64(len(s.payload)))
	}
	return nil
}

func noProgress(float64, string) error { return nil }

func TestExecuteCopiesAndVerifies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	payload := bytes.Repeat([]byte("x"), 4096)
	copier := NewCopier(cfg, store, &stubTransfer{payload: payload}, logging.NewNop())

	ctx := context.Background()
	if err := copier.Prepare(ctx, file); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := copier.Execute(ctx, file, noProgress); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if file.LocalPath == "" {
		t.Fatal("expected local path recorded")
	}
	info, err := os.Stat(file.LocalPath)
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Fatalf("staged size %d, expected %d", info.Size(), len(payload))
	}
	if file.Checksum == "" {
		t.Fatal("expected checksum recorded")
	}
	if entries, _ := filepath.Glob(filepath.Join(cfg.Paths.StagingDir, "*.partial")); len(entries) != 0 {
		t.Fatalf("partial files left behind: %v", entries)
	}
}

func TestExecuteSkipsEmptyPlaceholder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "empty.mov", "/incoming/empty.mov")

	copier := NewCopier(cfg, store, &stubTransfer{payload: nil}, logging.NewNop())
	ctx := context.Background()
	if err := copier.Prepare(ctx, file); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := copier.Execute(ctx, file, noProgress); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	stored, err := store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if stored.State != queue.FileSkipped || !stored.IsEmpty {
		t.Fatalf("expected skipped empty file, got state=%s empty=%v", stored.State, stored.IsEmpty)
	}
}

func TestExecutePropagatesTransferErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	transferErr := services.Wrap(services.ErrFTPTransfer, "ftp", "retrieve", "/incoming/clip.mov", errors.New("broken pipe"))
	copier := NewCopier(cfg, store, &stubTransfer{payload: []byte("data"), retrErr: transferErr}, logging.NewNop())

	ctx := context.Background()
	if err := copier.Prepare(ctx, file); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	err := copier.Execute(ctx, file, noProgress)
	if !errors.Is(err, services.ErrFTPTransfer) {
		t.Fatalf("expected transfer marker, got %v", err)
	}
	if entries, _ := filepath.Glob(filepath.Join(cfg.Paths.StagingDir, "*")); len(entries) != 0 {
		t.Fatalf("failed transfer must leave no files, got %v", entries)
	}
}

func TestCleanupRemovesPartials(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "session")
	file := testsupport.NewFile(t, store, session.ID, "clip.mov", "/incoming/clip.mov")

	copier := NewCopier(cfg, store, &stubTransfer{}, logging.NewNop())
	target := copier.stagingPath(file)
	testsupport.WriteFile(t, target+".partial", 128)
	testsupport.WriteFile(t, target, 128)
	file.LocalPath = target

	if err := copier.Cleanup(context.Background(), file); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	for _, path := range []string{target + ".partial", target} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", path)
		}
	}
	if file.LocalPath != "" {
		t.Fatal("cleanup must clear the local path")
	}

	// Idempotent on an already-clean file.
	if err := copier.Cleanup(context.Background(), file); err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
}
