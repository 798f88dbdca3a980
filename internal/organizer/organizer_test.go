package organizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/testsupport"
)

func noProgress(float64, string) error { return nil }

func TestExecuteMovesIntoLibrary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.NewSession(t, store, "friday_night_show")
	file := testsupport.NewFile(t, store, session.ID, "program.mov", "/incoming/program.mov")

	processed := filepath.Join(cfg.Paths.StagingDir, "processed-program.mov")
	testsupport.WriteFile(t, processed, 2048)
	file.ProcessedPath = processed

	org := NewOrganizer(cfg, store, logging.NewNop())
	ctx := context.Background()
	if err := org.Prepare(ctx, file); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := org.Execute(ctx, file, noProgress); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if file.FinalPath == "" {
		t.Fatal("expected final path recorded")
	}
	if _, err := os.Stat(file.FinalPath); err != nil {
		t.Fatalf("library file missing: %v", err)
	}
	if _, err := os.Stat(processed); !os.IsNotExist(err) {
		t.Fatal("source must be gone after the move")
	}
}

func TestLibraryPathLayout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	org := NewOrganizer(cfg, store, logging.NewNop())

	recorded := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	session := &queue.Session{Name: "friday_night_show", RecordedAt: recorded}
	file := &queue.File{Filename: "program.mov"}

	path, err := org.LibraryPath(session, file)
	if err != nil {
		t.Fatalf("LibraryPath failed: %v", err)
	}
	expected := filepath.Join(cfg.Paths.LibraryDir, "Friday Night Show", "2026-08-28", "program.mov")
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}

	// Missing session falls back to an unsorted folder.
	path, err = org.LibraryPath(nil, file)
	if err != nil {
		t.Fatalf("LibraryPath failed: %v", err)
	}
	if path != filepath.Join(cfg.Paths.LibraryDir, "Unsorted", "program.mov") {
		t.Fatalf("unexpected fallback path %s", path)
	}
}

func TestSessionTitleCasing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	org := NewOrganizer(cfg, store, logging.NewNop())

	cases := []struct {
		in       string
		expected string
	}{
		{"friday_night_show", "Friday Night Show"},
		{"morning-news.2026", "Morning News 2026"},
		{"", "Unsorted"},
	}
	for _, tc := range cases {
		if got := org.sessionTitle(tc.in); got != tc.expected {
			t.Fatalf("sessionTitle(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}

func TestMoveFileCopyFallback(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "src", "clip.mov")
	target := filepath.Join(base, "dst", "clip.mov")
	testsupport.WriteFile(t, source, 1024)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := moveFile(source, target); err != nil {
		t.Fatalf("moveFile failed: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("target missing: %v", err)
	}
	if info.Size() != 1024 {
		t.Fatalf("target size %d, expected 1024", info.Size())
	}
}
