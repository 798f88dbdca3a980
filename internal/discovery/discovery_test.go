package discovery

import (
	"context"
	"testing"
	"time"

	"telecine/internal/ftp"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/testsupport"
)

type stubLister struct {
	tree map[string][]ftp.Entry
}

func (l *stubLister) List(_ context.Context, dir string) ([]ftp.Entry, error) {
	return l.tree[dir], nil
}

func newService(t *testing.T, lister *stubLister) (*Service, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.FTP.RemoteDir = "/recordings"
	store := testsupport.MustOpenStore(t, cfg)
	svc := integrity.NewService(cfg, store, logging.NewNop())
	return NewService(cfg, store, svc, lister, logging.NewNop()), store
}

func entry(path, name string, size int64, isDir bool) ftp.Entry {
	return ftp.Entry{Name: name, Path: path, Size: size, IsDir: isDir, ModTime: time.Now().UTC()}
}

func TestScanCreatesFilesAndCopyJobs(t *testing.T) {
	lister := &stubLister{tree: map[string][]ftp.Entry{
		"/recordings": {entry("/recordings/friday", "friday", 0, true)},
		"/recordings/friday": {
			entry("/recordings/friday/program.mov", "program.mov", 4096, false),
			entry("/recordings/friday/cam1_iso.mov", "cam1_iso.mov", 2048, false),
			entry("/recordings/friday/placeholder.mov", "placeholder.mov", 0, false),
		},
	}}
	svc, store := newService(t, lister)
	ctx := context.Background()

	if err := svc.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	files, err := store.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}

	program, err := store.FileByRemotePath(ctx, "/recordings/friday/program.mov")
	if err != nil || program == nil {
		t.Fatalf("program file missing: %v", err)
	}
	if !program.IsProgramOutput {
		t.Fatal("program.mov must be flagged as program output")
	}

	iso, _ := store.FileByRemotePath(ctx, "/recordings/friday/cam1_iso.mov")
	if iso == nil || !iso.IsISO {
		t.Fatal("cam1_iso.mov must be flagged as ISO feed")
	}
	if iso.ParentFileID == nil || *iso.ParentFileID != program.ID {
		t.Fatal("ISO feed must link to the program file")
	}

	placeholder, _ := store.FileByRemotePath(ctx, "/recordings/friday/placeholder.mov")
	if placeholder == nil || !placeholder.IsEmpty {
		t.Fatal("zero-byte file must be flagged empty")
	}

	// The highest-priority copy job is the program output.
	job, err := store.NextQueuedJob(ctx, queue.JobCopy)
	if err != nil {
		t.Fatalf("NextQueuedJob: %v", err)
	}
	if job == nil || job.FileID != program.ID || job.Priority != queue.PriorityProgram {
		t.Fatalf("expected program copy job first, got %#v", job)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	lister := &stubLister{tree: map[string][]ftp.Entry{
		"/recordings":        {entry("/recordings/friday", "friday", 0, true)},
		"/recordings/friday": {entry("/recordings/friday/program.mov", "program.mov", 4096, false)},
	}}
	svc, store := newService(t, lister)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Scan(ctx); err != nil {
			t.Fatalf("Scan %d failed: %v", i, err)
		}
	}
	files, _ := store.ListFiles(ctx)
	if len(files) != 1 {
		t.Fatalf("expected 1 file after repeated scans, got %d", len(files))
	}
	file := files[0]
	jobs, _ := store.JobsForFile(ctx, file.ID)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 copy job after repeated scans, got %d", len(jobs))
	}
}

func TestScanMarksVanishedFilesMissing(t *testing.T) {
	lister := &stubLister{tree: map[string][]ftp.Entry{
		"/recordings":        {entry("/recordings/friday", "friday", 0, true)},
		"/recordings/friday": {entry("/recordings/friday/program.mov", "program.mov", 4096, false)},
	}}
	svc, store := newService(t, lister)
	ctx := context.Background()

	if err := svc.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	lister.tree["/recordings/friday"] = nil
	if err := svc.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	file, _ := store.FileByRemotePath(ctx, "/recordings/friday/program.mov")
	if file == nil || !file.IsMissing {
		t.Fatal("vanished file must be flagged missing")
	}

	// Reappearing clears the flag.
	lister.tree["/recordings/friday"] = []ftp.Entry{entry("/recordings/friday/program.mov", "program.mov", 4096, false)}
	if err := svc.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	file, _ = store.FileByRemotePath(ctx, "/recordings/friday/program.mov")
	if file.IsMissing {
		t.Fatal("reappeared file must clear the missing flag")
	}
}

func TestInitialPriority(t *testing.T) {
	cases := []struct {
		file     queue.File
		expected int
	}{
		{queue.File{IsEmpty: true, IsProgramOutput: true}, queue.PriorityEmpty},
		{queue.File{IsProgramOutput: true}, queue.PriorityProgram},
		{queue.File{IsISO: true}, queue.PriorityNormal},
		{queue.File{}, queue.PriorityNormal},
	}
	for i, tc := range cases {
		if got := InitialPriority(&tc.file); got != tc.expected {
			t.Fatalf("case %d: expected %d, got %d", i, tc.expected, got)
		}
	}
}
