package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"telecine/internal/logging"
	"telecine/internal/services"
	"telecine/internal/testsupport"
)

func noProgress(float64, string) error { return nil }

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Processing.Command = "enhance"
	cfg.Processing.Args = []string{"-i", "{input}", "-o", "{output}"}
	store := testsupport.MustOpenStore(t, cfg)
	return NewProcessor(cfg, store, logging.NewNop())
}

func TestExecuteRunsPipeline(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	session := testsupport.NewSession(t, proc.store, "session")
	file := testsupport.NewFile(t, proc.store, session.ID, "clip.mov", "/incoming/clip.mov")
	staged := filepath.Join(proc.cfg.Paths.StagingDir, "clip.mov")
	testsupport.WriteFile(t, staged, 1024)
	file.LocalPath = staged

	var gotArgs []string
	proc.run = func(_ context.Context, command string, args []string) error {
		if command != "enhance" {
			t.Fatalf("unexpected command %s", command)
		}
		gotArgs = args
		// The pipeline writes its output file.
		testsupport.WriteFile(t, args[3], 2048)
		return nil
	}

	if err := proc.Prepare(ctx, file); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := proc.Execute(ctx, file, noProgress); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(gotArgs) != 4 || gotArgs[1] != staged {
		t.Fatalf("input placeholder not expanded: %v", gotArgs)
	}
	if file.ProcessedPath == "" {
		t.Fatal("expected processed path recorded")
	}
	if _, err := os.Stat(file.ProcessedPath); err != nil {
		t.Fatalf("processed output missing: %v", err)
	}
}

func TestExecuteWrapsPipelineFailure(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	session := testsupport.NewSession(t, proc.store, "session")
	file := testsupport.NewFile(t, proc.store, session.ID, "clip.mov", "/incoming/clip.mov")
	staged := filepath.Join(proc.cfg.Paths.StagingDir, "clip.mov")
	testsupport.WriteFile(t, staged, 1024)
	file.LocalPath = staged

	proc.run = func(context.Context, string, []string) error {
		return errors.New("exit status 1")
	}
	err := proc.Execute(ctx, file, noProgress)
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing marker, got %v", err)
	}
}

func TestExecuteFlagsEmptyOutputAsCorrupt(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	session := testsupport.NewSession(t, proc.store, "session")
	file := testsupport.NewFile(t, proc.store, session.ID, "clip.mov", "/incoming/clip.mov")
	staged := filepath.Join(proc.cfg.Paths.StagingDir, "clip.mov")
	testsupport.WriteFile(t, staged, 1024)
	file.LocalPath = staged

	proc.run = func(_ context.Context, _ string, args []string) error {
		f, err := os.Create(args[3])
		if err != nil {
			return err
		}
		return f.Close()
	}
	err := proc.Execute(ctx, file, noProgress)
	if !errors.Is(err, services.ErrProcessingCorrupt) {
		t.Fatalf("expected corrupt marker for empty output, got %v", err)
	}
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	session := testsupport.NewSession(t, proc.store, "session")
	file := testsupport.NewFile(t, proc.store, session.ID, "clip.mov", "/incoming/clip.mov")
	workDir := proc.workDir(file)
	testsupport.WriteFile(t, filepath.Join(workDir, "scratch.bin"), 64)
	file.ProcessedPath = filepath.Join(workDir, "processed-clip.mov")

	if err := proc.Cleanup(ctx, file); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatal("work dir must be removed")
	}
	if file.ProcessedPath != "" {
		t.Fatal("cleanup must clear the processed path")
	}
	if err := proc.Cleanup(ctx, file); err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
}
