// Package processor implements the process stage: run the external
// enhancement pipeline over the staged copy inside a per-file temp directory.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/stage"
)

// Runner executes the external enhancement command. Swapped in tests.
type Runner func(ctx context.Context, command string, args []string) error

// Processor runs the enhancement pipeline.
type Processor struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	run    Runner
}

// NewProcessor constructs the process stage handler.
func NewProcessor(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "processor"),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, command string, args []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		tail := lastLines(string(output), 5)
		return fmt.Errorf("%s: %w: %s", command, err, tail)
	}
	return nil
}

func (p *Processor) Kind() queue.JobKind {
	return queue.JobProcess
}

func (p *Processor) Prepare(ctx context.Context, file *queue.File) error {
	if file.LocalPath == "" {
		return services.Wrap(services.ErrValidation, "process", "validate inputs",
			"file has no staged copy; run the copy stage first", nil)
	}
	if _, err := os.Stat(file.LocalPath); err != nil {
		return services.Wrap(services.ErrStoragePath, "process", "validate inputs", file.LocalPath, err)
	}
	return nil
}

func (p *Processor) Execute(ctx context.Context, file *queue.File, progress stage.ProgressFunc) error {
	logger := logging.WithContext(ctx, p.logger)

	workDir := p.workDir(file)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return services.Wrap(services.ErrStoragePath, "process", "create work dir", workDir, err)
	}

	output := filepath.Join(workDir, "processed-"+file.Filename)
	command := p.cfg.Processing.Command
	args := expandArgs(p.cfg.Processing.Args, file.LocalPath, output)

	if err := progress(0, "Processing"); err != nil {
		return err
	}
	logger.Info("running enhancement pipeline",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("command", command),
	)
	if err := p.run(ctx, command, args); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "process", "run pipeline", "", ctx.Err())
		}
		return services.Wrap(services.ErrProcessing, "process", "run pipeline", file.Filename, err)
	}
	if err := progress(95, "Verifying output"); err != nil {
		return err
	}

	info, err := os.Stat(output)
	if err != nil {
		return services.Wrap(services.ErrProcessing, "process", "verify output", output, err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrProcessingCorrupt, "process", "verify output",
			"pipeline produced an empty file", nil)
	}

	file.ProcessedPath = output
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("record processed file: %w", err)
	}
	return nil
}

// Cleanup removes the per-file temp directory so a reset reprocesses from
// the staged copy.
func (p *Processor) Cleanup(ctx context.Context, file *queue.File) error {
	if err := os.RemoveAll(p.workDir(file)); err != nil {
		return services.Wrap(services.ErrStoragePermission, "process", "cleanup", p.workDir(file), err)
	}
	if file.ProcessedPath != "" {
		file.ProcessedPath = ""
		return p.store.UpdateFile(ctx, file)
	}
	return nil
}

func (p *Processor) HealthCheck(ctx context.Context) stage.Health {
	command := strings.TrimSpace(p.cfg.Processing.Command)
	if command == "" {
		return stage.Unhealthy("processor", "processing command not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return stage.Unhealthy("processor", fmt.Sprintf("command not found: %s", command))
	}
	return stage.Healthy("processor")
}

func (p *Processor) workDir(file *queue.File) string {
	return filepath.Join(p.cfg.Paths.StagingDir, fmt.Sprintf("proc-%d", file.ID))
}

// expandArgs substitutes the {input} and {output} placeholders in the
// configured argument list.
func expandArgs(args []string, input, output string) []string {
	expanded := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.ReplaceAll(arg, "{input}", input)
		arg = strings.ReplaceAll(arg, "{output}", output)
		expanded = append(expanded, arg)
	}
	return expanded
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
