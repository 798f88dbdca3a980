// Package analyzer implements the optional AI analysis stage. It consumes
// the transcript sidecar, holds the hardware lease while the external model
// runs, and writes an analysis sidecar next to the final library file.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"telecine/internal/config"
	"telecine/internal/hwlease"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/stage"
	"telecine/internal/transcriber"
)

// Runner executes the external analysis command. Swapped in tests.
type Runner func(ctx context.Context, command string, args []string) error

// Analyzer runs model-based content analysis over completed files.
type Analyzer struct {
	cfg    *config.Config
	store  *queue.Store
	lease  *hwlease.Lease
	logger *slog.Logger
	run    Runner
}

// NewAnalyzer constructs the analyze stage handler.
func NewAnalyzer(cfg *config.Config, store *queue.Store, lease *hwlease.Lease, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		store:  store,
		lease:  lease,
		logger: logging.NewComponentLogger(logger, "analyzer"),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, command string, args []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (a *Analyzer) Kind() queue.JobKind {
	return queue.JobAnalyze
}

func (a *Analyzer) Prepare(ctx context.Context, file *queue.File) error {
	if file.FinalPath == "" {
		return services.Wrap(services.ErrValidation, "analyze", "validate inputs",
			"file has no final library path; run the organize stage first", nil)
	}
	transcript := transcriber.SidecarPath(file.FinalPath)
	if _, err := os.Stat(transcript); err != nil {
		return services.Wrap(services.ErrValidation, "analyze", "validate inputs",
			"transcript sidecar missing; run the transcribe stage first", err)
	}
	return nil
}

func (a *Analyzer) Execute(ctx context.Context, file *queue.File, progress stage.ProgressFunc) error {
	logger := logging.WithContext(ctx, a.logger)

	if err := progress(0, "Waiting for hardware"); err != nil {
		return err
	}
	if err := a.lease.Acquire(ctx); err != nil {
		return services.Wrap(services.ErrCancelled, "analyze", "acquire hardware", "", err)
	}
	defer a.lease.Release()

	if err := progress(5, "Analyzing"); err != nil {
		return err
	}
	report := SidecarPath(file.FinalPath)
	args := []string{
		"--model", a.cfg.Analysis.Model,
		"--transcript", transcriber.SidecarPath(file.FinalPath),
		"--output", report,
		file.FinalPath,
	}
	if err := a.run(ctx, a.cfg.Analysis.Command, args); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "analyze", "run model", "", ctx.Err())
		}
		return services.Wrap(services.ErrProcessing, "analyze", "run model", file.Filename, err)
	}
	if _, err := os.Stat(report); err != nil {
		return services.Wrap(services.ErrProcessing, "analyze", "verify report", report, err)
	}
	logger.Info("analysis complete",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("report", report),
	)
	return nil
}

// Cleanup removes a partial analysis report.
func (a *Analyzer) Cleanup(ctx context.Context, file *queue.File) error {
	if file.FinalPath == "" {
		return nil
	}
	if err := os.Remove(SidecarPath(file.FinalPath)); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrStoragePermission, "analyze", "cleanup", SidecarPath(file.FinalPath), err)
	}
	return nil
}

func (a *Analyzer) HealthCheck(ctx context.Context) stage.Health {
	command := strings.TrimSpace(a.cfg.Analysis.Command)
	if command == "" {
		return stage.Unhealthy("analyzer", "analysis command not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return stage.Unhealthy("analyzer", fmt.Sprintf("command not found: %s", command))
	}
	return stage.Healthy("analyzer")
}

// SidecarPath returns the analysis report location for a library file.
func SidecarPath(finalPath string) string {
	return strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".analysis.json"
}
