// Package transcriber implements the optional transcription stage. It holds
// the hardware lease while the external speech-to-text tool runs and writes
// a transcript sidecar next to the final library file.
package transcriber

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
)

// Runner executes the external transcription command. Swapped in tests.
type Runner func(ctx context.Context, command string, args []string) error

// Transcriber runs speech-to-text over completed files.
type Transcriber struct {
	cfg    *config.Config
	store  *queue.Store
	lease  *hwlease.Lease
	logger *slog.Logger
	run    Runner
}

// NewTranscriber constructs the transcribe stage handler.
func NewTranscriber(cfg *config.Config, store *queue.Store, lease *hwlease.Lease, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		cfg:    cfg,
		store:  store,
		lease:  lease,
		logger: logging.NewComponentLogger(logger, "transcriber"),
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

func (t *Transcriber) Kind() queue.JobKind {
	return queue.JobTranscribe
}

func (t *Transcriber) Prepare(ctx context.Context, file *queue.File) error {
	if file.FinalPath == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "validate inputs",
			"file has no final library path; run the organize stage first", nil)
	}
	return nil
}

func (t *Transcriber) Execute(ctx context.Context, file *queue.File, progress stage.ProgressFunc) error {
	logger := logging.WithContext(ctx, t.logger)

	if err := progress(0, "Waiting for hardware"); err != nil {
		return err
	}
	if err := t.lease.Acquire(ctx); err != nil {
		return services.Wrap(services.ErrCancelled, "transcribe", "acquire hardware", "", err)
	}
	defer t.lease.Release()

	if err := progress(5, "Transcribing"); err != nil {
		return err
	}
	transcript := SidecarPath(file.FinalPath)
	args := []string{"--model", t.cfg.Transcription.Model, "--output", transcript, file.FinalPath}
	if err := t.run(ctx, t.cfg.Transcription.Command, args); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "transcribe", "run model", "", ctx.Err())
		}
		return services.Wrap(services.ErrProcessing, "transcribe", "run model", file.Filename, err)
	}
	if _, err := os.Stat(transcript); err != nil {
		return services.Wrap(services.ErrProcessing, "transcribe", "verify transcript", transcript, err)
	}
	logger.Info("transcription complete",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("transcript", transcript),
	)
	return nil
}

// Cleanup removes a partial transcript.
func (t *Transcriber) Cleanup(ctx context.Context, file *queue.File) error {
	if file.FinalPath == "" {
		return nil
	}
	if err := os.Remove(SidecarPath(file.FinalPath)); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrStoragePermission, "transcribe", "cleanup", SidecarPath(file.FinalPath), err)
	}
	return nil
}

func (t *Transcriber) HealthCheck(ctx context.Context) stage.Health {
	command := strings.TrimSpace(t.cfg.Transcription.Command)
	if command == "" {
		return stage.Unhealthy("transcriber", "transcription command not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return stage.Unhealthy("transcriber", fmt.Sprintf("command not found: %s", command))
	}
	return stage.Healthy("transcriber")
}

// SidecarPath returns the transcript location for a library file.
func SidecarPath(finalPath string) string {
	return strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".transcript.json"
}
