// Package copier implements the copy stage: stream the remote file into the
// staging area, verify the transferred size, and record the local path.
package copier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/stage"
)

// Transfer is the slice of the FTP manager the copier needs.
type Transfer interface {
	Size(ctx context.Context, remotePath string) (int64, error)
	Retrieve(ctx context.Context, remotePath string, offset int64, w io.Writer, onChunk func(written int64) error) error
}

// Copier streams remote files into staging.
type Copier struct {
	cfg    *config.Config
	store  *queue.Store
	ftp    Transfer
	logger *slog.Logger
}

// NewCopier constructs the copy stage handler.
func NewCopier(cfg *config.Config, store *queue.Store, transfer Transfer, logger *slog.Logger) *Copier {
	return &Copier{
		cfg:    cfg,
		store:  store,
		ftp:    transfer,
		logger: logging.NewComponentLogger(logger, "copier"),
	}
}

func (c *Copier) Kind() queue.JobKind {
	return queue.JobCopy
}

func (c *Copier) Prepare(ctx context.Context, file *queue.File) error {
	if file.RemotePath == "" {
		return services.Wrap(services.ErrValidation, "copy", "validate inputs", "file has no remote path", nil)
	}
	if err := os.MkdirAll(c.cfg.Paths.StagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrStoragePath, "copy", "prepare staging", c.cfg.Paths.StagingDir, err)
	}
	return nil
}

func (c *Copier) Execute(ctx context.Context, file *queue.File, progress stage.ProgressFunc) error {
	logger := logging.WithContext(ctx, c.logger)

	remoteSize, err := c.ftp.Size(ctx, file.RemotePath)
	if err != nil {
		return err
	}

	// Empty placeholders carry no payload; park them as skipped so they
	// never occupy the processing stages.
	if remoteSize == 0 {
		file.IsEmpty = true
		file.State = queue.FileSkipped
		if err := c.store.ApplyTransition(ctx, nil, file, &queue.Event{
			FileID:    file.ID,
			EventType: queue.EventFileSkipped,
			Payload:   `{"reason":"empty placeholder"}`,
		}); err != nil {
			return err
		}
		logger.Info("skipped empty placeholder", logging.Int64(logging.FieldFileID, file.ID))
		return nil
	}

	target := c.stagingPath(file)
	partial := target + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return services.Wrap(services.ErrStoragePermission, "copy", "create staging file", partial, err)
	}

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)

	err = c.ftp.Retrieve(ctx, file.RemotePath, 0, writer, func(written int64) error {
		percent := float64(written) / float64(remoteSize) * 100
		return progress(percent, "Copying from FTP")
	})
	closeErr := out.Close()
	if err != nil {
		_ = os.Remove(partial)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(partial)
		return services.Wrap(services.ErrStorageSpace, "copy", "flush staging file", partial, closeErr)
	}

	if err := c.verify(partial, remoteSize); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return services.Wrap(services.ErrStoragePath, "copy", "finalize staging file", target, err)
	}

	file.LocalPath = target
	file.SizeBytes = remoteSize
	file.Checksum = checksumString(hasher)
	if err := c.store.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("record copied file: %w", err)
	}
	logger.Info("copy complete",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.Int64("size_bytes", remoteSize),
		logging.String("local_path", target),
	)
	return nil
}

// Cleanup deletes partial downloads so a reset file re-copies from scratch.
func (c *Copier) Cleanup(ctx context.Context, file *queue.File) error {
	target := c.stagingPath(file)
	for _, path := range []string{target + ".partial", target} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return services.Wrap(services.ErrStoragePermission, "copy", "cleanup", path, err)
		}
	}
	if file.LocalPath != "" {
		file.LocalPath = ""
		return c.store.UpdateFile(ctx, file)
	}
	return nil
}

func (c *Copier) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(c.cfg.Paths.StagingDir, 0o755); err != nil {
		return stage.Unhealthy("copier", fmt.Sprintf("staging dir unavailable: %v", err))
	}
	return stage.Healthy("copier")
}

func (c *Copier) stagingPath(file *queue.File) string {
	return filepath.Join(c.cfg.Paths.StagingDir, fmt.Sprintf("%d-%s", file.ID, file.Filename))
}

func (c *Copier) verify(path string, expected int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrStoragePath, "copy", "verify", path, err)
	}
	if info.Size() != expected {
		return services.Wrap(services.ErrFTPTransfer, "copy", "verify",
			fmt.Sprintf("size mismatch: got %d, expected %d", info.Size(), expected), nil)
	}
	return nil
}

func checksumString(hasher hash.Hash) string {
	return hex.EncodeToString(hasher.Sum(nil))
}
