// Package organizer implements the organize stage: move the processed file
// into its final library location under a session and date based layout.
package organizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/services"
	"telecine/internal/stage"
)

// Organizer moves processed files into the final library location.
type Organizer struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	caser  cases.Caser
}

// NewOrganizer constructs the organize stage handler.
func NewOrganizer(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Organizer {
	return &Organizer{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "organizer"),
		caser:  cases.Title(language.English),
	}
}

func (o *Organizer) Kind() queue.JobKind {
	return queue.JobOrganize
}

func (o *Organizer) Prepare(ctx context.Context, file *queue.File) error {
	if file.ProcessedPath == "" {
		return services.Wrap(services.ErrValidation, "organize", "validate inputs",
			"file has no processed output; run the process stage first", nil)
	}
	if _, err := os.Stat(file.ProcessedPath); err != nil {
		return services.Wrap(services.ErrStoragePath, "organize", "validate inputs", file.ProcessedPath, err)
	}
	return nil
}

func (o *Organizer) Execute(ctx context.Context, file *queue.File, progress stage.ProgressFunc) error {
	logger := logging.WithContext(ctx, o.logger)

	session, err := o.store.GetSession(ctx, file.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	target, err := o.LibraryPath(session, file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrStoragePermission, "organize", "create library dir", filepath.Dir(target), err)
	}
	if err := progress(10, "Moving to library"); err != nil {
		return err
	}

	if err := moveFile(file.ProcessedPath, target); err != nil {
		return err
	}

	file.FinalPath = target
	if err := o.store.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("record final path: %w", err)
	}
	logger.Info("organized into library",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("final_path", target),
	)
	return nil
}

// Cleanup is a no-op: the move is atomic, so there is never partial work.
func (o *Organizer) Cleanup(ctx context.Context, file *queue.File) error {
	return nil
}

func (o *Organizer) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(o.cfg.Paths.LibraryDir, 0o755); err != nil {
		return stage.Unhealthy("organizer", fmt.Sprintf("library dir unavailable: %v", err))
	}
	return stage.Healthy("organizer")
}

// LibraryPath computes the final location:
// <library>/<Session Title>/<date>/<filename>.
func (o *Organizer) LibraryPath(session *queue.Session, file *queue.File) (string, error) {
	if strings.TrimSpace(o.cfg.Paths.LibraryDir) == "" {
		return "", services.Wrap(services.ErrStoragePath, "organize", "resolve library path",
			"library_dir is not configured", nil)
	}
	sessionDir := "Unsorted"
	dateDir := ""
	if session != nil {
		sessionDir = o.sessionTitle(session.Name)
		if !session.RecordedAt.IsZero() {
			dateDir = session.RecordedAt.Format("2006-01-02")
		}
	}
	parts := []string{o.cfg.Paths.LibraryDir, sessionDir}
	if dateDir != "" {
		parts = append(parts, dateDir)
	}
	parts = append(parts, file.Filename)
	return filepath.Join(parts...), nil
}

// sessionTitle turns a remote directory name into a human-readable library
// folder: separators become spaces, words get title casing.
func (o *Organizer) sessionTitle(name string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "Unsorted"
	}
	return o.caser.String(cleaned)
}

// moveFile renames within the same filesystem and falls back to copy+rename
// across filesystems, keeping the appearance at the target atomic.
func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}
	tmp := target + ".tmp"
	in, err := os.Open(source)
	if err != nil {
		return services.Wrap(services.ErrStoragePath, "organize", "open source", source, err)
	}
	defer in.Close()
	out, err := os.Create(tmp)
	if err != nil {
		return services.Wrap(services.ErrStoragePermission, "organize", "create target", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorageSpace, "organize", "copy to library", target, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorageSpace, "organize", "flush target", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStoragePath, "organize", "finalize target", target, err)
	}
	return os.Remove(source)
}
