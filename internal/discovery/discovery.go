// Package discovery polls the studio FTP source, creates session and file
// rows for new recordings, and enqueues the initial copy jobs.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"telecine/internal/config"
	"telecine/internal/ftp"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/queue"
)

// Lister is the slice of the FTP manager discovery needs.
type Lister interface {
	List(ctx context.Context, dir string) ([]ftp.Entry, error)
}

// Service polls the remote source on an interval.
type Service struct {
	cfg       *config.Config
	store     *queue.Store
	integrity *integrity.Service
	lister    Lister
	logger    *slog.Logger
}

// NewService constructs the discovery poller.
func NewService(cfg *config.Config, store *queue.Store, svc *integrity.Service, lister Lister, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		integrity: svc,
		lister:    lister,
		logger:    logging.NewComponentLogger(logger, "discovery"),
	}
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.FTP.PollInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("discovery scan failed", logging.Error(err))
			}
		}
	}
}

// Scan performs one pass over the remote directory tree. Each top-level
// directory under the remote root is one recording session; its files become
// file rows with copy jobs. Known files that vanished from the remote are
// marked missing.
func (s *Service) Scan(ctx context.Context) error {
	root := s.cfg.FTP.RemoteDir
	entries, err := s.lister.List(ctx, root)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir {
			continue
		}
		if err := s.scanSession(ctx, entry, seen); err != nil {
			s.logger.Warn("session scan failed",
				logging.String("session", entry.Name),
				logging.Error(err),
			)
		}
	}
	return s.markMissing(ctx, seen)
}

func (s *Service) scanSession(ctx context.Context, dir ftp.Entry, seen map[string]bool) error {
	session, err := s.store.GetOrCreateSession(ctx, dir.Name, dir.ModTime)
	if err != nil {
		return err
	}
	files, err := s.lister.List(ctx, dir.Path)
	if err != nil {
		return err
	}

	// Program files first so ISO camera feeds can link to them.
	var isos []ftp.Entry
	for _, entry := range files {
		if entry.IsDir {
			continue
		}
		seen[entry.Path] = true
		if IsISOFeed(entry.Name) {
			isos = append(isos, entry)
			continue
		}
		if _, err := s.register(ctx, session, entry, nil); err != nil {
			return err
		}
	}
	for _, entry := range isos {
		parent, err := s.programFileFor(ctx, session, entry)
		if err != nil {
			return err
		}
		if _, err := s.register(ctx, session, entry, parent); err != nil {
			return err
		}
	}
	return nil
}

// register creates the file row and its copy job on first sight; existing
// rows pass through untouched.
func (s *Service) register(ctx context.Context, session *queue.Session, entry ftp.Entry, parent *queue.File) (*queue.File, error) {
	existing, err := s.store.FileByRemotePath(ctx, entry.Path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IsMissing {
			existing.IsMissing = false
			if err := s.store.UpdateFile(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	file := &queue.File{
		SessionID:       session.ID,
		Filename:        entry.Name,
		RemotePath:      entry.Path,
		SizeBytes:       entry.Size,
		IsEmpty:         entry.Size == 0,
		IsISO:           IsISOFeed(entry.Name),
		IsProgramOutput: IsProgramOutput(entry.Name),
	}
	if parent != nil {
		parentID := parent.ID
		file.ParentFileID = &parentID
	}
	file, err = s.store.NewFile(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, file.ID, queue.EventFileDiscovered, ""); err != nil {
		return nil, err
	}
	metrics.FilesDiscovered.Inc()
	s.logger.Info("discovered file",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("filename", file.Filename),
		logging.Int64("size_bytes", file.SizeBytes),
	)

	if _, _, err := s.integrity.GetOrCreateJob(ctx, file.ID, queue.JobCopy, InitialPriority(file)); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *Service) programFileFor(ctx context.Context, session *queue.Session, iso ftp.Entry) (*queue.File, error) {
	files, err := s.store.FilesForSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range files {
		if candidate.IsProgramOutput {
			return candidate, nil
		}
	}
	return nil, nil
}

// markMissing flags known non-terminal files whose remote path vanished.
func (s *Service) markMissing(ctx context.Context, seen map[string]bool) error {
	files, err := s.store.FilesByState(ctx, queue.FileDiscovered, queue.FileFailed)
	if err != nil {
		return err
	}
	for _, file := range files {
		if seen[file.RemotePath] || file.IsMissing {
			continue
		}
		file.IsMissing = true
		if err := s.store.UpdateFile(ctx, file); err != nil {
			return err
		}
		s.logger.Warn("file vanished from remote",
			logging.Int64(logging.FieldFileID, file.ID),
			logging.String("remote_path", file.RemotePath),
		)
	}
	return nil
}

// InitialPriority computes the copy priority tier from file attributes:
// program output ahead of camera feeds, empty placeholders behind everything.
func InitialPriority(file *queue.File) int {
	switch {
	case file.IsEmpty:
		return queue.PriorityEmpty
	case file.IsProgramOutput:
		return queue.PriorityProgram
	default:
		return queue.PriorityNormal
	}
}

// IsProgramOutput reports whether a filename looks like the switcher's
// program recording rather than a raw camera feed.
func IsProgramOutput(name string) bool {
	lower := strings.ToLower(name)
	base := strings.TrimSuffix(lower, path.Ext(lower))
	return strings.Contains(base, "program") || strings.HasSuffix(base, "_pgm")
}

// IsISOFeed reports whether a filename looks like an isolated camera feed.
func IsISOFeed(name string) bool {
	lower := strings.ToLower(name)
	base := strings.TrimSuffix(lower, path.Ext(lower))
	return strings.Contains(base, "iso") || strings.Contains(base, "cam")
}
