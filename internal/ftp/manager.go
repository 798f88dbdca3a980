// Package ftp owns the single shared control connection to the studio FTP
// server. The server allows one session per account, so the connection is
// reused across operations, health-checked before reuse, torn down after a
// bounded idle period, and unconditionally torn down on any transfer error.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"sync"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/services"
)

// Entry describes one remote file listing.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// Manager serializes access to the shared FTP connection. Callers hold the
// internal mutex for the duration of one operation; the connection itself is
// never handed out.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *goftp.ServerConn
	lastUsed time.Time

	dial func(cfg *config.Config) (*goftp.ServerConn, error)
}

// NewManager constructs the connection manager. No connection is opened
// until first use.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "ftp"),
		dial:   dialServer,
	}
}

func dialServer(cfg *config.Config) (*goftp.ServerConn, error) {
	address := fmt.Sprintf("%s:%d", cfg.FTP.Host, cfg.FTP.Port)
	conn, err := goftp.Dial(address, goftp.DialWithTimeout(time.Duration(cfg.FTP.ConnectTimeout)*time.Second))
	if err != nil {
		return nil, services.Wrap(services.ErrFTPConnection, "ftp", "dial", address, err)
	}
	if err := conn.Login(cfg.FTP.Username, cfg.FTP.Password); err != nil {
		_ = conn.Quit()
		return nil, services.Wrap(services.ErrFTPAuth, "ftp", "login", cfg.FTP.Username, err)
	}
	return conn, nil
}

// acquire returns a healthy connection, reusing the cached one when a NOOP
// succeeds and dialing fresh otherwise. Caller must hold m.mu.
func (m *Manager) acquire() (*goftp.ServerConn, error) {
	if m.conn != nil {
		if err := m.conn.NoOp(); err == nil {
			return m.conn, nil
		}
		m.teardownLocked("health check failed")
	}
	conn, err := m.dial(m.cfg)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	m.logger.Info("ftp connection established", logging.String("host", m.cfg.FTP.Host))
	return conn, nil
}

func (m *Manager) teardownLocked(reason string) {
	if m.conn == nil {
		return
	}
	_ = m.conn.Quit()
	m.conn = nil
	m.logger.Debug("ftp connection closed", logging.String("reason", reason))
}

// Invalidate drops the cached connection so the next operation dials fresh.
// Called after any unexpected error to avoid reusing corrupted session state.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked("invalidated after error")
}

// CloseIfIdle tears the connection down when it has been unused longer than
// the configured idle timeout, freeing the server-side session slot.
func (m *Manager) CloseIfIdle() {
	idle := time.Duration(m.cfg.FTP.IdleTimeout) * time.Second
	if idle <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && time.Since(m.lastUsed) > idle {
		m.teardownLocked("idle timeout")
	}
}

// Close tears down the connection unconditionally.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked("shutdown")
}

// List returns the entries of a remote directory.
func (m *Manager) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := m.withConn(ctx, "list", func(conn *goftp.ServerConn) error {
		raw, err := conn.List(dir)
		if err != nil {
			return services.Wrap(services.ErrFTPConnection, "ftp", "list", dir, err)
		}
		for _, item := range raw {
			if item.Name == "." || item.Name == ".." {
				continue
			}
			entries = append(entries, Entry{
				Name:    item.Name,
				Path:    joinRemote(dir, item.Name),
				Size:    int64(item.Size),
				IsDir:   item.Type == goftp.EntryTypeFolder,
				ModTime: item.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Size returns the size of a remote file, mapping a 550 reply to the
// missing-file marker.
func (m *Manager) Size(ctx context.Context, remotePath string) (int64, error) {
	var size int64
	err := m.withConn(ctx, "size", func(conn *goftp.ServerConn) error {
		n, err := conn.FileSize(remotePath)
		if err != nil {
			if isMissingReply(err) {
				return services.Wrap(services.ErrFTPMissing, "ftp", "size", remotePath, err)
			}
			return services.Wrap(services.ErrFTPTransfer, "ftp", "size", remotePath, err)
		}
		size = n
		return nil
	})
	return size, err
}

// Retrieve streams a remote file from the given offset into w, reporting
// transferred byte counts through onChunk. The connection is held for the
// whole transfer.
func (m *Manager) Retrieve(ctx context.Context, remotePath string, offset int64, w io.Writer, onChunk func(written int64) error) error {
	return m.withConn(ctx, "retrieve", func(conn *goftp.ServerConn) error {
		resp, err := conn.RetrFrom(remotePath, uint64(offset))
		if err != nil {
			if isMissingReply(err) {
				return services.Wrap(services.ErrFTPMissing, "ftp", "retrieve", remotePath, err)
			}
			return services.Wrap(services.ErrFTPTransfer, "ftp", "retrieve", remotePath, err)
		}
		defer resp.Close()

		buf := make([]byte, 256*1024)
		var written int64
		for {
			if err := ctx.Err(); err != nil {
				return services.Wrap(services.ErrCancelled, "ftp", "retrieve", remotePath, err)
			}
			n, readErr := resp.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					return services.Wrap(services.ErrStorageSpace, "ftp", "retrieve write", remotePath, writeErr)
				}
				written += int64(n)
				if onChunk != nil {
					if chunkErr := onChunk(written); chunkErr != nil {
						return chunkErr
					}
				}
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return services.Wrap(services.ErrFTPTransfer, "ftp", "retrieve read", remotePath, readErr)
			}
		}
	})
}

// withConn runs op while holding the connection mutex, tearing the
// connection down on any failure so the next caller starts clean.
func (m *Manager) withConn(ctx context.Context, operation string, op func(conn *goftp.ServerConn) error) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "ftp", operation, "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.acquire()
	if err != nil {
		return err
	}
	if err := op(conn); err != nil {
		m.teardownLocked("operation failed")
		return err
	}
	m.lastUsed = time.Now()
	return nil
}

func joinRemote(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	for len(dir) > 1 && dir[len(dir)-1] == '/' {
		dir = dir[:len(dir)-1]
	}
	return dir + "/" + name
}

// isMissingReply matches the server's 550 reply for nonexistent files.
func isMissingReply(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code == goftp.StatusFileUnavailable
	}
	return false
}
