package ftp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/metrics"
)

// Probe reports FTP connectivity for recovery gating. A background loop
// refreshes the cached result on the configured interval, so Connected is a
// pure cache read and the recovery cycle never blocks on a dial; the probe
// uses its own short-lived connection and never touches the Manager's shared
// session.
type Probe struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	connected bool

	dial func(cfg *config.Config) (*goftp.ServerConn, error)
}

// NewProbe constructs a connectivity probe.
func NewProbe(cfg *config.Config, logger *slog.Logger) *Probe {
	return &Probe{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "ftp-probe"),
		dial:   dialServer,
	}
}

// Run refreshes the cached connectivity until the context is cancelled. The
// first refresh happens immediately so recovery has a real answer at boot.
func (p *Probe) Run(ctx context.Context) error {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// Connected reports the most recently observed connectivity. It never dials.
func (p *Probe) Connected(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Probe) refresh(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}

	conn, dialErr := p.dial(p.cfg)
	reachable := dialErr == nil
	if conn != nil {
		_ = conn.Quit()
	}

	p.mu.Lock()
	wasConnected := p.connected
	p.connected = reachable
	p.mu.Unlock()

	if reachable != wasConnected {
		if reachable {
			p.logger.Info("ftp connectivity restored", logging.String("host", p.cfg.FTP.Host))
		} else {
			p.logger.Warn("ftp unreachable", logging.String("host", p.cfg.FTP.Host), logging.Error(dialErr))
		}
	}
	if reachable {
		metrics.FTPConnected.Set(1)
	} else {
		metrics.FTPConnected.Set(0)
	}
}

func (p *Probe) interval() time.Duration {
	interval := time.Duration(p.cfg.FTP.ProbeInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return interval
}
