package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"telecine/internal/analyzer"
	"telecine/internal/config"
	"telecine/internal/copier"
	"telecine/internal/discovery"
	"telecine/internal/ftp"
	"telecine/internal/hwlease"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/metrics"
	"telecine/internal/notifications"
	"telecine/internal/organizer"
	"telecine/internal/processor"
	"telecine/internal/queue"
	"telecine/internal/recovery"
	"telecine/internal/stage"
	"telecine/internal/transcriber"
	"telecine/internal/workerpool"
)

// Daemon is the composition root: it wires the store, FTP manager, worker
// pool, recovery orchestrator, discovery scanner, and notification fanout
// together and enforces single-instance execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	ftpManager *ftp.Manager
	probe      *ftp.Probe
	pool       *workerpool.Pool
	recovery   *recovery.Orchestrator
	discovery  *discovery.Service
	notifier   *notifications.Notifier
	metricsSrv *http.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Status represents daemon runtime information for operator tooling.
type Status struct {
	Running      bool
	Health       queue.HealthSummary
	Stages       []stage.Health
	FTPConnected bool
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with all subsystems wired but not started.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	ftpManager := ftp.NewManager(cfg, logger)
	probe := ftp.NewProbe(cfg, logger)
	lease := hwlease.New()
	svc := integrity.NewService(cfg, store, logger)

	pool := workerpool.New(cfg, store, svc, ftpManager, lease, logger)
	pool.Register(copier.NewCopier(cfg, store, ftpManager, logger))
	pool.Register(processor.NewProcessor(cfg, store, logger))
	pool.Register(organizer.NewOrganizer(cfg, store, logger))
	if cfg.Transcription.Enabled {
		pool.Register(transcriber.NewTranscriber(cfg, store, lease, logger))
	}
	if cfg.Analysis.Enabled {
		pool.Register(analyzer.NewAnalyzer(cfg, store, lease, logger))
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		ftpManager: ftpManager,
		probe:      probe,
		pool:       pool,
		recovery:   recovery.NewOrchestrator(cfg, store, svc, probe, logger),
		discovery:  discovery.NewService(cfg, store, svc, ftpManager, logger),
		notifier:   notifications.NewNotifier(cfg, store, notifications.NewService(cfg), logger),
		lockPath:   filepath.Join(cfg.Paths.LogDir, "telecined.lock"),
	}
	d.lock = flock.New(d.lockPath)
	return d, nil
}

// Start acquires the instance lock, recovers interrupted work, and launches
// every background subsystem. It returns once startup completes; the
// subsystems keep running until Stop or context cancellation.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another telecine daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	// Unready stages still poll; surface what the operator needs to fix.
	for _, health := range d.pool.Health(runCtx) {
		if !health.Ready {
			d.logger.Warn("stage not ready", logging.String("stage_health", health.String()))
		}
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.probe.Run(groupCtx) })
	group.Go(func() error { return d.discovery.Run(groupCtx) })
	group.Go(func() error { return d.recovery.Run(groupCtx) })
	group.Go(func() error { return d.notifier.Run(groupCtx) })
	group.Go(func() error { return d.sampleGauges(groupCtx) })
	if bind := d.cfg.Paths.MetricsBind; bind != "" {
		d.metricsSrv = &http.Server{Addr: bind, Handler: promhttp.Handler()}
		group.Go(func() error {
			if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return d.metricsSrv.Shutdown(shutdownCtx)
		})
	}

	d.cancel = cancel
	d.group = group
	d.running.Store(true)
	d.logger.Info("telecine daemon started",
		logging.String("lock", d.lockPath),
		logging.String("worker_id", d.pool.WorkerID()),
	)
	return nil
}

// sampleGauges periodically refreshes the population gauges that cannot be
// maintained incrementally.
func (d *Daemon) sampleGauges(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := d.store.Stats(ctx)
			if err != nil {
				continue
			}
			for _, state := range queue.AllFileStates() {
				metrics.FilesByState.WithLabelValues(string(state)).Set(float64(stats[state]))
			}
			if queued, err := d.store.QueuedJobCount(ctx); err == nil {
				metrics.QueuedJobs.Set(float64(queued))
			}
		}
	}
}

// Stop shuts the subsystems down in order: new work stops being claimed,
// running jobs are handed back to the queue, then the background loops exit
// and the instance lock is released.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.pool.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("subsystem exited with error", logging.Error(err))
		}
		d.group = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("telecine daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon subsystems are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health lookup failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Health:       health,
		Stages:       d.pool.Health(ctx),
		FTPConnected: d.probe.Connected(ctx),
		QueueDBPath:  filepath.Join(d.cfg.Paths.LogDir, "pipeline.db"),
		LockFilePath: d.lockPath,
	}
}
