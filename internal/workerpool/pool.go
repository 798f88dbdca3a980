// Package workerpool runs one polling loop per job kind and gives every
// pipeline stage uniform claiming, heartbeat, progress, cancellation, and
// retry-with-reset behavior. Stage handlers only implement the work.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"telecine/internal/config"
	"telecine/internal/ftp"
	"telecine/internal/hwlease"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/queue"
	"telecine/internal/stage"
)

// Pool owns the per-kind worker loops and the shared resources stages
// compete for: the FTP connection manager and the hardware lease.
type Pool struct {
	cfg       *config.Config
	store     *queue.Store
	integrity *integrity.Service
	logger    *slog.Logger
	workerID  string

	handlers map[queue.JobKind]stage.Handler
	order    []queue.JobKind

	ftpManager *ftp.Manager
	hwLease    *hwlease.Lease

	pollInterval  time.Duration
	errorInterval time.Duration

	mu       sync.Mutex
	running  bool
	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a pool. Handlers are registered with Register before Start.
func New(cfg *config.Config, store *queue.Store, svc *integrity.Service, ftpManager *ftp.Manager, lease *hwlease.Lease, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:           cfg,
		store:         store,
		integrity:     svc,
		logger:        logging.NewComponentLogger(logger, "workerpool"),
		workerID:      uuid.NewString(),
		handlers:      make(map[queue.JobKind]stage.Handler),
		ftpManager:    ftpManager,
		hwLease:       lease,
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Register installs the handler for its kind. Later registrations replace
// earlier ones.
func (p *Pool) Register(handler stage.Handler) {
	kind := handler.Kind()
	if _, exists := p.handlers[kind]; !exists {
		p.order = append(p.order, kind)
	}
	p.handlers[kind] = handler
}

// WorkerID returns the identity stamped on claimed jobs by this instance.
func (p *Pool) WorkerID() string {
	return p.workerID
}

// HardwareLease exposes the shared accelerator lease for GPU-bound handlers.
func (p *Pool) HardwareLease() *hwlease.Lease {
	return p.hwLease
}

// Start runs startup recovery, then launches the watchdog and one loop per
// registered kind. Startup recovery must finish before any loop claims work.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("worker pool already running")
	}
	if len(p.order) == 0 {
		p.mu.Unlock()
		return errors.New("no stage handlers registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.stopping.Store(false)
	p.mu.Unlock()

	if _, err := p.integrity.StartupRecovery(runCtx); err != nil {
		cancel()
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.integrity.RunWatchdog(runCtx)
	}()

	if p.ftpManager != nil {
		p.wg.Add(1)
		go p.runIdleReaper(runCtx)
	}

	for _, kind := range p.order {
		for i := 0; i < p.workersPerKind(); i++ {
			p.wg.Add(1)
			go p.runLoop(runCtx, kind)
		}
	}
	return nil
}

func (p *Pool) workersPerKind() int {
	if p.cfg.Workflow.WorkersPerKind > 0 {
		return p.cfg.Workflow.WorkersPerKind
	}
	return 1
}

// Stop shuts the pool down in order: stop new claims, requeue this worker's
// running jobs, then cancel the loops and wait.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	// Claims must stop before running jobs are handed back, or a loop could
	// claim into the handback window and strand the job until next boot.
	p.stopping.Store(true)
	p.mu.Unlock()

	if p.hwLease != nil {
		p.hwLease.Shutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := p.integrity.PrepareForShutdown(shutdownCtx, p.workerID); err != nil {
		p.logger.Warn("prepare for shutdown failed; watchdog will reclaim on next boot", logging.Error(err))
	}
	shutdownCancel()

	cancel()
	p.wg.Wait()

	if p.ftpManager != nil {
		p.ftpManager.Close()
	}
}

func (p *Pool) runIdleReaper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ftpManager.CloseIfIdle()
		}
	}
}

// Health reports the readiness of every registered handler.
func (p *Pool) Health(ctx context.Context) []stage.Health {
	results := make([]stage.Health, 0, len(p.order))
	for _, kind := range p.order {
		results = append(results, p.handlers[kind].HealthCheck(ctx))
	}
	return results
}
