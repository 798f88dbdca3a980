// Package metrics provides Prometheus metrics for the pipeline daemon.
// Labels stay low-cardinality: job kind and failure category only, never
// file or job identifiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts pipeline jobs created, by kind.
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_jobs_created_total",
		Help: "Total number of pipeline jobs created, by kind.",
	}, []string{"kind"})

	// JobsCompleted counts jobs that finished successfully, by kind.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_jobs_completed_total",
		Help: "Total number of jobs completed successfully, by kind.",
	}, []string{"kind"})

	// JobsFailed counts job failures, by kind and failure category.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_jobs_failed_total",
		Help: "Total number of job failures, by kind and failure category.",
	}, []string{"kind", "category"})

	// JobsCancelled counts user-cancelled jobs, by kind.
	JobsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_jobs_cancelled_total",
		Help: "Total number of jobs cancelled by user request, by kind.",
	}, []string{"kind"})

	// JobRetries counts retry-with-reset cycles, by kind.
	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_job_retries_total",
		Help: "Total number of retry-with-reset cycles, by kind.",
	}, []string{"kind"})

	// ZombiesReclaimed counts jobs reclaimed by startup recovery, the
	// watchdog, or shutdown.
	ZombiesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecine_zombies_reclaimed_total",
		Help: "Total number of running jobs reclaimed after their worker died.",
	})

	// RecoveryRequeues counts files requeued by the recovery orchestrator.
	RecoveryRequeues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecine_recovery_requeues_total",
		Help: "Total number of failed files requeued by automatic recovery, by category.",
	}, []string{"category"})

	// FilesDiscovered counts files created by discovery.
	FilesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecine_files_discovered_total",
		Help: "Total number of files discovered on the remote source.",
	})

	// FilesByState tracks the current file population per lifecycle state.
	FilesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telecine_files_by_state",
		Help: "Current number of files per lifecycle state.",
	}, []string{"state"})

	// QueuedJobs tracks the current queued job backlog.
	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecine_queued_jobs",
		Help: "Current number of queued jobs across all kinds.",
	})

	// FTPConnected reports the cached FTP connectivity probe result.
	FTPConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecine_ftp_connected",
		Help: "Whether the FTP connectivity probe currently reports connected (1) or not (0).",
	})

	// StageDuration observes wall-clock stage execution time, by kind.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telecine_stage_duration_seconds",
		Help:    "Wall-clock duration of stage executions, by kind.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"kind"})
)
