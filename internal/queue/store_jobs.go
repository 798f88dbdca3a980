package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, file_id, kind, state, priority, retries, max_retries, progress_percent, progress_stage, is_cancellable, cancellation_requested, checkpoint_state, last_heartbeat, worker_id, error_message, created_at, updated_at, started_at, finished_at"

// GetOrCreateJob is the single chokepoint for creating pipeline jobs. If a
// queued or running job already exists for (file, kind) it is returned
// unmodified; otherwise a new queued job is inserted. The insert is guarded
// by a NOT EXISTS subquery in the same statement, so concurrent callers can
// never create duplicates: exactly one wins and the rest see its job.
func (s *Store) GetOrCreateJob(ctx context.Context, fileID int64, kind JobKind, priority, maxRetries int) (*Job, bool, error) {
	existing, err := s.ActiveJob(ctx, fileID, kind)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := timestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            file_id, kind, state, priority, retries, max_retries,
            progress_percent, is_cancellable, cancellation_requested,
            created_at, updated_at
        )
        SELECT ?, ?, ?, ?, 0, ?, 0, 0, 0, ?, ?
        WHERE NOT EXISTS (
            SELECT 1 FROM jobs WHERE file_id = ? AND kind = ? AND state IN (?, ?)
        )`,
		fileID,
		kind,
		JobQueued,
		priority,
		maxRetries,
		now,
		now,
		fileID,
		kind,
		JobQueued,
		JobRunning,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert job rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the insert race; return the winner's job.
		existing, err := s.ActiveJob(ctx, fileID, kind)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("job for file %d kind %s vanished after insert race", fileID, kind)
		}
		return existing, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ActiveJob returns the queued or running job for (file, kind), if any.
func (s *Store) ActiveJob(ctx context.Context, fileID int64, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE file_id = ? AND kind = ? AND state IN (?, ?)
         ORDER BY id LIMIT 1`,
		fileID, kind, JobQueued, JobRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextQueuedJob returns the highest-priority queued job of a kind, FIFO
// within a tier.
func (s *Store) NextQueuedJob(ctx context.Context, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE kind = ? AND state = ?
         ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`,
		kind, JobQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// ClaimJob optimistically transitions a queued job to running, stamping the
// worker identity and heartbeat. Returns false when another worker already
// claimed it.
func (s *Store) ClaimJob(ctx context.Context, jobID int64, workerID string, checkpoint FileState) (bool, error) {
	now := timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, worker_id = ?, last_heartbeat = ?, started_at = ?,
             is_cancellable = 1, checkpoint_state = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		JobRunning,
		workerID,
		now,
		now,
		checkpoint,
		now,
		jobID,
		JobQueued,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(ctx, updateJobSQL, updateJobArgs(job)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

const updateJobSQL = `UPDATE jobs
    SET state = ?, priority = ?, retries = ?, max_retries = ?,
        progress_percent = ?, progress_stage = ?, is_cancellable = ?,
        cancellation_requested = ?, checkpoint_state = ?, last_heartbeat = ?,
        worker_id = ?, error_message = ?, updated_at = ?, started_at = ?,
        finished_at = ?
    WHERE id = ?`

func updateJobArgs(job *Job) []any {
	return []any{
		job.State,
		job.Priority,
		job.Retries,
		job.MaxRetries,
		job.ProgressPercent,
		nullableString(job.ProgressStage),
		boolToInt(job.IsCancellable),
		boolToInt(job.CancellationRequested),
		nullableString(string(job.CheckpointState)),
		nullableTime(job.LastHeartbeat),
		nullableString(job.WorkerID),
		nullableString(job.ErrorMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.ID,
	}
}

// UpdateJobProgress persists progress and refreshes the heartbeat in one write.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID int64, percent float64, stage string) error {
	now := timestamp()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET progress_percent = ?, progress_stage = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		percent,
		nullableString(stage),
		now,
		now,
		jobID,
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// TouchJobHeartbeat refreshes the heartbeat timestamp for an in-flight job.
func (s *Store) TouchJobHeartbeat(ctx context.Context, jobID int64) error {
	now := timestamp()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		jobID,
	); err != nil {
		return fmt.Errorf("touch job heartbeat: %w", err)
	}
	return nil
}

// RequestCancellation flags a running, cancellable job for cooperative
// cancellation. Returns false when the job is not in a cancellable state.
func (s *Store) RequestCancellation(ctx context.Context, jobID int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancellation_requested = 1, updated_at = ?
         WHERE id = ? AND state = ? AND is_cancellable = 1`,
		timestamp(),
		jobID,
		JobRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request cancellation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// RunningJobs returns all jobs currently marked running.
func (s *Store) RunningJobs(ctx context.Context) ([]*Job, error) {
	return s.jobsWhere(ctx, `state = ?`, JobRunning)
}

// RunningJobsForWorker returns running jobs claimed by a specific worker
// instance, used during graceful shutdown.
func (s *Store) RunningJobsForWorker(ctx context.Context, workerID string) ([]*Job, error) {
	return s.jobsWhere(ctx, `state = ? AND worker_id = ?`, JobRunning, workerID)
}

// StaleRunningJobs returns running jobs whose heartbeat is older than the
// cutoff or missing entirely.
func (s *Store) StaleRunningJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	return s.jobsWhere(
		ctx,
		`state = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		JobRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
}

// JobsForFile returns a file's jobs newest first.
func (s *Store) JobsForFile(ctx context.Context, fileID int64) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE file_id = ? ORDER BY id DESC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs for file: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// LastDoneJob returns the most recently finished successful job for a file.
func (s *Store) LastDoneJob(ctx context.Context, fileID int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE file_id = ? AND state = ? ORDER BY id DESC LIMIT 1`,
		fileID, JobDone,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last done job: %w", err)
	}
	return job, nil
}

// ActiveJobCountAbovePriority counts queued/running jobs with priority
// strictly greater than the threshold. The recovery orchestrator uses this
// for session-awareness gating.
func (s *Store) ActiveJobCountAbovePriority(ctx context.Context, priority int) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM jobs WHERE state IN (?, ?) AND priority > ?`,
		JobQueued, JobRunning, priority,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("active job count: %w", err)
	}
	return count, nil
}

// ActiveKinds returns the set of job kinds with queued or running work.
func (s *Store) ActiveKinds(ctx context.Context) (map[JobKind]bool, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT kind FROM jobs WHERE state IN (?, ?)`,
		JobQueued, JobRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("active kinds: %w", err)
	}
	defer rows.Close()

	kinds := make(map[JobKind]bool)
	for rows.Next() {
		var kind JobKind
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		kinds[kind] = true
	}
	return kinds, rows.Err()
}

// QueuedJobCount returns the number of queued jobs across all kinds.
func (s *Store) QueuedJobCount(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE state = ?`, JobQueued)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("queued job count: %w", err)
	}
	return count, nil
}

// PruneFailedJobs deletes failed job rows for a file beyond a retention
// count. Retry-with-reset creates new rows instead of mutating old ones, so
// history grows without this.
func (s *Store) PruneFailedJobs(ctx context.Context, fileID int64, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs
         WHERE file_id = ? AND state = ? AND id NOT IN (
            SELECT id FROM jobs WHERE file_id = ? AND state = ?
            ORDER BY id DESC LIMIT ?
         )`,
		fileID, JobFailed, fileID, JobFailed, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ApplyTransition persists a job mutation, the matching file mutation, and an
// event append inside one transaction so file state and job state can never
// be observed out of agreement.
func (s *Store) ApplyTransition(ctx context.Context, job *Job, file *File, event *Event) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if job != nil {
			job.UpdatedAt = time.Now().UTC()
			if _, err := tx.ExecContext(ctx, updateJobSQL, updateJobArgs(job)...); err != nil {
				return fmt.Errorf("transition job update: %w", err)
			}
		}
		if file != nil {
			file.UpdatedAt = time.Now().UTC()
			if _, err := tx.ExecContext(ctx, updateFileSQL, updateFileArgs(file)...); err != nil {
				return fmt.Errorf("transition file update: %w", err)
			}
		}
		if event != nil {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO events (file_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
				event.FileID,
				event.EventType,
				nullableString(event.Payload),
				timestamp(),
			); err != nil {
				return fmt.Errorf("transition event append: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		return nil
	})
}

func (s *Store) jobsWhere(ctx context.Context, where string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+where+` ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		fileID          int64
		kindStr         string
		stateStr        string
		priority        int
		retries         int
		maxRetries      int
		progressPercent float64
		progressStage   sql.NullString
		isCancellable   int
		cancelRequested int
		checkpointState sql.NullString
		heartbeatRaw    sql.NullString
		workerID        sql.NullString
		errorMessage    sql.NullString
		createdRaw      string
		updatedRaw      string
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fileID,
		&kindStr,
		&stateStr,
		&priority,
		&retries,
		&maxRetries,
		&progressPercent,
		&progressStage,
		&isCancellable,
		&cancelRequested,
		&checkpointState,
		&heartbeatRaw,
		&workerID,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                    id,
		FileID:                fileID,
		Kind:                  JobKind(kindStr),
		State:                 JobState(stateStr),
		Priority:              priority,
		Retries:               retries,
		MaxRetries:            maxRetries,
		ProgressPercent:       progressPercent,
		ProgressStage:         progressStage.String,
		IsCancellable:         isCancellable != 0,
		CancellationRequested: cancelRequested != 0,
		CheckpointState:       FileState(checkpointState.String),
		WorkerID:              workerID.String,
		ErrorMessage:          errorMessage.String,
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}
