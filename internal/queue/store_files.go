package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const fileColumns = "id, session_id, parent_file_id, filename, remote_path, local_path, processed_path, final_path, size_bytes, duration_seconds, checksum, is_empty, is_iso, is_program_output, is_missing, state, error_message, failure_category, failure_job_kind, failed_at, retry_after, recovery_attempts, created_at, updated_at"

// NewFile inserts a discovered file. SessionID, Filename, and RemotePath must
// be set; the state is forced to discovered.
func (s *Store) NewFile(ctx context.Context, file *File) (*File, error) {
	if file == nil {
		return nil, errors.New("file is nil")
	}
	if file.RemotePath == "" {
		return nil, errors.New("remote path must not be empty")
	}
	now := timestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO files (
            session_id, parent_file_id, filename, remote_path, size_bytes,
            duration_seconds, checksum, is_empty, is_iso, is_program_output,
            is_missing, state, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.SessionID,
		nullableInt64(file.ParentFileID),
		file.Filename,
		file.RemotePath,
		file.SizeBytes,
		file.DurationSeconds,
		nullableString(file.Checksum),
		boolToInt(file.IsEmpty),
		boolToInt(file.IsISO),
		boolToInt(file.IsProgramOutput),
		boolToInt(file.IsMissing),
		FileDiscovered,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFile(ctx, id)
}

// GetFile fetches a file by identifier.
func (s *Store) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// FileByRemotePath returns the file matching a remote locator, if any.
func (s *Store) FileByRemotePath(ctx context.Context, remotePath string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE remote_path = ?`, remotePath)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by remote path: %w", err)
	}
	return file, nil
}

// UpdateFile persists changes to an existing file.
func (s *Store) UpdateFile(ctx context.Context, file *File) error {
	if file == nil {
		return errors.New("file is nil")
	}
	file.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(ctx, updateFileSQL, updateFileArgs(file)...)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

const updateFileSQL = `UPDATE files
    SET session_id = ?, parent_file_id = ?, filename = ?, remote_path = ?,
        local_path = ?, processed_path = ?, final_path = ?, size_bytes = ?,
        duration_seconds = ?, checksum = ?, is_empty = ?, is_iso = ?,
        is_program_output = ?, is_missing = ?, state = ?, error_message = ?,
        failure_category = ?, failure_job_kind = ?, failed_at = ?,
        retry_after = ?, recovery_attempts = ?, updated_at = ?
    WHERE id = ?`

func updateFileArgs(file *File) []any {
	return []any{
		file.SessionID,
		nullableInt64(file.ParentFileID),
		file.Filename,
		file.RemotePath,
		nullableString(file.LocalPath),
		nullableString(file.ProcessedPath),
		nullableString(file.FinalPath),
		file.SizeBytes,
		file.DurationSeconds,
		nullableString(file.Checksum),
		boolToInt(file.IsEmpty),
		boolToInt(file.IsISO),
		boolToInt(file.IsProgramOutput),
		boolToInt(file.IsMissing),
		file.State,
		nullableString(file.ErrorMessage),
		nullableString(string(file.FailureCategory)),
		nullableString(string(file.FailureJobKind)),
		nullableTime(file.FailedAt),
		nullableTime(file.RetryAfter),
		file.RecoveryAttempts,
		file.UpdatedAt.Format(time.RFC3339Nano),
		file.ID,
	}
}

// FilesByState returns files matching any of the given states, oldest first.
func (s *Store) FilesByState(ctx context.Context, states ...FileState) ([]*File, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(states))
	args := make([]any, len(states))
	for i, state := range states {
		args[i] = state
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files WHERE state IN (`+placeholders+`) ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("files by state: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListFiles returns all files, optionally filtered by states.
func (s *Store) ListFiles(ctx context.Context, states ...FileState) ([]*File, error) {
	if len(states) > 0 {
		return s.FilesByState(ctx, states...)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// FailedFilesOldestFirst returns failed files ordered by failure time so the
// recovery orchestrator serves the longest-waiting files first.
func (s *Store) FailedFilesOldestFirst(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files WHERE state = ? ORDER BY failed_at, id`,
		FileFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// FilesForSession returns a session's files oldest first.
func (s *Store) FilesForSession(ctx context.Context, sessionID int64) ([]*File, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("files for session: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// CheckpointForFile resolves the resumable checkpoint for a file. Non-failed
// states use the static rollback map. Failed files are resolved from the most
// recently completed job, falling back to discovered when no job ever
// finished.
func (s *Store) CheckpointForFile(ctx context.Context, file *File) (FileState, error) {
	if file == nil {
		return FileDiscovered, errors.New("file is nil")
	}
	if file.State != FileFailed {
		return ResumableCheckpoint(file.State), nil
	}
	job, err := s.LastDoneJob(ctx, file.ID)
	if err != nil {
		return FileDiscovered, err
	}
	if job == nil {
		return FileDiscovered, nil
	}
	return job.Kind.DoneState(), nil
}

// Stats returns a count of files grouped by state.
func (s *Store) Stats(ctx context.Context) (map[FileState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM files GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("file stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[FileState]int)
	for rows.Next() {
		var state FileState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates file state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case FileDiscovered:
			health.Discovered += count
		case FileFailed:
			health.Failed += count
		case FileCompleted:
			health.Completed += count
		case FileSkipped:
			health.Skipped += count
		default:
			if state.IsInProgress() {
				health.InProgress += count
			}
		}
	}
	return health, nil
}

func collectFiles(rows *sql.Rows) ([]*File, error) {
	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*File, error) {
	var (
		id              int64
		sessionID       int64
		parentFileID    sql.NullInt64
		filename        string
		remotePath      string
		localPath       sql.NullString
		processedPath   sql.NullString
		finalPath       sql.NullString
		sizeBytes       int64
		duration        float64
		checksum        sql.NullString
		isEmpty         int
		isISO           int
		isProgram       int
		isMissing       int
		stateStr        string
		errorMessage    sql.NullString
		failureCategory sql.NullString
		failureJobKind  sql.NullString
		failedAtRaw     sql.NullString
		retryAfterRaw   sql.NullString
		recoveryCount   int
		createdRaw      string
		updatedRaw      string
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&parentFileID,
		&filename,
		&remotePath,
		&localPath,
		&processedPath,
		&finalPath,
		&sizeBytes,
		&duration,
		&checksum,
		&isEmpty,
		&isISO,
		&isProgram,
		&isMissing,
		&stateStr,
		&errorMessage,
		&failureCategory,
		&failureJobKind,
		&failedAtRaw,
		&retryAfterRaw,
		&recoveryCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	file := &File{
		ID:               id,
		SessionID:        sessionID,
		Filename:         filename,
		RemotePath:       remotePath,
		LocalPath:        localPath.String,
		ProcessedPath:    processedPath.String,
		FinalPath:        finalPath.String,
		SizeBytes:        sizeBytes,
		DurationSeconds:  duration,
		Checksum:         checksum.String,
		IsEmpty:          isEmpty != 0,
		IsISO:            isISO != 0,
		IsProgramOutput:  isProgram != 0,
		IsMissing:        isMissing != 0,
		State:            FileState(stateStr),
		ErrorMessage:     errorMessage.String,
		FailureCategory:  FailureCategory(failureCategory.String),
		FailureJobKind:   JobKind(failureJobKind.String),
		RecoveryAttempts: recoveryCount,
	}
	if parentFileID.Valid {
		parent := parentFileID.Int64
		file.ParentFileID = &parent
	}
	if failedAtRaw.Valid {
		if failedAt, err := parseTimeString(failedAtRaw.String); err == nil {
			file.FailedAt = &failedAt
		}
	}
	if retryAfterRaw.Valid {
		if retryAfter, err := parseTimeString(retryAfterRaw.String); err == nil {
			file.RetryAfter = &retryAfter
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		file.UpdatedAt = updated
	}
	return file, nil
}
