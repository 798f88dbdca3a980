package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetOrCreateSession finds the session with the given name, creating it on
// first sight. Sessions group the files recorded together in one event.
func (s *Store) GetOrCreateSession(ctx context.Context, name string, recordedAt time.Time) (*Session, error) {
	if name == "" {
		return nil, errors.New("session name must not be empty")
	}
	session, err := s.SessionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO sessions (name, recorded_at, created_at) VALUES (?, ?, ?)`,
		name,
		nullableTime(&recordedAt),
		timestamp(),
	)
	if err != nil {
		// Another writer may have inserted the same name between the read and
		// the insert; the unique constraint resolves the race.
		if existing, lookupErr := s.SessionByName(ctx, name); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession fetches a session by identifier.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, recorded_at, created_at FROM sessions WHERE id = ?`,
		id,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// SessionByName returns the session with the given name, if any.
func (s *Store) SessionByName(ctx context.Context, name string) (*Session, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, recorded_at, created_at FROM sessions WHERE name = ?`,
		name,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session by name: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, recorded_at, created_at FROM sessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		session     Session
		recordedRaw sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(&session.ID, &session.Name, &recordedRaw, &createdRaw); err != nil {
		return nil, err
	}
	if recordedRaw.Valid {
		if recorded, err := parseTimeString(recordedRaw.String); err == nil {
			session.RecordedAt = recorded
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	return &session, nil
}

// Settings keys understood by the daemon. Pause flags are consulted by worker
// loops before claiming, so a pause takes effect at the next claim attempt
// without interrupting in-flight work.
const (
	SettingPipelinePaused = "pipeline_paused"
	SettingKindPausedFmt  = "paused_%s"
)

// GetSetting returns the value for a key, or empty string when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		timestamp(),
	); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// SetPaused pauses or resumes the whole pipeline.
func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	return s.SetSetting(ctx, SettingPipelinePaused, strconv.FormatBool(paused))
}

// SetKindPaused pauses or resumes one stage.
func (s *Store) SetKindPaused(ctx context.Context, kind JobKind, paused bool) error {
	return s.SetSetting(ctx, fmt.Sprintf(SettingKindPausedFmt, kind), strconv.FormatBool(paused))
}

// IsPaused reports whether a kind should not be claimed right now, either
// because the whole pipeline or that specific stage is paused.
func (s *Store) IsPaused(ctx context.Context, kind JobKind) (bool, error) {
	global, err := s.GetSetting(ctx, SettingPipelinePaused)
	if err != nil {
		return false, err
	}
	if global == "true" {
		return true, nil
	}
	perKind, err := s.GetSetting(ctx, fmt.Sprintf(SettingKindPausedFmt, kind))
	if err != nil {
		return false, err
	}
	return perKind == "true", nil
}
