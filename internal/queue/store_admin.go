package queue

import (
	"context"
	"fmt"
	"strings"
)

// ClearFiles removes files in the given states along with their jobs and
// events. Running files are never eligible; callers pass terminal states.
func (s *Store) ClearFiles(ctx context.Context, states ...FileState) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}
	ctx = ensureContext(ctx)

	placeholders := makePlaceholders(len(states))
	args := make([]any, 0, len(states))
	for _, state := range states {
		args = append(args, string(state))
	}

	var removed int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin clear tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		selectIDs := `SELECT id FROM files WHERE state IN (` + placeholders + `)`
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE file_id IN (`+selectIDs+`)`, args...); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE file_id IN (`+selectIDs+`)`, args...); err != nil {
			return fmt.Errorf("clear events: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE state IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("clear files: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("clear files count: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit clear: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// PruneSessions removes sessions that no longer own any files.
func (s *Store) PruneSessions(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT DISTINCT session_id FROM files)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// PausedKinds reports which per-kind pause flags are currently set.
func (s *Store) PausedKinds(ctx context.Context) ([]JobKind, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT key FROM settings WHERE key LIKE 'paused_%' AND value = 'true' ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("query paused kinds: %w", err)
	}
	defer rows.Close()

	var kinds []JobKind
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan paused kind: %w", err)
		}
		kinds = append(kinds, JobKind(strings.TrimPrefix(key, "paused_")))
	}
	return kinds, rows.Err()
}
