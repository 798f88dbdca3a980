package queue

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendEvent records an observable pipeline transition. Events are
// append-only; consumers poll with EventsAfter and track their own cursor.
func (s *Store) AppendEvent(ctx context.Context, fileID int64, eventType, payload string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO events (file_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		fileID,
		eventType,
		nullableString(payload),
		timestamp(),
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsAfter returns events with identifiers greater than the cursor, oldest
// first, capped at limit.
func (s *Store) EventsAfter(ctx context.Context, cursor int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, file_id, event_type, payload, created_at FROM events
         WHERE id > ? ORDER BY id ASC LIMIT ?`,
		cursor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("events after: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event      Event
			payload    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&event.ID, &event.FileID, &event.EventType, &payload, &createdRaw); err != nil {
			return nil, err
		}
		event.Payload = payload.String
		if created, parseErr := parseTimeString(createdRaw); parseErr == nil {
			event.CreatedAt = created
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// EventsForFile returns a file's events oldest first.
func (s *Store) EventsForFile(ctx context.Context, fileID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, file_id, event_type, payload, created_at FROM events
         WHERE file_id = ? ORDER BY id ASC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("events for file: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event      Event
			payload    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&event.ID, &event.FileID, &event.EventType, &payload, &createdRaw); err != nil {
			return nil, err
		}
		event.Payload = payload.String
		if created, parseErr := parseTimeString(createdRaw); parseErr == nil {
			event.CreatedAt = created
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// LatestEventID returns the highest event identifier, for initializing
// consumer cursors so old history is not replayed.
func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("latest event id: %w", err)
	}
	return id, nil
}
