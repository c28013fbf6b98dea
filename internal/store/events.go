package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// AddEvent appends one run event. It is safe to call concurrently from
// worker goroutines — the underlying pool serializes writers.
func (s *Store) AddEvent(ctx context.Context, ev *models.RunEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = models.SeverityInfo
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (session_id, task_id, event_type, query_group, query_text, url,
			title, snippet, quality_score, phase, severity, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.TaskID, ev.EventType, ev.QueryGroup, ev.QueryText, ev.URL, ev.Title,
		ev.Snippet, ev.QualityScore, ev.Phase, ev.Severity, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending run event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted event id: %w", err)
	}
	ev.ID = id
	return nil
}

// EventsAfter implements keyset pagination over (created_at, id) > cursor.
// An invalid or empty cursor token is treated as "from start". limit is
// clamped to [1, 500]. The returned next-cursor token is empty when the
// page was short (no more rows).
func (s *Store) EventsAfter(ctx context.Context, sessionID, cursorToken string, limit int) (events []*models.RunEvent, nextCursor string, err error) {
	limit = clampLimit(limit)
	cursor, hasCursor := decodeCursor(cursorToken)

	var rows *sql.Rows
	if hasCursor {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, task_id, event_type, query_group, query_text, url, title, snippet,
				quality_score, phase, severity, payload, created_at
			FROM run_events
			WHERE session_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
			ORDER BY created_at ASC, id ASC
			LIMIT ?`, sessionID, cursor.CreatedAt, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, task_id, event_type, query_group, query_text, url, title, snippet,
				quality_score, phase, severity, payload, created_at
			FROM run_events
			WHERE session_id = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev models.RunEvent
		var taskID sql.NullInt64
		var quality sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &taskID, &ev.EventType, &ev.QueryGroup, &ev.QueryText,
			&ev.URL, &ev.Title, &ev.Snippet, &quality, &ev.Phase, &ev.Severity, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scanning event: %w", err)
		}
		if taskID.Valid {
			ev.TaskID = &taskID.Int64
		}
		if quality.Valid {
			ev.QualityScore = &quality.Float64
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(events) == limit {
		last := events[len(events)-1]
		nextCursor = encodeCursor(models.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return events, nextCursor, nil
}
