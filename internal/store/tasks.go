package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// AddTask inserts a single pending task.
func (s *Store) AddTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (session_id, section_id, parent_task_id, topic, description, file_path,
			status, priority, depth, gap_fill, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.SessionID, task.SectionID, task.ParentTaskID, task.Topic, task.Description,
		task.FilePath, valueOr(task.Status, models.TaskPending), task.Priority, task.Depth, task.GapFill, now)
	if err != nil {
		return fmt.Errorf("inserting task %q: %w", task.Topic, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted task id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	return nil
}

func valueOr(status models.TaskStatus, fallback models.TaskStatus) models.TaskStatus {
	if status == "" {
		return fallback
	}
	return status
}

// AddTasks bulk-inserts follow-up or section-planning tasks in one
// transaction, honoring a hard cap on the grand total so the scheduler's
// max_total_tasks bound is enforced at the write boundary rather than
// trusted to callers.
func (s *Store) AddTasks(ctx context.Context, sessionID string, tasks []*models.Task, maxTotalTasks int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning add-tasks tx: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE session_id = ?`, sessionID).Scan(&current); err != nil {
		return 0, fmt.Errorf("counting existing tasks: %w", err)
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (session_id, section_id, parent_task_id, topic, description, file_path,
			status, priority, depth, gap_fill, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing add-tasks insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range tasks {
		if current+inserted >= maxTotalTasks {
			break
		}
		res, err := stmt.ExecContext(ctx, sessionID, t.SectionID, t.ParentTaskID, t.Topic, t.Description,
			t.FilePath, valueOr(t.Status, models.TaskPending), t.Priority, t.Depth, t.GapFill, now)
		if err != nil {
			return 0, fmt.Errorf("inserting task %q: %w", t.Topic, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading inserted task id: %w", err)
		}
		t.ID = id
		t.SessionID = sessionID
		t.CreatedAt = now
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing add-tasks tx: %w", err)
	}
	return inserted, nil
}

const taskColumns = `id, session_id, section_id, parent_task_id, topic, description, file_path, status, priority, depth, word_count, citation_count, gap_fill, retry_count, error_message, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var sectionID, parentID sql.NullInt64
	var completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.SessionID, &sectionID, &parentID, &t.Topic, &t.Description, &t.FilePath,
		&t.Status, &t.Priority, &t.Depth, &t.WordCount, &t.CitationCount, &t.GapFill, &t.RetryCount,
		&t.ErrorMessage, &t.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if sectionID.Valid {
		t.SectionID = &sectionID.Int64
	}
	if parentID.Valid {
		t.ParentTaskID = &parentID.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// ClaimNext is the scheduler's sole admission primitive: it atomically
// selects up to n pending tasks for the session, ordered by
// (priority DESC, depth ASC, id ASC), transitions them to in_progress, and
// returns the claimed rows. Because the pool is restricted to a single
// writer connection (see Open), this select-then-update sequence is
// effectively serialized across all callers — no two concurrent claims can
// observe and transition the same row.
func (s *Store) ClaimNext(ctx context.Context, sessionID string, n int) ([]*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE session_id = ? AND status = ?
		ORDER BY priority DESC, depth ASC, id ASC
		LIMIT ?`, sessionID, models.TaskPending, n)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable tasks: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning claimable task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	updateStmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET status = ? WHERE id = ? AND status = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing claim update: %w", err)
	}
	defer updateStmt.Close()

	claimed := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		res, err := updateStmt.ExecContext(ctx, models.TaskInProgress, id, models.TaskPending)
		if err != nil {
			return nil, fmt.Errorf("claiming task %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("reading claim result for task %d: %w", id, err)
		}
		if n == 0 {
			// Lost the race to a rollback-free impossible path under a
			// single-writer pool; defensively skip rather than fail the batch.
			continue
		}
		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
		task, err := scanTask(row)
		if err != nil {
			return nil, fmt.Errorf("reading claimed task %d: %w", id, err)
		}
		claimed = append(claimed, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim tx: %w", err)
	}
	return claimed, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// ListTasksForSection returns tasks owned by a section, in insertion order.
func (s *Store) ListTasksForSection(ctx context.Context, sectionID int64) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE section_id = ? ORDER BY id ASC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks for section: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksForSession returns every task in a session, insertion order.
// Used by the research stage to dedupe a proposed follow-up task's topic
// against everything already queued or completed.
func (s *Store) ListTasksForSession(ctx context.Context, sessionID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks for session: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTasks returns the count of tasks in a session, optionally filtered
// by status (pass "" for no filter).
func (s *Store) CountTasks(ctx context.Context, sessionID string, status models.TaskStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE session_id = ?`, sessionID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE session_id = ? AND status = ?`, sessionID, status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return count, nil
}

// MarkTaskCompleted finalizes a task with its word/citation stats.
func (s *Store) MarkTaskCompleted(ctx context.Context, id int64, wordCount, citationCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?, word_count = ?, citation_count = ?
		WHERE id = ?`, models.TaskCompleted, time.Now().UTC(), wordCount, citationCount, id)
	if err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}
	return nil
}

// MarkTaskFailed records a failure and increments retry_count.
func (s *Store) MarkTaskFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, retry_count = retry_count + 1
		WHERE id = ?`, models.TaskFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}
	return nil
}

// RetryFailed transitions failed tasks whose retry_count is still below
// maxRetries back to pending, clearing the error message, and returns the
// number of tasks reset.
func (s *Store) RetryFailed(ctx context.Context, sessionID string, maxRetries int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ''
		WHERE session_id = ? AND status = ? AND retry_count < ?`,
		models.TaskPending, sessionID, models.TaskFailed, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("retrying failed tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading retry-sweep result: %w", err)
	}
	return int(n), nil
}

// ReleaseInProgress transitions a session's in_progress tasks back to
// pending. Used after a claim-holding worker is torn down mid-flight (soft
// cancellation) so the store never leaves rows stuck in_progress forever.
func (s *Store) ReleaseInProgress(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE session_id = ? AND status = ?`,
		models.TaskPending, sessionID, models.TaskInProgress)
	if err != nil {
		return 0, fmt.Errorf("releasing in-progress tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// TotalWordCount sums word_count across completed tasks in a session.
func (s *Store) TotalWordCount(ctx context.Context, sessionID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(word_count) FROM tasks WHERE session_id = ? AND status = ?`,
		sessionID, models.TaskCompleted).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing word count: %w", err)
	}
	return int(total.Int64), nil
}
