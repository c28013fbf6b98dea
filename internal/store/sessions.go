package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// CreateSession inserts a new running session for query and returns it.
func (s *Store) CreateSession(ctx context.Context, query string) (*models.Session, error) {
	sess := &models.Session{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    models.SessionRunning,
		Phase:     models.PhaseIdle,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, query, status, phase, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Query, sess.Status, sess.Phase, sess.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

const sessionColumns = `
	id, query, refined_brief, refinement_qa, status, phase, started_at, ended_at,
	cancel_requested_at, total_tasks, completed_tasks, failed_tasks, total_words,
	total_sources, executive_summary, conclusion, markdown_path, html_path, pdf_path`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var sess models.Session
	var endedAt, cancelAt sql.NullTime
	if err := row.Scan(
		&sess.ID, &sess.Query, &sess.RefinedBrief, &sess.RefinementQA, &sess.Status, &sess.Phase,
		&sess.StartedAt, &endedAt, &cancelAt, &sess.TotalTasks, &sess.CompletedTasks,
		&sess.FailedTasks, &sess.TotalWords, &sess.TotalSources, &sess.ExecutiveSummary,
		&sess.Conclusion, &sess.MarkdownPath, &sess.HTMLPath, &sess.PDFPath,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if cancelAt.Valid {
		sess.CancelRequestedAt = &cancelAt.Time
	}
	return &sess, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// MostRecentRunningSession returns the latest session still in the
// "running" status, used to support resume without an explicit session id.
func (s *Store) MostRecentRunningSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? ORDER BY started_at DESC LIMIT 1`, models.SessionRunning)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("running session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting most recent running session: %w", err)
	}
	return sess, nil
}

// ListRunningSessions returns every session still marked "running" —
// typically left behind by a process that exited without finalizing —
// used by the CLI's reset command to find stuck state.
func (s *Store) ListRunningSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY started_at ASC`, models.SessionRunning)
	if err != nil {
		return nil, fmt.Errorf("listing running sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning running session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MostRecentSession returns the latest session of any status, used by the
// Service Facade to resolve an omitted session id to "whatever ran last".
func (s *Store) MostRecentSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT 1`)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("most recent session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting most recent session: %w", err)
	}
	return sess, nil
}

// UpdateSessionPhase records a phase transition.
func (s *Store) UpdateSessionPhase(ctx context.Context, id string, phase models.Phase) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET phase = ? WHERE id = ?`, phase, id)
	if err != nil {
		return fmt.Errorf("updating session phase: %w", err)
	}
	return nil
}

// UpdateSessionBrief persists the query-refinement output.
func (s *Store) UpdateSessionBrief(ctx context.Context, id, refinedBrief, refinementQA string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET refined_brief = ?, refinement_qa = ? WHERE id = ?`,
		refinedBrief, refinementQA, id)
	if err != nil {
		return fmt.Errorf("updating session brief: %w", err)
	}
	return nil
}

// UpdateSessionCounters is called as tasks complete and sources accumulate.
func (s *Store) UpdateSessionCounters(ctx context.Context, id string, totalTasks, completedTasks, failedTasks, totalWords, totalSources int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET total_tasks = ?, completed_tasks = ?, failed_tasks = ?,
		total_words = ?, total_sources = ? WHERE id = ?`,
		totalTasks, completedTasks, failedTasks, totalWords, totalSources, id)
	if err != nil {
		return fmt.Errorf("updating session counters: %w", err)
	}
	return nil
}

// MarkCancelRequested sets cancel_requested_at if it is not already set.
func (s *Store) MarkCancelRequested(ctx context.Context, id string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET cancel_requested_at = ?
		WHERE id = ? AND cancel_requested_at IS NULL`, ts, id)
	if err != nil {
		return fmt.Errorf("marking cancel requested: %w", err)
	}
	return nil
}

// FinalizeSession writes the terminal status, end timestamp, compiled
// artifacts and report text in one write.
func (s *Store) FinalizeSession(ctx context.Context, id string, status models.SessionStatus, execSummary, conclusion, markdownPath, htmlPath, pdfPath string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, phase = ?, ended_at = ?, executive_summary = ?,
		conclusion = ?, markdown_path = ?, html_path = ?, pdf_path = ? WHERE id = ?`,
		status, models.PhaseComplete, now, execSummary, conclusion, markdownPath, htmlPath, pdfPath, id)
	if err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	return nil
}

// ResumeSession transitions a session back to running, for the resume path.
func (s *Store) ResumeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, models.SessionRunning, id)
	if err != nil {
		return fmt.Errorf("resuming session: %w", err)
	}
	return nil
}
