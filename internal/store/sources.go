package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// AddSource upserts a source by URL and links it to taskID at position.
// If the URL already exists, only the (task, source, position) edge is
// inserted or, if present with a different position, updated — the source
// row itself is never overwritten by a later visit, matching the store's
// "insert or update the edge only" contract.
func (s *Store) AddSource(ctx context.Context, src *models.Source, taskID int64, position int) (*models.Source, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning add-source tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanSource(tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, src.URL))
	switch {
	case err == sql.ErrNoRows:
		if src.AccessedAt.IsZero() {
			src.AccessedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sources (url, title, domain, snippet, content, quality_score, academic, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			src.URL, src.Title, src.Domain, src.Snippet, src.Content, src.QualityScore, src.Academic, src.AccessedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting source %q: %w", src.URL, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading inserted source id: %w", err)
		}
		src.ID = id
		if err := linkTaskSource(ctx, tx, taskID, src.ID, position); err != nil {
			return nil, err
		}
		return src, tx.Commit()
	case err != nil:
		return nil, fmt.Errorf("looking up source by url: %w", err)
	}

	if err := linkTaskSource(ctx, tx, taskID, existing.ID, position); err != nil {
		return nil, err
	}
	return existing, tx.Commit()
}

func linkTaskSource(ctx context.Context, tx *sql.Tx, taskID, sourceID int64, position int) error {
	var currentPosition int
	err := tx.QueryRowContext(ctx, `
		SELECT position FROM task_sources WHERE task_id = ? AND source_id = ?`, taskID, sourceID).Scan(&currentPosition)
	switch {
	case err == sql.ErrNoRows:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_sources (task_id, source_id, position) VALUES (?, ?, ?)`, taskID, sourceID, position)
		if err != nil {
			return fmt.Errorf("linking task %d to source %d: %w", taskID, sourceID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking existing task-source edge: %w", err)
	case currentPosition != position:
		_, err := tx.ExecContext(ctx, `
			UPDATE task_sources SET position = ? WHERE task_id = ? AND source_id = ?`, position, taskID, sourceID)
		if err != nil {
			return fmt.Errorf("updating task-source position: %w", err)
		}
	}
	return nil
}

const sourceColumns = `id, url, title, domain, snippet, content, quality_score, academic, accessed_at`

func scanSource(row interface{ Scan(...any) error }) (*models.Source, error) {
	var src models.Source
	if err := row.Scan(&src.ID, &src.URL, &src.Title, &src.Domain, &src.Snippet, &src.Content,
		&src.QualityScore, &src.Academic, &src.AccessedAt); err != nil {
		return nil, err
	}
	return &src, nil
}

// GetSourceByURL looks up a source by its URL.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, url))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting source by url: %w", err)
	}
	return src, nil
}

// SourcesForTask returns a task's sources ordered by (position ASC, source
// id ASC) alongside each edge's extracted content, the presentation order
// the Source Ledger exposes to prompts and the compiler.
func (s *Store) SourcesForTask(ctx context.Context, taskID int64) ([]*models.Source, []models.TaskSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.url, s.title, s.domain, s.snippet, s.content, s.quality_score, s.academic, s.accessed_at,
			ts.position, ts.extracted_content
		FROM task_sources ts JOIN sources s ON s.id = ts.source_id
		WHERE ts.task_id = ?
		ORDER BY ts.position ASC, s.id ASC`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing sources for task: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	var edges []models.TaskSource
	for rows.Next() {
		var src models.Source
		var position int
		var extracted string
		if err := rows.Scan(&src.ID, &src.URL, &src.Title, &src.Domain, &src.Snippet, &src.Content,
			&src.QualityScore, &src.Academic, &src.AccessedAt, &position, &extracted); err != nil {
			return nil, nil, fmt.Errorf("scanning task source: %w", err)
		}
		sources = append(sources, &src)
		edges = append(edges, models.TaskSource{TaskID: taskID, SourceID: src.ID, Position: position, ExtractedContent: extracted})
	}
	return sources, edges, rows.Err()
}

// CountDistinctSources returns the number of distinct sources linked to any
// task in sessionID, the running total the phase runner writes into the
// session's total_sources counter.
func (s *Store) CountDistinctSources(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ts.source_id)
		FROM task_sources ts
		JOIN tasks t ON t.id = ts.task_id
		WHERE t.session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting distinct sources: %w", err)
	}
	return n, nil
}

// UpdateSourceExtraction writes the extracted_content for a (task, source)
// edge, run once after LLM extraction.
func (s *Store) UpdateSourceExtraction(ctx context.Context, taskID, sourceID int64, extracted string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_sources SET extracted_content = ? WHERE task_id = ? AND source_id = ?`,
		extracted, taskID, sourceID)
	if err != nil {
		return fmt.Errorf("updating source extraction: %w", err)
	}
	return nil
}

// SourcesForSection returns every source cited by any task in the section,
// in TaskSource position order, deduplicated by source id while preserving
// first-encounter order — the Source Ledger's section-level view.
func (s *Store) SourcesForSection(ctx context.Context, sectionID int64) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.url, s.title, s.domain, s.snippet, s.content, s.quality_score, s.academic, s.accessed_at
		FROM task_sources ts
		JOIN tasks t ON t.id = ts.task_id
		JOIN sources s ON s.id = ts.source_id
		WHERE t.section_id = ?
		ORDER BY ts.position ASC, ts.task_id ASC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("listing sources for section: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	var out []*models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.URL, &src.Title, &src.Domain, &src.Snippet, &src.Content,
			&src.QualityScore, &src.Academic, &src.AccessedAt); err != nil {
			return nil, fmt.Errorf("scanning section source: %w", err)
		}
		if seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		out = append(out, &src)
	}
	return out, rows.Err()
}
