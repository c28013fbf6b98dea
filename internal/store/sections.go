package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// AddSections bulk-inserts sections for a session in one transaction,
// setting each section's ID, SessionID and timestamps in place; each
// section's Position is stored as the caller set it.
func (s *Store) AddSections(ctx context.Context, sessionID string, sections []*models.Section) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning add-sections tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sections (session_id, title, description, position, status, gap_fill, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing add-sections insert: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		if sec.Status == "" {
			sec.Status = models.SectionPlanned
		}
		res, err := stmt.ExecContext(ctx, sessionID, sec.Title, sec.Description, sec.Position, sec.Status, sec.GapFill, now, now)
		if err != nil {
			return fmt.Errorf("inserting section %q: %w", sec.Title, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading inserted section id: %w", err)
		}
		sec.ID = id
		sec.SessionID = sessionID
		sec.CreatedAt, sec.UpdatedAt = now, now
	}
	return tx.Commit()
}

const sectionColumns = `id, session_id, title, description, position, status, content, word_count, citation_count, gap_fill, created_at, updated_at`

func scanSection(row interface{ Scan(...any) error }) (*models.Section, error) {
	var sec models.Section
	if err := row.Scan(&sec.ID, &sec.SessionID, &sec.Title, &sec.Description, &sec.Position,
		&sec.Status, &sec.Content, &sec.WordCount, &sec.CitationCount, &sec.GapFill,
		&sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

// ListSections returns every section for a session ordered by position.
func (s *Store) ListSections(ctx context.Context, sessionID string) ([]*models.Section, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sectionColumns+` FROM sections WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	defer rows.Close()

	var out []*models.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// GetSection fetches a single section by id.
func (s *Store) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id = ?`, id)
	sec, err := scanSection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("section %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting section: %w", err)
	}
	return sec, nil
}

// UpdateSectionStatus advances a section's lifecycle state.
func (s *Store) UpdateSectionStatus(ctx context.Context, id int64, status models.SectionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sections SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating section status: %w", err)
	}
	return nil
}

// MarkSectionSynthesized persists synthesized content and its stats.
func (s *Store) MarkSectionSynthesized(ctx context.Context, id int64, content string, wordCount, citationCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sections SET status = ?, content = ?, word_count = ?, citation_count = ?, updated_at = ?
		WHERE id = ?`, models.SectionComplete, content, wordCount, citationCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking section synthesized: %w", err)
	}
	return nil
}
