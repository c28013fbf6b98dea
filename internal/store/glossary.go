package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// AddGlossaryTerm inserts a glossary term, deduped case-insensitively per
// session via the idx_glossary_session_term unique index; a duplicate term
// is silently ignored rather than erroring, since research tasks routinely
// rediscover the same term.
func (s *Store) AddGlossaryTerm(ctx context.Context, term *models.GlossaryTerm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO glossary_terms (session_id, term, definition, origin_task_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, term) DO NOTHING`,
		term.SessionID, term.Term, term.Definition, term.OriginTaskID)
	if err != nil {
		return fmt.Errorf("inserting glossary term %q: %w", term.Term, err)
	}
	return nil
}

// ListGlossaryTerms returns every term recorded for a session.
func (s *Store) ListGlossaryTerms(ctx context.Context, sessionID string) ([]*models.GlossaryTerm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, term, definition, origin_task_id
		FROM glossary_terms WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing glossary terms: %w", err)
	}
	defer rows.Close()

	var out []*models.GlossaryTerm
	for rows.Next() {
		var g models.GlossaryTerm
		var originTaskID sql.NullInt64
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Term, &g.Definition, &originTaskID); err != nil {
			return nil, fmt.Errorf("scanning glossary term: %w", err)
		}
		if originTaskID.Valid {
			g.OriginTaskID = &originTaskID.Int64
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}
