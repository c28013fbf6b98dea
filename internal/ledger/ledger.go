// Package ledger is the Source Ledger: a thin, citation-oriented view over
// the state store's sources and task_sources tables. It gives the
// research, synthesis, and compiler stages a single place to reason about
// presentation order, the gap-fill position offset, and the per-(task,
// source) extraction cache, per spec §4.2.
package ledger

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

// GapFillOffset is added to the position of sources discovered during a
// task's gap-fill pass so they sort after that task's initial source block
// while still being locally ordered among themselves.
const GapFillOffset = 100

// Ledger wraps a Store with source-citation semantics.
type Ledger struct {
	store *store.Store
}

// New builds a Ledger over an open Store.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// AddSource upserts a source by URL and links it to taskID at position,
// delegating to the store's upsert contract (insert-or-update-edge-only).
func (l *Ledger) AddSource(ctx context.Context, src *models.Source, taskID int64, position int) (*models.Source, error) {
	return l.store.AddSource(ctx, src, taskID, position)
}

// AddGapFillSource upserts a source discovered during gap-fill, offsetting
// its position so it sorts after the task's initial source block.
func (l *Ledger) AddGapFillSource(ctx context.Context, src *models.Source, taskID int64, localIndex int) (*models.Source, error) {
	return l.store.AddSource(ctx, src, taskID, GapFillOffset+localIndex)
}

// SourcesForTask returns a task's sources in presentation order — the
// order the model sees them in a prompt as "Source N" — paired with their
// TaskSource edges (position and extracted content).
func (l *Ledger) SourcesForTask(ctx context.Context, taskID int64) ([]*models.Source, []models.TaskSource, error) {
	return l.store.SourcesForTask(ctx, taskID)
}

// SourcesForSection returns every source cited across a section's tasks,
// deduplicated by source id, first-encounter order preserved.
func (l *Ledger) SourcesForSection(ctx context.Context, sectionID int64) ([]*models.Source, error) {
	return l.store.SourcesForSection(ctx, sectionID)
}

// RecordExtraction writes the per-(task, source) extraction cache once,
// after the research stage's LLM extraction pass.
func (l *Ledger) RecordExtraction(ctx context.Context, taskID, sourceID int64, extracted string) error {
	return l.store.UpdateSourceExtraction(ctx, taskID, sourceID, extracted)
}

// ContentForPrompt returns the best available text for a source in a
// prompt: the cached extraction if present, otherwise the raw scraped
// content, otherwise the search snippet. Missing extraction is not an
// error — downstream consumers always have a fallback.
func ContentForPrompt(src *models.Source, edge models.TaskSource) string {
	switch {
	case edge.ExtractedContent != "":
		return edge.ExtractedContent
	case src.Content != "":
		return src.Content
	default:
		return src.Snippet
	}
}

// SeenURLs returns the set of URLs already attached to a task, used by the
// gap-fill pass to avoid re-scraping sources the initial pass already
// found.
func (l *Ledger) SeenURLs(ctx context.Context, taskID int64) (map[string]bool, error) {
	sources, _, err := l.store.SourcesForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task sources for dedup: %w", err)
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		seen[s.URL] = true
	}
	return seen, nil
}
