// Package synthesis implements the Synthesis Stage (spec §4.6): turning a
// section's completed task notes into one polished section, the report's
// executive summary, and its conclusion. Citation markers are renumbered
// from task-local to section-local here, the first of the two remap passes
// spec §4.8 describes; the second pass (section-local to report-global)
// belongs to the compiler.
//
// Grounded on tarsy's pkg/agent summarization flow for the "gather prior
// artifacts, one model call, persist" shape, adapted to this module's
// section/citation domain; the section-local remap itself is this module's
// own resolution of the spec's citation-numbering ambiguity (see DESIGN.md).
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/codeready-toolchain/deepcite/internal/citation"
	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/llm"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

// Dependencies bundles the collaborators the Synthesis Stage needs.
type Dependencies struct {
	LLM     llm.Client
	Store   *store.Store
	Ledger  *ledger.Ledger
	Prompts *prompts.Store
	Config  config.SynthesisConfig
	Log     *slog.Logger
}

// Synthesizer runs section, executive-summary, and conclusion generation.
type Synthesizer struct {
	deps Dependencies
}

// New builds a Synthesizer.
func New(deps Dependencies) *Synthesizer {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Synthesizer{deps: deps}
}

// SynthesizeSection reads a section's completed task notes, remaps their
// task-local citation numbers to section-local numbers, and asks the model
// to produce the finished section, persisting the result via
// MarkSectionSynthesized.
func (s *Synthesizer) SynthesizeSection(ctx context.Context, section *models.Section, sessionID string, allSections []*models.Section) error {
	tasks, err := s.deps.Store.ListTasksForSection(ctx, section.ID)
	if err != nil {
		return fmt.Errorf("listing section tasks: %w", err)
	}

	// distinctSources fixes the section-local citation numbering: it is the
	// same (position, task_id) ordering the ledger's section view always
	// returns, so the compiler can recompute it later without persisting a
	// separate mapping.
	distinctSources, err := s.deps.Ledger.SourcesForSection(ctx, section.ID)
	if err != nil {
		return fmt.Errorf("listing section sources: %w", err)
	}
	sourceIndex := make(map[int64]int, len(distinctSources))
	for i, src := range distinctSources {
		sourceIndex[src.ID] = i + 1
	}

	var notesBuilder strings.Builder
	var anyUnmapped []int
	for _, task := range tasks {
		if task.Status != models.TaskCompleted {
			continue
		}
		raw, err := os.ReadFile(task.FilePath)
		if err != nil {
			s.deps.Log.Warn("skipping task with unreadable notes file", "task_id", task.ID, "path", task.FilePath, "error", err)
			continue
		}

		srcs, _, err := s.deps.Ledger.SourcesForTask(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("listing sources for task %d: %w", task.ID, err)
		}
		localToGlobal := make(map[int]int, len(srcs))
		for i, src := range srcs {
			if n, ok := sourceIndex[src.ID]; ok {
				localToGlobal[i+1] = n
			}
		}

		remapped, unmapped := citation.Remap(string(raw), localToGlobal)
		anyUnmapped = append(anyUnmapped, unmapped...)

		fmt.Fprintf(&notesBuilder, "## %s\n\n%s\n\n", task.Topic, remapped)
	}
	if len(anyUnmapped) > 0 {
		s.deps.Log.Warn("section notes contained citation markers with no source mapping",
			"section_id", section.ID, "local_numbers", anyUnmapped)
	}

	set, err := s.deps.Prompts.Get("synthesis", "section")
	if err != nil {
		return err
	}
	resp, err := s.complete(ctx, set, "", map[string]any{
		"Title": section.Title, "Description": section.Description,
		"StyleProfile":    s.deps.Config.StyleProfile,
		"AdjacentContext": adjacentContext(section, allSections),
		"Notes":           notesBuilder.String(),
		"MinWords":        s.deps.Config.MinWordsPerSection,
		"MinCitations":    s.deps.Config.MinCitationsPerSection,
	})
	if err != nil {
		return fmt.Errorf("synthesizing section %q: %w", section.Title, err)
	}

	content := resp.Content
	if len(distinctSources) == 0 {
		content = citation.StripPhantomCitations(content)
	}

	wordCount := len(strings.Fields(content))
	citationCount := citation.Count(content)
	if err := s.deps.Store.MarkSectionSynthesized(ctx, section.ID, content, wordCount, citationCount); err != nil {
		return fmt.Errorf("persisting synthesized section: %w", err)
	}
	return nil
}

// ExecutiveSummary writes the report's executive summary from every
// section's content, truncated to a representative excerpt per section.
func (s *Synthesizer) ExecutiveSummary(ctx context.Context, query string, sections []*models.Section) (string, error) {
	set, err := s.deps.Prompts.Get("synthesis", "executive_summary")
	if err != nil {
		return "", err
	}
	resp, err := s.complete(ctx, set, "", map[string]any{
		"Query": query, "SectionSummaries": summarizeSections(sections),
	})
	if err != nil {
		return "", fmt.Errorf("writing executive summary: %w", err)
	}
	return citation.StripPhantomCitations(resp.Content), nil
}

// Conclusion writes the report's conclusion from every section's content.
func (s *Synthesizer) Conclusion(ctx context.Context, query string, sections []*models.Section) (string, error) {
	set, err := s.deps.Prompts.Get("synthesis", "conclusion")
	if err != nil {
		return "", err
	}
	resp, err := s.complete(ctx, set, "", map[string]any{
		"Query": query, "SectionSummaries": summarizeSections(sections),
		"TotalWordCount": totalWordCount(sections), "SectionCount": len(sections),
	})
	if err != nil {
		return "", fmt.Errorf("writing conclusion: %w", err)
	}
	return citation.StripPhantomCitations(resp.Content), nil
}

func (s *Synthesizer) complete(ctx context.Context, set prompts.Set, variant string, data map[string]any) (llm.Response, error) {
	userTmpl, err := set.UserVariant(variant)
	if err != nil {
		return llm.Response{}, err
	}
	user, err := prompts.Render(userTmpl, data)
	if err != nil {
		return llm.Response{}, err
	}
	return s.deps.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: set.System},
			{Role: llm.RoleUser, Content: user},
		},
	})
}

// adjacentContext describes only the immediately preceding and following
// sections by outline position, per spec §4.4 phase 6 — not every other
// section in the report.
func adjacentContext(section *models.Section, all []*models.Section) string {
	var prev, next *models.Section
	for _, other := range all {
		if other.ID == section.ID {
			continue
		}
		switch {
		case other.Position < section.Position && (prev == nil || other.Position > prev.Position):
			prev = other
		case other.Position > section.Position && (next == nil || other.Position < next.Position):
			next = other
		}
	}

	var b strings.Builder
	if prev != nil {
		fmt.Fprintf(&b, "- %s: %s\n", prev.Title, prev.Description)
	}
	if next != nil {
		fmt.Fprintf(&b, "- %s: %s\n", next.Title, next.Description)
	}
	return b.String()
}

// summarizeSections excerpts each section's first 500 words, suffixing an
// ellipsis when truncated, per spec §4.6's executive-summary/conclusion
// input contract.
func summarizeSections(sections []*models.Section) string {
	var b strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&b, "### %s\n%s\n\n", sec.Title, firstWords(sec.Content, 500))
	}
	return b.String()
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "…"
}

func totalWordCount(sections []*models.Section) int {
	total := 0
	for _, sec := range sections {
		total += len(strings.Fields(sec.Content))
	}
	return total
}
