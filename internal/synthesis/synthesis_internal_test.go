package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// TestAdjacentContextOnlyPrevAndNext guards spec §4.4 phase 6's contract:
// a section's synthesis context names only its immediate neighbors by
// outline position, not every other section in the report.
func TestAdjacentContextOnlyPrevAndNext(t *testing.T) {
	sections := []*models.Section{
		{ID: 1, Title: "Intro", Description: "intro desc", Position: 0},
		{ID: 2, Title: "Middle", Description: "middle desc", Position: 1},
		{ID: 3, Title: "Conclusion", Description: "conclusion desc", Position: 2},
		{ID: 4, Title: "Appendix", Description: "appendix desc", Position: 3},
	}

	ctx := adjacentContext(sections[1], sections)
	assert.Contains(t, ctx, "Intro")
	assert.Contains(t, ctx, "Conclusion")
	assert.NotContains(t, ctx, "Appendix")
}

func TestAdjacentContextFirstSectionHasNoPrev(t *testing.T) {
	sections := []*models.Section{
		{ID: 1, Title: "Intro", Description: "intro desc", Position: 0},
		{ID: 2, Title: "Middle", Description: "middle desc", Position: 1},
	}

	ctx := adjacentContext(sections[0], sections)
	assert.NotContains(t, ctx, "Intro")
	assert.Contains(t, ctx, "Middle")
}

// TestSummarizeSectionsTruncatesAtFiveHundredWords guards spec §4.6's
// executive-summary/conclusion input contract: each section excerpt is the
// first 500 words, ellipsis-suffixed only when truncation actually occurs.
func TestSummarizeSectionsTruncatesAtFiveHundredWords(t *testing.T) {
	longContent := strings.Repeat("word ", 600)
	shortContent := "short section body."

	out := summarizeSections([]*models.Section{
		{Title: "Long", Content: longContent},
		{Title: "Short", Content: shortContent},
	})

	assert.Contains(t, out, "…")
	assert.Contains(t, out, shortContent)

	longExcerpt := firstWords(longContent, 500)
	assert.True(t, strings.HasSuffix(longExcerpt, "…"))
	assert.Equal(t, 500, len(strings.Fields(strings.TrimSuffix(longExcerpt, "…"))))
}

func TestFirstWordsNoTruncationWhenShort(t *testing.T) {
	text := "one two three"
	assert.Equal(t, text, firstWords(text, 500))
}

func TestFirstWordsTruncatesWithEllipsis(t *testing.T) {
	text := strings.Repeat("w ", 10)
	out := firstWords(text, 3)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, 3, len(strings.Fields(strings.TrimSuffix(out, "…"))))
}

func TestTotalWordCountSumsAcrossSections(t *testing.T) {
	sections := []*models.Section{
		{Content: "one two three"},
		{Content: "four five"},
	}
	assert.Equal(t, 5, totalWordCount(sections))
}
