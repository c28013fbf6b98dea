package citation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/deepcite/internal/citation"
)

func TestCountIgnoresMarkdownLinks(t *testing.T) {
	text := "See [1] and [this link](https://example.com) and [2]."
	assert.Equal(t, 2, citation.Count(text))
}

func TestCountIgnoresAdjacentBrackets(t *testing.T) {
	// "]]" before a number must not be mistaken for a valid marker prefix.
	text := "weird]][3] text"
	assert.Equal(t, 0, citation.Count(text))
}

func TestCountRejectsSecondOfAdjacentMarkers(t *testing.T) {
	// The second marker is preceded by "]" (the first marker's close
	// bracket), so per spec §4.7 it does not count as a separate citation.
	text := "claim [1][2] here"
	assert.Equal(t, 1, citation.Count(text))
}

func TestLocalNumbersDedupesInFirstAppearanceOrder(t *testing.T) {
	text := "[2] then [1] then [2] again"
	assert.Equal(t, []int{2, 1}, citation.LocalNumbers(text))
}

func TestStripPhantomCitationsRemovesAllMarkers(t *testing.T) {
	text := "Claim A [1]. Claim B [2]. See [this](https://x.com)."
	stripped := citation.StripPhantomCitations(text)
	assert.Equal(t, "Claim A . Claim B . See [this](https://x.com).", stripped)
}

func TestStripPhantomCitationsNoopWhenNoMarkers(t *testing.T) {
	text := "No citations here."
	assert.Equal(t, text, citation.StripPhantomCitations(text))
}

func TestRemapRewritesLocalToGlobal(t *testing.T) {
	text := "A [1] and B [2]."
	remapped, unmapped := citation.Remap(text, map[int]int{1: 5, 2: 9})
	assert.Equal(t, "A [5] and B [9].", remapped)
	assert.Empty(t, unmapped)
}

func TestRemapLeavesUnmappedMarkersUnchanged(t *testing.T) {
	text := "A [1] and B [3]."
	remapped, unmapped := citation.Remap(text, map[int]int{1: 5})
	assert.Equal(t, "A [5] and B [3].", remapped)
	assert.Equal(t, []int{3}, unmapped)
}

func TestRemapIgnoresMarkdownLinks(t *testing.T) {
	text := "See [1](https://example.com) and [2]."
	remapped, unmapped := citation.Remap(text, map[int]int{2: 7})
	assert.Equal(t, "See [1](https://example.com) and [7].", remapped)
	assert.Empty(t, unmapped)
}
