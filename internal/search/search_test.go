package search_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/deepcite/internal/search"
)

func TestDomainStripsWWWAndLowercases(t *testing.T) {
	assert.Equal(t, "example.com", search.Domain("https://WWW.example.com/path"))
	assert.Equal(t, "example.com", search.Domain("http://example.com"))
	assert.Equal(t, "", search.Domain("::not a url::"))
}

func TestIsAcademicMatchesParentDomains(t *testing.T) {
	assert.True(t, search.IsAcademic("https://cs.stanford.edu/paper"))
	assert.True(t, search.IsAcademic("https://arxiv.org/abs/1234"))
	assert.False(t, search.IsAcademic("https://example.com"))
}

func TestIsBlockedMatchesConfiguredDomainsAndPatterns(t *testing.T) {
	assert.True(t, search.IsBlocked("https://www.pinterest.com/pin/1", []string{"pinterest.com"}, nil))
	assert.True(t, search.IsBlocked("https://sub.pinterest.com/pin/1", []string{"pinterest.com"}, nil))
	assert.False(t, search.IsBlocked("https://example.com", []string{"pinterest.com"}, nil))
	assert.True(t, search.IsBlocked("https://example.com/data/vocab.txt", nil, nil))
	assert.True(t, search.IsBlocked("https://example.com/archive.zip", nil, []string{".zip"}))
}

func TestIsJunkContentDetectsWordLists(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "word")
	}
	assert.True(t, search.IsJunkContent(strings.Join(lines, "\n")))
}

func TestIsJunkContentFalseForProse(t *testing.T) {
	prose := strings.Repeat("This is a normal sentence with several words in it. ", 30)
	assert.False(t, search.IsJunkContent(prose))
}

func TestQualityScoreBlockedIsZero(t *testing.T) {
	score := search.QualityScore("https://scribd.com/doc/1", "title", "content", "", []string{"scribd.com"}, nil)
	assert.Equal(t, 0.0, score)
}

func TestQualityScoreAcademicBonus(t *testing.T) {
	content := strings.Repeat("word ", 2000)
	plain := search.QualityScore("https://example.com/article", "a reasonably long title", content, "", nil, nil)
	academic := search.QualityScore("https://arxiv.org/abs/1", "a reasonably long title", content, "", nil, nil)
	assert.Greater(t, academic, plain)
}

func TestQualityScoreClampedToUnitRange(t *testing.T) {
	content := strings.Repeat("word ", 2000)
	score := search.QualityScore("https://arxiv.org/abs/1", "a reasonably long title here", content, "", nil, nil)
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestQualityScorePenalizesShortContent(t *testing.T) {
	short := search.QualityScore("https://example.com", "t", "short", "", nil, nil)
	long := search.QualityScore("https://example.com", "t", strings.Repeat("word ", 2000), "", nil, nil)
	assert.Less(t, short, long)
}
