// Package search defines the web-search collaborator interface and the
// source-quality/domain-classification helpers shared by every caller that
// accepts or rejects a candidate source, kept separate from the concrete
// HTTP-backed provider in internal/searchclient so tests can script results
// without touching transport code.
package search

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrTransientNetwork wraps a Search or Scrape failure that is worth
// retrying with backoff: a connection error, timeout, or 5xx/429 response
// from the provider, following tarsy's pkg/queue sentinel-error style.
var ErrTransientNetwork = errors.New("search: transient network error")

// Result is one hit returned by a search provider.
type Result struct {
	URL        string
	Title      string
	Snippet    string
	RawContent string // pre-fetched page content, when the provider supplies it
	Score      float64
}

// Client is the collaborator interface the research stage programs
// against. Implementations must honor ctx cancellation and apply their own
// rate limiting.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Academic domains recognized for the quality-score bonus.
var academicDomains = map[string]bool{
	"edu": true, "ac.uk": true, "ac.jp": true, "edu.au": true, "edu.cn": true,
	"arxiv.org": true, "pubmed.gov": true, "ncbi.nlm.nih.gov": true,
	"scholar.google.com": true, "semanticscholar.org": true,
	"researchgate.net": true, "academia.edu": true, "jstor.org": true,
	"springer.com": true, "nature.com": true, "sciencedirect.com": true,
	"ieee.org": true, "acm.org": true, "nih.gov": true, "gov": true,
}

// High-quality general-purpose domains recognized for a smaller bonus.
var highQualityDomains = map[string]bool{
	"wikipedia.org": true, "britannica.com": true, "bbc.com": true, "bbc.co.uk": true,
	"nytimes.com": true, "washingtonpost.com": true, "theguardian.com": true,
	"reuters.com": true, "apnews.com": true, "bloomberg.com": true,
	"techcrunch.com": true, "wired.com": true, "arstechnica.com": true,
	"medium.com": true, "github.com": true, "stackoverflow.com": true,
}

// blockedURLPatterns flags data-dump and embedding-file URLs that never
// make usable article content, even before a domain-level check.
var blockedURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(txt|csv|tsv|json|jsonl|xml|dat|sql|log|gz|zip|tar|bz2|xz|bin|pkl)(\?.*)?$`),
	regexp.MustCompile(`(?i)/data/[^/]*\.(txt|csv)`),
	regexp.MustCompile(`(?i)/resources?/.*embeddings`),
	regexp.MustCompile(`(?i)/zxcvbn/`),
	regexp.MustCompile(`(?i)vocab[_.].*\.txt`),
}

var stopwords = buildStopwords()

func buildStopwords() map[string]bool {
	words := strings.Fields(`a an the is are was were be been being
		have has had do does did will would could should may might shall can need dare ought
		used to of in for on with at by from as into through during before after above below
		between out off over under again further then once here there when where why how all each
		every both few more most other some such no nor not only own same so than too very
		and but or if while because until about
		what which who whom this that these those
		it its i me my we our you your he him his she her they them their`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Domain extracts the lowercase, www-stripped host from a URL, returning
// "" if url is unparseable.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// IsAcademic reports whether url belongs to an academic or research domain,
// including parent-domain matches (e.g. "cs.stanford.edu" via ".edu").
func IsAcademic(rawURL string) bool {
	domain := Domain(rawURL)
	if domain == "" {
		return false
	}
	if academicDomains[domain] {
		return true
	}
	for suffix := range academicDomains {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether url matches a configured blocked domain (exact
// or parent match) or one of the blocked URL patterns for non-article data
// files.
func IsBlocked(rawURL string, blockedDomains, blockedExtensions []string) bool {
	domain := Domain(rawURL)
	for _, blocked := range blockedDomains {
		blocked = strings.ToLower(strings.TrimPrefix(blocked, "www."))
		if domain == blocked || strings.HasSuffix(domain, "."+blocked) {
			return true
		}
	}
	for _, pat := range blockedURLPatterns {
		if pat.MatchString(rawURL) {
			return true
		}
	}
	for _, ext := range blockedExtensions {
		if strings.HasSuffix(strings.ToLower(rawURL), strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// IsJunkContent detects data dumps, vocab lists, and other one-term-per-line
// content via average line length and no-space-line ratio, the same
// heuristic the prior implementation uses rather than a full parser.
func IsJunkContent(content string) bool {
	const minAvgLineLength = 15
	if len(content) < 200 {
		return false
	}
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 20 {
		return false
	}
	sample := lines
	if len(sample) > 200 {
		sample = sample[:200]
	}
	var totalLen int
	for _, l := range sample {
		totalLen += len(l)
	}
	avgLen := float64(totalLen) / float64(len(sample))
	if avgLen >= minAvgLineLength {
		return false
	}
	noSpace := 0
	for _, l := range sample {
		if !strings.Contains(l, " ") {
			noSpace++
		}
	}
	return float64(noSpace)/float64(len(sample)) > 0.6
}

var queryTermPattern = regexp.MustCompile(`[a-zA-Z]{2,}`)

func extractQueryTerms(query string) []string {
	matches := queryTermPattern.FindAllString(strings.ToLower(query), -1)
	terms := make([]string, 0, len(matches))
	for _, w := range matches {
		if !stopwords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// ContentRelevanceScore returns the fraction of query terms found in the
// first 2000 characters of content, 0 when content or query is empty.
func ContentRelevanceScore(content string, queryTerms []string) float64 {
	if content == "" || len(queryTerms) == 0 {
		return 0
	}
	sample := strings.ToLower(content)
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	matched := 0
	for _, term := range queryTerms {
		if strings.Contains(sample, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// QualityScore reproduces the prior implementation's heuristic source
// scoring: a 0.5 base, academic/high-quality domain bonuses, content-length
// and title-length bonuses, a junk-content penalty, and a query-relevance
// penalty when query is non-empty. Blocked sources always score 0.
func QualityScore(rawURL, title, content, query string, blockedDomains, blockedExtensions []string) float64 {
	if IsBlocked(rawURL, blockedDomains, blockedExtensions) {
		return 0
	}

	score := 0.5
	domain := Domain(rawURL)

	if IsAcademic(rawURL) {
		score += 0.3
	}
	if highQualityDomains[domain] {
		score += 0.2
	}

	contentLen := len(content)
	switch {
	case contentLen > 5000:
		score += 0.1
	case contentLen > 2000:
		score += 0.05
	}
	if contentLen < 500 {
		score -= 0.1
	}

	if len(title) > 20 {
		score += 0.05
	}

	if content != "" && IsJunkContent(content) {
		score -= 0.4
	}

	if query != "" && content != "" {
		terms := extractQueryTerms(query)
		if len(terms) > 0 {
			relevance := ContentRelevanceScore(content, terms)
			switch {
			case relevance == 0:
				score -= 0.2
			case relevance < 0.2:
				score -= 0.1
			}
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
