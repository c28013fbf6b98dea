package research

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	queryFence       = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	leadingBullet    = regexp.MustCompile(`^[\d\)\.\-\*•]+\s*`)
	leadingQueriesKw = regexp.MustCompile(`(?i)^queries?\s*:\s*`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	querySeparator   = regexp.MustCompile(`[;|]`)
)

// parseQueryResponse parses a query-generation reply in any of the shapes
// the model might return it: a fenced JSON array, a fenced or bare JSON
// object with a queries/search_queries/query key, or newline- (or
// ;/|-separated, for single-line replies) plain text. It dedupes
// candidates case-insensitively and truncates to numQueries.
func parseQueryResponse(response string, numQueries int) []string {
	text := strings.TrimSpace(response)
	if text == "" {
		return nil
	}

	if m := queryFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var candidates []string

	var parsedList []any
	if err := json.Unmarshal([]byte(text), &parsedList); err == nil {
		for _, item := range parsedList {
			candidates = append(candidates, toStringValue(item))
		}
	} else {
		var parsedObj map[string]any
		if err := json.Unmarshal([]byte(text), &parsedObj); err == nil {
			val := firstNonNil(parsedObj["queries"], parsedObj["search_queries"], parsedObj["query"])
			switch v := val.(type) {
			case []any:
				for _, item := range v {
					candidates = append(candidates, toStringValue(item))
				}
			case string:
				candidates = append(candidates, v)
			}
		}
	}

	if len(candidates) == 0 {
		lines := nonEmptyLines(text)
		if len(lines) == 1 && numQueries > 1 && querySeparator.MatchString(lines[0]) {
			var parts []string
			for _, p := range querySeparator.Split(lines[0], -1) {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			lines = parts
		}
		candidates = lines
	}

	return cleanCandidates(candidates, numQueries)
}

func cleanCandidates(candidates []string, limit int) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		q := strings.TrimSpace(c)
		q = strings.Trim(q, "`")
		q = strings.TrimSpace(q)
		q = leadingBullet.ReplaceAllString(q, "")
		q = leadingQueriesKw.ReplaceAllString(q, "")
		q = strings.Trim(q, `"'`)
		q = strings.TrimSpace(q)
		q = whitespaceRun.ReplaceAllString(q, " ")
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func toStringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// buildFallbackQueries deterministically derives up to numQueries distinct
// search queries from a task's topic and description, used when the model
// returns nothing usable across every attempt. Each candidate is truncated
// to 12 words, matching the original implementation's word budget so
// fallback queries stay search-engine-friendly.
func buildFallbackQueries(topic, description string, numQueries int) []string {
	topic = collapseWhitespace(topic)
	desc := collapseWhitespace(description)
	descShort := firstWords(desc, 12)

	candidates := []string{
		topic,
		topic + " overview",
		topic + " key themes analysis",
		topic + " recent evidence studies",
		topic + " case studies",
	}
	if descShort != "" {
		candidates = append(candidates[:1], append([]string{topic + " " + descShort}, candidates[1:]...)...)
	}

	var fallbacks []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		q := firstWords(c, 12)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		fallbacks = append(fallbacks, q)
		if len(fallbacks) >= numQueries {
			break
		}
	}
	if len(fallbacks) == 0 {
		t := topic
		if len(t) > 120 {
			t = t[:120]
		}
		t = strings.TrimSpace(t)
		if t == "" {
			t = "research topic overview"
		}
		fallbacks = []string{t}
	}
	return fallbacks
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.TrimSpace(strings.Join(words, " "))
}
