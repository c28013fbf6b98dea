package research

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlock matches a fenced ``` or ```json code block, capturing its
// inner content.
var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*\\n?(.*?)\\s*```")

// trailingFence matches a trailing fenced code block anchored at the end
// of the text, used by stripTrailingJSON's first strategy.
var trailingFence = regexp.MustCompile("(?s)\\n```[a-zA-Z]*\\s*\\n[\\s\\S]*?\\n```\\s*$")

// expectedMetadataKeys are the keys that mark a parsed JSON object as the
// trailing metadata block research notes append, rather than an unrelated
// fenced snippet the model happened to emit.
var expectedMetadataKeys = []string{"new_tasks", "glossary_terms"}

// extractJSONMetadata finds the trailing `{"new_tasks": ..., "glossary_terms": ...}`
// block a research-notes response appends, trying two strategies in
// order: (1) scan every fenced code block and keep the last one containing
// an expected key, (2) for each expected key search backwards for its
// marker and brace-match outward from the nearest preceding `{`. Returns
// the parsed object and the byte offset where it starts in response, or
// ok=false if neither strategy found anything.
func extractJSONMetadata(response string) (data map[string]any, start int, ok bool) {
	start = -1
	for _, loc := range fencedBlock.FindAllStringSubmatchIndex(response, -1) {
		candidate := strings.TrimSpace(response[loc[2]:loc[3]])
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		if hasExpectedKey(parsed) {
			data = parsed
			start = loc[0]
		}
	}
	if data != nil {
		return data, start, true
	}

	for _, key := range []string{`"new_tasks"`, `"glossary_terms"`} {
		idx := strings.LastIndex(response, key)
		if idx == -1 {
			continue
		}
		openIdx := strings.LastIndex(response[:idx], "{")
		if openIdx == -1 {
			continue
		}
		endIdx := findMatchingBrace(response, openIdx)
		if endIdx == -1 {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(response[openIdx:endIdx]), &parsed); err != nil {
			continue
		}
		if hasExpectedKey(parsed) {
			return parsed, openIdx, true
		}
	}
	return nil, -1, false
}

func hasExpectedKey(data map[string]any) bool {
	for _, k := range expectedMetadataKeys {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}

// findMatchingBrace returns the index just past the `}` that closes the
// `{` at text[start], honoring quoted strings and escapes, or -1 if the
// object never closes.
func findMatchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// stripTrailingJSON is the safety net run after extractJSONMetadata: it
// removes a trailing JSON block the structured extraction missed, whether
// fenced or naked.
func stripTrailingJSON(content string) string {
	text := strings.TrimRight(content, " \t\n\r")

	if m := trailingFence.FindStringIndex(text); m != nil && strings.Contains(text[m[0]:m[1]], "{") {
		return strings.TrimRight(text[:m[0]], " \t\n\r")
	}

	lines := strings.Split(text, "\n")
	floor := len(lines) - 30
	if floor < 0 {
		floor = 0
	}
	for i := len(lines) - 1; i >= floor; i-- {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "{") {
			continue
		}
		candidate := strings.TrimSpace(strings.Join(lines[i:], "\n"))
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return strings.TrimRight(strings.Join(lines[:i], "\n"), " \t\n\r")
		}
	}
	return content
}
