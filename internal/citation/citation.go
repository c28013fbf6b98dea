// Package citation implements the `[N]` citation-marker contract shared by
// the Research Stage (counting, phantom-marker stripping) and the Compiler
// (global remapping), per spec §4.7–§4.8.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
)

// bracketNumber matches a bare `[N]` span; the preceding-`]`/following-`(`
// guards (spec §4.7: "not preceded by ], not followed by (") are applied
// separately in findAll so a single compiled pattern can be scanned
// left-to-right without overlapping-match ambiguity.
var bracketNumber = regexp.MustCompile(`\[(\d+)\]`)

// findAll returns every valid citation marker's local number and the
// [start,end) byte span of its `[N]` text, in left-to-right order.
func findAll(text string) []marker {
	var out []marker
	idx := 0
	for idx < len(text) {
		loc := bracketNumber.FindStringSubmatchIndex(text[idx:])
		if loc == nil {
			break
		}
		start, end := idx+loc[0], idx+loc[1]
		numStart, numEnd := idx+loc[2], idx+loc[3]

		precededByBracket := start > 0 && text[start-1] == ']'
		followedByParen := end < len(text) && text[end] == '('

		if !precededByBracket && !followedByParen {
			n, err := strconv.Atoi(text[numStart:numEnd])
			if err == nil {
				out = append(out, marker{n: n, start: start, end: end})
			}
		}
		idx = end
	}
	return out
}

type marker struct {
	n          int
	start, end int
}

// Count returns the number of valid citation markers in text.
func Count(text string) int {
	return len(findAll(text))
}

// LocalNumbers returns the distinct local citation numbers referenced in
// text, in order of first appearance.
func LocalNumbers(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range findAll(text) {
		if !seen[m.n] {
			seen[m.n] = true
			out = append(out, m.n)
		}
	}
	return out
}

// StripPhantomCitations removes every valid `[N]` marker from text. Used
// when a task found zero sources: the model has nothing to cite, so any
// `[N]` it still emits is a hallucinated reference and must not survive
// into the section text.
func StripPhantomCitations(text string) string {
	markers := findAll(text)
	if len(markers) == 0 {
		return text
	}
	out := make([]byte, 0, len(text))
	prev := 0
	for _, m := range markers {
		out = append(out, text[prev:m.start]...)
		prev = m.end
	}
	out = append(out, text[prev:]...)
	return string(out)
}

// Remap rewrites each local `[n]` marker in text to its global number using
// localToGlobal (keyed by local number); a marker whose local number has no
// entry is left unchanged (spec §4.8 step 4: "left unchanged (warning)").
// The second return value lists the local numbers that had no mapping.
func Remap(text string, localToGlobal map[int]int) (string, []int) {
	markers := findAll(text)
	if len(markers) == 0 {
		return text, nil
	}

	var unmapped []int
	var out []byte
	prev := 0
	for _, m := range markers {
		out = append(out, text[prev:m.start]...)
		global, ok := localToGlobal[m.n]
		if ok {
			out = append(out, []byte(fmt.Sprintf("[%d]", global))...)
		} else {
			out = append(out, text[m.start:m.end]...)
			unmapped = append(unmapped, m.n)
		}
		prev = m.end
	}
	out = append(out, text[prev:]...)
	return string(out), unmapped
}
