package query

import (
	"strings"
	"unicode/utf8"
)

const truncatedMarker = "\n...[truncated]"

// document is one note's contribution to a context bundle.
type document struct {
	id      string
	content string
}

// buildBundle renders docs as "--- FILE: id ---" sections. When maxChars is
// positive each document is cut to that many runes.
func buildBundle(docs []document, maxChars int) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString("--- FILE: ")
		b.WriteString(d.id)
		b.WriteString(" ---\n")
		b.WriteString(truncate(d.content, maxChars))
		b.WriteString("\n")
	}
	return b.String()
}

// truncate cuts s to n runes and appends a marker. n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncatedMarker
}

// Preview returns the first n runes of s with newlines flattened, for
// one-line candidate listings.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n]) + "..."
	}
	return s
}
