// Package chunker splits note text into bounded, overlapping pieces.
package chunker

import (
	"strings"
	"unicode"
)

// Piece is one chunk of a note.
type Piece struct {
	Index int
	Text  string
}

// Chunker cuts text into windows of at most MaxChars runes, each sharing
// Overlap runes with its predecessor.
type Chunker struct {
	MaxChars int
	Overlap  int
}

// New returns a Chunker. Non-positive maxChars falls back to 1000 and an
// overlap outside [0, maxChars) is clamped.
func New(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChars {
		overlap = maxChars - 1
	}
	return &Chunker{MaxChars: maxChars, Overlap: overlap}
}

// Chunk splits text. The same text always yields the same pieces;
// whitespace-only text yields none.
func (c *Chunker) Chunk(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)

	var out []Piece
	start := 0
	for start < len(runes) {
		end := start + c.MaxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}

		if piece := string(runes[start:end]); strings.TrimSpace(piece) != "" {
			out = append(out, Piece{Index: len(out), Text: piece})
		}
		if end == len(runes) {
			break
		}

		// A whitespace break can leave a piece shorter than Overlap; stepping
		// by one rune still keeps the next piece overlapping this one.
		start = max(start+1, end-c.Overlap)
	}
	return out
}

// breakPoint moves end back to just after the last whitespace in the
// second half of the window, or keeps the hard cut.
func breakPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}
