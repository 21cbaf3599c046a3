package query

import (
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// TurnKind is the shape of a turn's result.
type TurnKind string

const (
	TurnContent        TurnKind = "content"
	TurnDisambiguation TurnKind = "disambiguation"
	TurnAnswer         TurnKind = "answer"
	TurnCancelled      TurnKind = "cancelled"
	TurnNoMatch        TurnKind = "no_match"
	TurnError          TurnKind = "error"
)

// Disambiguation kinds.
const (
	ChoiceSubstring = "substring"
	ChoiceSemantic  = "semantic"
)

// Candidate is one numbered choice in a disambiguation list.
type Candidate struct {
	Number  int         `json:"number"`
	NoteID  string      `json:"note_id"`
	Date    models.Date `json:"date"`
	Title   string      `json:"title,omitempty"`
	Score   float64     `json:"score,omitempty"`
	Snippet string      `json:"snippet,omitempty"`
}

// Disambiguation is the pending choice between candidates. It is a plain
// value: callers keep it and pass it back to Engine.Continue.
type Disambiguation struct {
	Kind       string      `json:"kind"`
	Term       string      `json:"term"`
	Candidates []Candidate `json:"candidates"`
}

// Lookup returns the candidate numbered n.
func (d *Disambiguation) Lookup(n int) (Candidate, bool) {
	for _, c := range d.Candidates {
		if c.Number == n {
			return c, true
		}
	}
	return Candidate{}, false
}

// Turn is the result of resolving one input.
type Turn struct {
	Kind    TurnKind        `json:"kind"`
	Intent  string          `json:"intent,omitempty"`
	Text    string          `json:"text,omitempty"`
	Notes   []string        `json:"notes,omitempty"`
	State   *Disambiguation `json:"state,omitempty"`
	Error   apperr.Kind     `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`

	Err error `json:"-"`
}

// Pending reports whether the turn awaits a follow-up selection.
func (t Turn) Pending() bool { return t.State != nil }

func errorTurn(intent IntentKind, err error) Turn {
	return Turn{
		Kind:    TurnError,
		Intent:  intent.String(),
		Error:   apperr.KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
}
