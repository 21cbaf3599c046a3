package query

import (
	"context"
	"sort"

	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
)

// Stats summarises what has been ingested.
type Stats struct {
	Notes  int         `json:"notes"`
	Dated  int         `json:"dated"`
	Chunks int         `json:"chunks"`
	Oldest models.Date `json:"oldest"`
	Newest models.Date `json:"newest"`
}

// ListNotes returns every ingested note ordered by id.
func (e *Engine) ListNotes() []ledger.Entry {
	all := e.catalog.All()
	out := make([]ledger.Entry, 0, len(all))
	for _, entry := range all {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteID < out[j].NoteID })
	return out
}

// ReadNote returns the content of an ingested or on-disk note.
func (e *Engine) ReadNote(id string) (string, error) {
	data, err := e.notes.Read(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stats counts notes, dated notes and stored chunks.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, entry := range e.catalog.All() {
		s.Notes++
		if entry.Date.IsZero() {
			continue
		}
		s.Dated++
		if s.Oldest.IsZero() || entry.Date.Before(s.Oldest) {
			s.Oldest = entry.Date
		}
		if s.Newest.IsZero() || entry.Date.After(s.Newest) {
			s.Newest = entry.Date
		}
	}
	n, err := e.retriever.Count(ctx)
	if err != nil {
		return s, err
	}
	s.Chunks = n
	return s, nil
}

// Note returns the ledger entry of an ingested note.
func (e *Engine) Note(id string) (ledger.Entry, bool) {
	return e.catalog.Lookup(id)
}
