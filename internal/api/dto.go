package api

import (
	"time"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

// QueryRequest starts a turn with Query, or answers a pending choice with
// State (echoed from the previous response) and Input.
type QueryRequest struct {
	Query string                `json:"query,omitempty" example:"what did I do last week?"`
	State *query.Disambiguation `json:"state,omitempty"`
	Input string                `json:"input,omitempty" example:"1"`
}

// NoteListItem is one ingested note in a listing.
type NoteListItem struct {
	ID         string      `json:"id" example:"2025-01-02-standup.md"`
	Title      string      `json:"title"`
	Date       models.Date `json:"date"`
	Tags       []string    `json:"tags"`
	Chunks     int         `json:"chunks"`
	IngestedAt time.Time   `json:"ingested_at"`
}

func listItem(e ledger.Entry) NoteListItem {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return NoteListItem{
		ID:         e.NoteID,
		Title:      e.Title,
		Date:       e.Date,
		Tags:       tags,
		Chunks:     e.Chunks,
		IngestedAt: e.IngestedAt,
	}
}

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes"`
	Total int            `json:"total"`
}

// NoteDetail is a note's content plus what the ledger knows about it.
// Indexed is false for notes present on disk but not yet ingested.
type NoteDetail struct {
	NoteListItem
	Content string `json:"content"`
	Indexed bool   `json:"indexed"`
}

// SearchResponse wraps full-text search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results"`
}

// IngestResponse reports one ingestion pass.
type IngestResponse struct {
	Mode   string        `json:"mode" example:"full"`
	Report ingest.Report `json:"report"`
}
