// Package models defines the domain types shared across ansuz packages.
package models

import "time"

// DateLayout is the only accepted date literal format.
const DateLayout = "2006-01-02"

// Note is a parsed vault file. Immutable once read.
type Note struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Date    Date     `json:"date"`
	Title   string   `json:"title,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	ID        string    `json:"id"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is a bounded piece of a note, the unit of embedding and retrieval.
type Chunk struct {
	ID     string `json:"id"`
	NoteID string `json:"note_id"`
	Index  int    `json:"chunk_index"`
	Text   string `json:"text"`
	Date   Date   `json:"date"`
	Title  string `json:"title,omitempty"`
}
