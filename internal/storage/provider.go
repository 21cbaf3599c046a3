// Package storage gives read access to the note vault and atomic file writes.
package storage

import "github.com/starford/ansuz/internal/models"

// Provider is the read side of the vault consumed by ingestion and queries.
type Provider interface {
	// List returns metadata for every .md note under dir (relative to vault root).
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the note with the given id.
	Read(id string) ([]byte, error)
	// Exists reports whether the note file is present.
	Exists(id string) bool
	// Root returns the absolute vault directory.
	Root() string
}
