// Package ledger persists which notes have been ingested and with which fingerprint.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// Entry is the bookkeeping record for one ingested note.
type Entry struct {
	NoteID      string               `json:"note_id" yaml:"note_id"`
	Fingerprint checksum.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Date        models.Date          `json:"date" yaml:"date"`
	Title       string               `json:"title,omitempty" yaml:"title,omitempty"`
	Tags        []string             `json:"tags,omitempty" yaml:"tags,omitempty"`
	Chunks      int                  `json:"chunks" yaml:"chunks"`
	IngestedAt  time.Time            `json:"ingested_at" yaml:"ingested_at"`
}

// Ledger maps note ids to entries. Every successful Record or Delete is
// written to disk before it returns. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	codec   Codec
	entries map[string]Entry
}

// Open loads the ledger at path, choosing the codec from the file extension.
// A missing or empty file yields an empty ledger.
func Open(path string) (*Ledger, error) {
	return OpenWithCodec(path, CodecFor(path))
}

// OpenWithCodec loads the ledger at path using codec.
func OpenWithCodec(path string, codec Codec) (*Ledger, error) {
	l := &Ledger{path: path, codec: codec, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return l, nil
	}
	entries, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", path, err)
	}
	for id, e := range entries {
		e.NoteID = id
		l.entries[id] = e
	}
	return l, nil
}

// CodecFor returns the YAML codec for .yaml/.yml paths and JSON otherwise.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	default:
		return JSONCodec{}
	}
}

// Path returns the backing file location.
func (l *Ledger) Path() string { return l.path }

// Lookup returns the entry for id.
func (l *Ledger) Lookup(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return e, ok
}

// Record inserts or replaces the entry for e.NoteID and persists the ledger.
// On a persistence failure the in-memory state is left unchanged.
func (l *Ledger) Record(e Entry) error {
	if e.NoteID == "" {
		return errors.New("ledger: record: empty note id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.entries[e.NoteID]
	l.entries[e.NoteID] = e
	if err := l.persist(); err != nil {
		if had {
			l.entries[e.NoteID] = prev
		} else {
			delete(l.entries, e.NoteID)
		}
		return err
	}
	return nil
}

// Delete removes the entry for id and persists the ledger. Unknown ids are a no-op.
func (l *Ledger) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.entries[id]
	if !had {
		return nil
	}
	delete(l.entries, id)
	if err := l.persist(); err != nil {
		l.entries[id] = prev
		return err
	}
	return nil
}

// All returns a copy of every entry keyed by note id.
func (l *Ledger) All() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.entries))
	for id, e := range l.entries {
		out[id] = e
	}
	return out
}

// IDs returns the known note ids in ascending order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// caller holds l.mu
func (l *Ledger) persist() error {
	data, err := l.codec.Encode(l.entries)
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := storage.WriteFile(l.path, data); err != nil {
		return fmt.Errorf("ledger: persist %s: %w", l.path, err)
	}
	return nil
}
