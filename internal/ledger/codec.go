package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/parser"
)

const formatVersion = 1

// Codec serializes the ledger's entry map.
type Codec interface {
	Encode(entries map[string]Entry) ([]byte, error)
	Decode(data []byte) (map[string]Entry, error)
}

type document struct {
	Version int              `json:"version" yaml:"version"`
	Notes   map[string]Entry `json:"notes" yaml:"notes"`
}

// JSONCodec is the canonical on-disk format. Decode also imports the two
// legacy layouts: a bare list of note ids, and an object mapping note id to
// an ingestion timestamp string.
type JSONCodec struct{}

// Encode writes an indented, key-sorted document.
func (JSONCodec) Encode(entries map[string]Entry) ([]byte, error) {
	return json.MarshalIndent(document{Version: formatVersion, Notes: entries}, "", "  ")
}

// Decode reads the canonical document or a legacy layout.
func (JSONCodec) Decode(data []byte) (map[string]Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}

	if data[0] == '[' {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, fmt.Errorf("legacy list: %w", err)
		}
		out := make(map[string]Entry, len(ids))
		for _, id := range ids {
			out[id] = legacyEntry(id, time.Time{})
		}
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if _, ok := raw["notes"]; ok {
		if _, ok := raw["version"]; ok {
			var doc document
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, err
			}
			if doc.Notes == nil {
				doc.Notes = map[string]Entry{}
			}
			return doc.Notes, nil
		}
	}

	out := make(map[string]Entry, len(raw))
	for id, msg := range raw {
		var ts string
		if err := json.Unmarshal(msg, &ts); err != nil {
			return nil, fmt.Errorf("legacy map: value for %q is not a timestamp string", id)
		}
		out[id] = legacyEntry(id, parseLegacyTime(ts))
	}
	return out, nil
}

// YAMLCodec stores the same document as YAML.
type YAMLCodec struct{}

// Encode writes the canonical document as YAML.
func (YAMLCodec) Encode(entries map[string]Entry) ([]byte, error) {
	return yaml.Marshal(document{Version: formatVersion, Notes: entries})
}

// Decode reads a YAML document written by Encode.
func (YAMLCodec) Decode(data []byte) (map[string]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version == 0 && doc.Notes == nil {
		return nil, errors.New("yaml ledger: missing version and notes")
	}
	if doc.Notes == nil {
		doc.Notes = map[string]Entry{}
	}
	return doc.Notes, nil
}

// legacyEntry carries no checksum, so the next full pass re-embeds the note.
func legacyEntry(id string, ingestedAt time.Time) Entry {
	return Entry{
		NoteID:     id,
		Date:       parser.DateFromName(id),
		IngestedAt: ingestedAt,
	}
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(s string) time.Time {
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
