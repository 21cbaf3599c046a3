// Package apperr defines the error kinds surfaced by ingestion and query resolution.
package apperr

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrNoteUnreadable        = errors.New("note unreadable")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrIndexUnavailable      = errors.New("index unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrBadDateFormat         = errors.New("bad date format")
	ErrTimeout               = errors.New("timeout")
	ErrInvalidSelection      = errors.New("invalid selection")
)

// Kind is the stable, user-facing name of an error class.
type Kind string

const (
	KindNone                  Kind = ""
	KindNotFound              Kind = "NotFound"
	KindNoteUnreadable        Kind = "NoteUnreadable"
	KindEmbeddingUnavailable  Kind = "EmbeddingUnavailable"
	KindIndexUnavailable      Kind = "IndexUnavailable"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindBadDateFormat         Kind = "BadDateFormat"
	KindTimeout               Kind = "Timeout"
	KindInvalidSelection      Kind = "InvalidSelection"
	KindInternal              Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	// Timeout is checked first: a timed-out generation call wraps both.
	{ErrTimeout, KindTimeout},
	{ErrNotFound, KindNotFound},
	{ErrNoteUnreadable, KindNoteUnreadable},
	{ErrEmbeddingUnavailable, KindEmbeddingUnavailable},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrGenerationUnavailable, KindGenerationUnavailable},
	{ErrBadDateFormat, KindBadDateFormat},
	{ErrInvalidSelection, KindInvalidSelection},
}

// KindOf returns the kind of err, KindNone for nil and KindInternal for
// errors that wrap none of the sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
