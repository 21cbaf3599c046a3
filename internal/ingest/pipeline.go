// Package ingest keeps the vector index and the ledger in step with the vault.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/chunker"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// Event kinds passed to an EventFunc.
const (
	EventIngested = "note.ingested"
	EventRemoved  = "note.removed"
)

// Mode selects how much work a pass does.
type Mode int

const (
	// ModeFull re-fingerprints every note and re-embeds the changed ones.
	ModeFull Mode = iota
	// ModeMetadataOnly recomputes date and title for ledger entries only.
	ModeMetadataOnly
)

func (m Mode) String() string {
	if m == ModeMetadataOnly {
		return "metadata-only"
	}
	return "full"
}

// Outcome is what happened to a single note.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeAdded
	OutcomeUpdated
	OutcomeRemoved
	OutcomeFailed
)

// Report counts outcomes of one pass.
type Report struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

func (r *Report) count(o Outcome) {
	switch o {
	case OutcomeAdded:
		r.Added++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeRemoved:
		r.Removed++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EventFunc is called after a note was (re)indexed or removed.
type EventFunc func(kind, noteID string)

// Pipeline ingests vault notes. Passes and single-note ingests are serialised.
type Pipeline struct {
	mu       sync.Mutex
	store    storage.Provider
	ledger   *ledger.Ledger
	index    index.VectorIndex
	embedder Embedder
	chunker  *chunker.Chunker
	logger   *slog.Logger
	onEvent  EventFunc
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEvents registers fn for ingestion events.
func WithEvents(fn EventFunc) Option {
	return func(p *Pipeline) { p.onEvent = fn }
}

// WithClock overrides the time source used for ingested_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a pipeline.
func NewPipeline(store storage.Provider, led *ledger.Ledger, idx index.VectorIndex, emb Embedder,
	ch *chunker.Chunker, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		ledger:   led,
		index:    idx,
		embedder: emb,
		chunker:  ch,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run performs one pass over the vault. Per-note failures are logged and
// counted; an unavailable index aborts the pass and is returned.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	var (
		rep Report
		err error
	)
	if mode == ModeMetadataOnly {
		rep, err = p.refreshMetadata(ctx)
	} else {
		rep, err = p.runFull(ctx)
	}

	p.logger.Info("ingest: pass finished",
		slog.String("mode", mode.String()),
		slog.Int("added", rep.Added),
		slog.Int("updated", rep.Updated),
		slog.Int("skipped", rep.Skipped),
		slog.Int("removed", rep.Removed),
		slog.Int("failed", rep.Failed),
		slog.Duration("took", time.Since(start)),
	)
	return rep, err
}

// IngestNote brings a single note up to date, removing it when the file is gone.
func (p *Pipeline) IngestNote(ctx context.Context, id string) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.store.Exists(id) {
		if _, ok := p.ledger.Lookup(id); !ok {
			return OutcomeSkipped, nil
		}
		if err := p.remove(ctx, id); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeRemoved, nil
	}
	data, err := p.store.Read(id)
	if err != nil {
		return OutcomeFailed, err
	}
	return p.ingest(ctx, id, data, time.Now())
}

func (p *Pipeline) runFull(ctx context.Context) (Report, error) {
	var rep Report

	metas, err := p.store.List("")
	if err != nil {
		return rep, fmt.Errorf("ingest: list vault: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		disk[m.ID] = struct{}{}

		if e, ok := p.ledger.Lookup(m.ID); ok && e.Fingerprint.Checksum == m.Checksum && m.Checksum != "" {
			rep.count(OutcomeSkipped)
			continue
		}

		data, err := p.store.Read(m.ID)
		if err != nil {
			p.logger.Warn("ingest: read failed", slog.String("note", m.ID), slog.String("error", err.Error()))
			rep.count(OutcomeFailed)
			continue
		}
		outcome, err := p.ingest(ctx, m.ID, data, m.UpdatedAt)
		if errors.Is(err, apperr.ErrIndexUnavailable) {
			return rep, err
		}
		if err != nil {
			p.logger.Warn("ingest: note failed", slog.String("note", m.ID), slog.String("error", err.Error()))
		}
		rep.count(outcome)
	}

	// Remove notes that disappeared from the vault.
	for _, id := range p.ledger.IDs() {
		if _, ok := disk[id]; ok {
			continue
		}
		if err := p.remove(ctx, id); err != nil {
			if errors.Is(err, apperr.ErrIndexUnavailable) {
				return rep, err
			}
			p.logger.Warn("ingest: remove failed", slog.String("note", id), slog.String("error", err.Error()))
			rep.count(OutcomeFailed)
			continue
		}
		rep.count(OutcomeRemoved)
	}
	return rep, nil
}

// ingest embeds and stores one note unless its fingerprint is unchanged.
// Nothing is written to the index before every chunk has been embedded.
func (p *Pipeline) ingest(ctx context.Context, id string, data []byte, modTime time.Time) (Outcome, error) {
	fp := checksum.Of(data, modTime)
	prev, known := p.ledger.Lookup(id)
	if known && prev.Fingerprint.Matches(fp) {
		return OutcomeSkipped, nil
	}

	note, err := parser.Note(id, data)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ingest: parse %s: %w: %w", id, apperr.ErrNoteUnreadable, err)
	}

	pieces := p.chunker.Chunk(note.Content)
	entries := make([]index.Entry, 0, len(pieces))
	for _, piece := range pieces {
		vec, err := p.embedder.Embed(ctx, piece.Text)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("ingest: embed %s: %w", index.ChunkID(id, piece.Index), err)
		}
		entries = append(entries, index.Entry{
			ChunkID:    index.ChunkID(id, piece.Index),
			NoteID:     id,
			ChunkIndex: piece.Index,
			Date:       note.Date,
			Title:      note.Title,
			Text:       piece.Text,
			Embedding:  vec,
		})
	}

	if err := p.index.Upsert(ctx, entries...); err != nil {
		return OutcomeFailed, err
	}
	if err := p.prune(ctx, id, len(entries)); err != nil {
		return OutcomeFailed, err
	}

	err = p.ledger.Record(ledger.Entry{
		NoteID:      id,
		Fingerprint: fp,
		Date:        note.Date,
		Title:       note.Title,
		Tags:        note.Tags,
		Chunks:      len(entries),
		IngestedAt:  p.now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, err
	}

	p.logger.Debug("ingest: indexed", slog.String("note", id), slog.Int("chunks", len(entries)))
	p.emit(EventIngested, id)
	if known {
		return OutcomeUpdated, nil
	}
	return OutcomeAdded, nil
}

// prune deletes chunks of id whose index is >= keep.
func (p *Pipeline) prune(ctx context.Context, id string, keep int) error {
	ids, err := p.index.ChunkIDs(ctx, id)
	if err != nil {
		return err
	}
	valid := make(map[string]struct{}, keep)
	for i := 0; i < keep; i++ {
		valid[index.ChunkID(id, i)] = struct{}{}
	}
	var stale []string
	for _, cid := range ids {
		if _, ok := valid[cid]; !ok {
			stale = append(stale, cid)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	p.logger.Debug("ingest: pruning stale chunks", slog.String("note", id), slog.Int("count", len(stale)))
	return p.index.Delete(ctx, stale...)
}

func (p *Pipeline) remove(ctx context.Context, id string) error {
	if err := p.prune(ctx, id, 0); err != nil {
		return err
	}
	if err := p.ledger.Delete(id); err != nil {
		return err
	}
	p.logger.Debug("ingest: removed", slog.String("note", id))
	p.emit(EventRemoved, id)
	return nil
}

// refreshMetadata recomputes date, title and tags of existing ledger entries
// without touching the index or the stored fingerprint.
func (p *Pipeline) refreshMetadata(ctx context.Context) (Report, error) {
	var rep Report
	for _, id := range p.ledger.IDs() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		e, _ := p.ledger.Lookup(id)
		data, err := p.store.Read(id)
		if errors.Is(err, apperr.ErrNotFound) {
			rep.count(OutcomeSkipped)
			continue
		}
		if err != nil {
			p.logger.Warn("ingest: read failed", slog.String("note", id), slog.String("error", err.Error()))
			rep.count(OutcomeFailed)
			continue
		}
		note, err := parser.Note(id, data)
		if err != nil {
			rep.count(OutcomeFailed)
			continue
		}
		if e.Date.Equal(note.Date) && e.Title == note.Title && slices.Equal(e.Tags, note.Tags) {
			rep.count(OutcomeSkipped)
			continue
		}
		e.Date, e.Title, e.Tags = note.Date, note.Title, note.Tags
		if err := p.ledger.Record(e); err != nil {
			p.logger.Warn("ingest: record failed", slog.String("note", id), slog.String("error", err.Error()))
			rep.count(OutcomeFailed)
			continue
		}
		rep.count(OutcomeUpdated)
	}
	return rep, nil
}

func (p *Pipeline) emit(kind, id string) {
	if p.onEvent != nil {
		p.onEvent(kind, id)
	}
}
