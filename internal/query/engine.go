package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
)

// DefaultInstruction is sent to the generator for a rolling window without a question.
const DefaultInstruction = "Summarize these notes."

// SnippetChars is the length of one-line candidate previews.
const SnippetChars = 140

// Catalog is the ingested-notes metadata the engine searches.
type Catalog interface {
	Lookup(id string) (ledger.Entry, bool)
	All() map[string]ledger.Entry
}

// NoteReader reads note content by id.
type NoteReader interface {
	Read(id string) ([]byte, error)
}

// Retriever ranks indexed chunks against a query vector.
type Retriever interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Hit, error)
	Count(ctx context.Context) (int, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator answers a query from a context bundle.
type Generator interface {
	Generate(ctx context.Context, query, bundle string) (string, error)
}

// Config tunes retrieval and context building.
type Config struct {
	TopK              int
	MaxContextDocs    int
	MaxContextChars   int
	PreviewChars      int
	RollingWindowDays int
	Truncate          bool
	GenerationTimeout time.Duration
}

// Engine resolves queries one turn at a time. It holds no per-conversation
// state; pending choices travel in Turn.State.
type Engine struct {
	catalog   Catalog
	notes     NoteReader
	retriever Retriever
	embedder  Embedder
	generator Generator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNow overrides the clock used for relative dates.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine.
func NewEngine(cat Catalog, notes NoteReader, r Retriever, emb Embedder, gen Generator,
	cfg Config, logger *slog.Logger, opts ...EngineOption) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextDocs <= 0 {
		cfg.MaxContextDocs = 5
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 1000
	}
	e := &Engine{
		catalog:   cat,
		notes:     notes,
		retriever: r,
		embedder:  emb,
		generator: gen,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Classify classifies raw against the current catalog and clock.
func (e *Engine) Classify(raw string) Intent {
	return Classify(raw, e.known, Today(e.now()), e.cfg.RollingWindowDays)
}

func (e *Engine) known(id string) bool {
	_, ok := e.catalog.Lookup(id)
	return ok
}

// Resolve classifies raw and runs the matching strategy.
func (e *Engine) Resolve(ctx context.Context, raw string) Turn {
	intent := e.Classify(raw)
	e.logger.Debug("query: classified", slog.String("intent", intent.Kind.String()), slog.String("query", raw))

	if intent.Err != nil {
		return errorTurn(intent.Kind, intent.Err)
	}

	switch intent.Kind {
	case IntentExactID:
		return e.showNote(intent.Kind, intent.ID, "")
	case IntentSubstring:
		return e.resolveSubstring(ctx, intent.Term)
	case IntentDateExact, IntentDateRange:
		return e.resolveDates(intent)
	case IntentRollingWindow:
		return e.resolveRollingWindow(ctx, intent)
	default:
		return e.resolveSemantic(ctx, intent.Text)
	}
}

// Continue applies a follow-up input to a pending disambiguation:
// "<n>" shows candidate n, "p<n>" previews it and keeps the choice open,
// "s" escalates a substring choice to semantic search, "c" or empty cancels.
// Anything else leaves the choice open with an InvalidSelection error.
func (e *Engine) Continue(ctx context.Context, state *Disambiguation, input string) Turn {
	if state == nil {
		return errorTurn(IntentSemantic, fmt.Errorf("%w: nothing to select from", apperr.ErrInvalidSelection))
	}
	intent := IntentSubstring
	if state.Kind == ChoiceSemantic {
		intent = IntentSemantic
	}

	in := strings.ToLower(strings.TrimSpace(input))
	switch {
	case in == "" || in == "c":
		return Turn{Kind: TurnCancelled, Intent: intent.String()}

	case in == "s" && state.Kind == ChoiceSubstring:
		return e.semanticCandidates(ctx, state.Term)

	case strings.HasPrefix(in, "p"):
		n, err := strconv.Atoi(in[1:])
		if err == nil {
			if c, ok := state.Lookup(n); ok {
				t := e.showNote(intent, c.NoteID, c.Snippet)
				if t.Kind != TurnContent {
					return t
				}
				return Turn{
					Kind:   TurnDisambiguation,
					Intent: intent.String(),
					Text:   truncate(t.Text, e.cfg.PreviewChars),
					Notes:  t.Notes,
					State:  state,
				}
			}
		}

	default:
		n, err := strconv.Atoi(in)
		if err == nil {
			if c, ok := state.Lookup(n); ok {
				return e.showNote(intent, c.NoteID, c.Snippet)
			}
		}
	}

	t := errorTurn(intent, fmt.Errorf("%w: %q (choose 1-%d, p<n>, s or c)",
		apperr.ErrInvalidSelection, input, len(state.Candidates)))
	t.State = state
	return t
}

// showNote returns a note's full content, or fallback when the note cannot
// be read and a fallback (a chunk text) is available.
func (e *Engine) showNote(intent IntentKind, id, fallback string) Turn {
	data, err := e.notes.Read(id)
	if err != nil {
		if fallback != "" {
			e.logger.Warn("query: note unreadable, showing chunk", slog.String("note", id), slog.String("error", err.Error()))
			return Turn{Kind: TurnContent, Intent: intent.String(), Text: fallback, Notes: []string{id}}
		}
		return errorTurn(intent, err)
	}
	return Turn{Kind: TurnContent, Intent: intent.String(), Text: string(data), Notes: []string{id}}
}

func (e *Engine) resolveSubstring(ctx context.Context, term string) Turn {
	needle := strings.ToLower(term)
	var matches []ledger.Entry
	for id, entry := range e.catalog.All() {
		if strings.Contains(strings.ToLower(id), needle) {
			matches = append(matches, entry)
		}
	}

	switch len(matches) {
	case 0:
		e.logger.Debug("query: no filename match, escalating", slog.String("term", term))
		return e.semanticCandidates(ctx, term)
	case 1:
		return e.showNote(IntentSubstring, matches[0].NoteID, "")
	}

	// Newest first, undated last, then by id.
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Date.IsZero() != b.Date.IsZero() {
			return !a.Date.IsZero()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.NoteID < b.NoteID
	})

	state := &Disambiguation{Kind: ChoiceSubstring, Term: term}
	for i, m := range matches {
		state.Candidates = append(state.Candidates, Candidate{
			Number: i + 1,
			NoteID: m.NoteID,
			Date:   m.Date,
			Title:  m.Title,
		})
	}
	return Turn{Kind: TurnDisambiguation, Intent: IntentSubstring.String(), State: state}
}

// semanticCandidates ranks notes by their best chunk and returns them as a
// numbered choice.
func (e *Engine) semanticCandidates(ctx context.Context, text string) Turn {
	hits, err := e.search(ctx, text, e.cfg.TopK*3)
	if err != nil {
		return errorTurn(IntentSemantic, err)
	}
	hits = dedupe(hits)
	if len(hits) > e.cfg.TopK {
		hits = hits[:e.cfg.TopK]
	}
	if len(hits) == 0 {
		return Turn{Kind: TurnNoMatch, Intent: IntentSemantic.String()}
	}

	state := &Disambiguation{Kind: ChoiceSemantic, Term: text}
	for i, h := range hits {
		state.Candidates = append(state.Candidates, e.hitCandidate(i+1, h, h.Text))
	}
	return Turn{Kind: TurnDisambiguation, Intent: IntentSemantic.String(), State: state}
}

// SemanticSearch returns the best-matching notes for text, one per note.
func (e *Engine) SemanticSearch(ctx context.Context, text string, k int) ([]Candidate, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	hits, err := e.search(ctx, text, k*3)
	if err != nil {
		return nil, err
	}
	hits = dedupe(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Candidate, 0, len(hits))
	for i, h := range hits {
		out = append(out, e.hitCandidate(i+1, h, Preview(h.Text, SnippetChars)))
	}
	return out, nil
}

// hitCandidate builds a candidate from a hit. Date and title come from the
// ledger when it knows the note, since a metadata-only refresh does not
// rewrite index rows.
func (e *Engine) hitCandidate(n int, h index.Hit, snippet string) Candidate {
	c := Candidate{
		Number:  n,
		NoteID:  h.NoteID,
		Date:    h.Date,
		Title:   h.Title,
		Score:   h.Score,
		Snippet: snippet,
	}
	if entry, ok := e.catalog.Lookup(h.NoteID); ok {
		c.Date, c.Title = entry.Date, entry.Title
	}
	return c
}

// resolveSemantic answers a free-form query from the top-K chunks.
func (e *Engine) resolveSemantic(ctx context.Context, text string) Turn {
	hits, err := e.search(ctx, text, e.cfg.TopK)
	if err != nil {
		return errorTurn(IntentSemantic, err)
	}
	if len(hits) == 0 {
		return Turn{Kind: TurnNoMatch, Intent: IntentSemantic.String()}
	}

	texts := make([]string, 0, len(hits))
	var notes []string
	seen := map[string]bool{}
	for _, h := range hits {
		texts = append(texts, h.Text)
		if !seen[h.NoteID] {
			seen[h.NoteID] = true
			notes = append(notes, h.NoteID)
		}
	}
	return e.generate(ctx, IntentSemantic, text, strings.Join(texts, "\n\n"), notes)
}

func (e *Engine) search(ctx context.Context, text string, k int) ([]index.Hit, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.retriever.Query(ctx, vec, k)
}

// dedupe keeps the first (best) hit per note; hits arrive sorted by score.
func dedupe(hits []index.Hit) []index.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if _, ok := seen[h.NoteID]; ok {
			continue
		}
		seen[h.NoteID] = struct{}{}
		out = append(out, h)
	}
	return out
}

// NotesBetween returns catalog entries dated within [start, end], oldest first.
func (e *Engine) NotesBetween(start, end models.Date) []ledger.Entry {
	var out []ledger.Entry
	for _, entry := range e.catalog.All() {
		if entry.Date.Within(start, end) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].NoteID < out[j].NoteID
	})
	return out
}

func (e *Engine) readDocs(entries []ledger.Entry) ([]document, []string) {
	docs := make([]document, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		data, err := e.notes.Read(entry.NoteID)
		if err != nil {
			e.logger.Warn("query: skipping unreadable note", slog.String("note", entry.NoteID), slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, document{id: entry.NoteID, content: string(data)})
		ids = append(ids, entry.NoteID)
	}
	return docs, ids
}

func (e *Engine) contextChars() int {
	if !e.cfg.Truncate {
		return 0
	}
	return e.cfg.MaxContextChars
}

func (e *Engine) resolveDates(intent Intent) Turn {
	entries := e.NotesBetween(intent.Start, intent.End)
	docs, ids := e.readDocs(entries)
	if len(docs) == 0 {
		return Turn{Kind: TurnNoMatch, Intent: intent.Kind.String()}
	}
	return Turn{
		Kind:   TurnContent,
		Intent: intent.Kind.String(),
		Text:   buildBundle(docs, e.contextChars()),
		Notes:  ids,
	}
}

func (e *Engine) resolveRollingWindow(ctx context.Context, intent Intent) Turn {
	today := Today(e.now())
	entries := e.NotesBetween(today.AddDays(-intent.Days), today)
	// Keep the most recent notes, still rendered oldest first.
	if len(entries) > e.cfg.MaxContextDocs {
		entries = entries[len(entries)-e.cfg.MaxContextDocs:]
	}
	docs, ids := e.readDocs(entries)
	if len(docs) == 0 {
		return Turn{Kind: TurnNoMatch, Intent: intent.Kind.String()}
	}

	question := intent.Raw
	if intent.SubQuery == "" {
		question = DefaultInstruction
	}
	return e.generate(ctx, IntentRollingWindow, question, buildBundle(docs, e.contextChars()), ids)
}

// generate runs the generator under the configured timeout.
func (e *Engine) generate(ctx context.Context, intent IntentKind, question, bundle string, notes []string) Turn {
	if e.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
	}

	answer, err := e.generator.Generate(ctx, question, bundle)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
			err = fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
		}
		return errorTurn(intent, err)
	}
	return Turn{Kind: TurnAnswer, Intent: intent.String(), Text: answer, Notes: notes}
}
