package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/query"
)

const defaultSearchLimit = 20

// Engine is the query side consumed by the handlers.
type Engine interface {
	Resolve(ctx context.Context, raw string) query.Turn
	Continue(ctx context.Context, state *query.Disambiguation, input string) query.Turn
	ListNotes() []ledger.Entry
	Note(id string) (ledger.Entry, bool)
	ReadNote(id string) (string, error)
	Stats(ctx context.Context) (query.Stats, error)
}

// Ingester runs ingestion passes.
type Ingester interface {
	Run(ctx context.Context, mode ingest.Mode) (ingest.Report, error)
}

// TextSearcher runs keyword search over stored chunks.
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
}

// Handler holds API route handlers.
type Handler struct {
	engine   Engine
	ingester Ingester
	searcher TextSearcher
	logger   *slog.Logger
	onIngest func(ingest.Mode, ingest.Report)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithIngestHook is called after every successful ingestion pass.
func WithIngestHook(fn func(ingest.Mode, ingest.Report)) HandlerOption {
	return func(h *Handler) { h.onIngest = fn }
}

// NewHandler creates a new Handler.
func NewHandler(engine Engine, ingester Ingester, searcher TextSearcher, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{engine: engine, ingester: ingester, searcher: searcher, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// notePath extracts the note id from the URL (everything after /api/notes/).
// Encoded slashes (journal%2Fday.md) are accepted.
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Query handles POST /api/query. The response is the turn; error turns use
// the status of their kind and still carry any pending state.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	var turn query.Turn
	switch {
	case req.State != nil:
		turn = h.engine.Continue(r.Context(), req.State, req.Input)
	case strings.TrimSpace(req.Query) != "":
		turn = h.engine.Resolve(r.Context(), req.Query)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("query or state is required"))
		return
	}

	status := statusFor(turn.Error)
	if status == http.StatusInternalServerError {
		h.logger.Error("query failed", slog.String("intent", turn.Intent), slog.String("error", turn.Message))
	}
	writeJSON(w, status, turn)
}

// ListNotes handles GET /api/notes?limit=&offset=&tag=.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	tag := q.Get("tag")

	items := []NoteListItem{}
	for _, e := range h.engine.ListNotes() {
		if tag != "" && !slices.Contains(e.Tags, tag) {
			continue
		}
		items = append(items, listItem(e))
	}
	total := len(items)

	if offset > 0 {
		items = items[min(offset, len(items)):]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/*.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := notePath(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	content, err := h.engine.ReadNote(id)
	if err != nil {
		writeError(w, h.logger, "read note", err)
		return
	}

	detail := NoteDetail{NoteListItem: NoteListItem{ID: id, Tags: []string{}}, Content: content}
	if entry, ok := h.engine.Note(id); ok {
		detail.NoteListItem = listItem(entry)
		detail.Indexed = true
	}
	writeJSON(w, http.StatusOK, detail)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Ingest handles POST /api/ingest?metadata_only=bool.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	mode := ingest.ModeFull
	if v := r.URL.Query().Get("metadata_only"); v != "" {
		metadataOnly, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("metadata_only must be a boolean"))
			return
		}
		if metadataOnly {
			mode = ingest.ModeMetadataOnly
		}
	}

	report, err := h.ingester.Run(r.Context(), mode)
	if err != nil {
		writeError(w, h.logger, "ingest", err)
		return
	}
	if h.onIngest != nil {
		h.onIngest(mode, report)
	}
	writeJSON(w, http.StatusOK, IngestResponse{Mode: mode.String(), Report: report})
}

// Search handles GET /api/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results, err := h.searcher.SearchText(r.Context(), q, limit)
	if err != nil {
		writeError(w, h.logger, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

