package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/chunker"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/testutil"
)

type testEnv struct {
	router http.Handler
	gen    *testutil.FakeGenerator
	dir    string
	runs   []ingest.Report
}

// newTestEnv builds the full stack over a temp vault holding notes.
func newTestEnv(t *testing.T, authToken string, notes map[string]string) *testEnv {
	t.Helper()
	dir, store := testutil.TestVault(t)
	for id, content := range notes {
		testutil.WriteNote(t, dir, id, content)
	}
	led := testutil.TestLedger(t)
	db := testutil.TestDB(t)
	emb := &testutil.FakeEmbedder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{gen: &testutil.FakeGenerator{Answer: "answer"}, dir: dir}
	pipeline := ingest.NewPipeline(store, led, db, emb, chunker.New(1000, 100), logger)
	engine := query.NewEngine(led, store, db, emb, env.gen, query.Config{TopK: 3}, logger,
		query.WithNow(func() time.Time { return time.Date(2025, time.December, 4, 9, 0, 0, 0, time.Local) }))

	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)

	h := NewHandler(engine, pipeline, db, logger, WithIngestHook(func(_ ingest.Mode, r ingest.Report) {
		env.runs = append(env.runs, r)
	}))
	env.router = NewRouter(h, authToken, broker)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) ingest(t *testing.T) {
	t.Helper()
	if w := e.do(t, http.MethodPost, "/ingest", nil); w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var sampleNotes = map[string]string{
	"2025-01-01.md":          "# New year\nresolutions #goals",
	"2025-01-02.md":          "standup with the team",
	"2025-01-05.md":          "weekend hike",
	"projects/alpha-note.md": "alpha note body",
	"projects/alpha-plan.md": "alpha plan body",
}

func TestIngestReport(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)

	w := env.do(t, http.MethodPost, "/ingest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[IngestResponse](t, w)
	if resp.Mode != "full" || resp.Report.Added != 5 {
		t.Errorf("response = %+v", resp)
	}

	resp = decode[IngestResponse](t, env.do(t, http.MethodPost, "/ingest?metadata_only=true", nil))
	if resp.Mode != ingest.ModeMetadataOnly.String() || resp.Report.Added != 0 {
		t.Errorf("metadata-only response = %+v", resp)
	}
	if len(env.runs) != 2 {
		t.Errorf("ingest hook ran %d times, want 2", len(env.runs))
	}

	if w := env.do(t, http.MethodPost, "/ingest?metadata_only=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad flag status = %d", w.Code)
	}
}

func TestQuery_DateRange(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	w := env.do(t, http.MethodPost, "/query", QueryRequest{Query: "between 2025-01-01 and 2025-01-03"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	turn := decode[query.Turn](t, w)
	if turn.Kind != query.TurnContent || strings.Join(turn.Notes, ",") != "2025-01-01.md,2025-01-02.md" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestQuery_DisambiguationRoundTrip(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	first := decode[query.Turn](t, env.do(t, http.MethodPost, "/query", QueryRequest{Query: "show note alpha"}))
	if first.Kind != query.TurnDisambiguation || first.State == nil || len(first.State.Candidates) != 2 {
		t.Fatalf("turn = %+v", first)
	}

	w := env.do(t, http.MethodPost, "/query", QueryRequest{State: first.State, Input: "9"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid selection status = %d", w.Code)
	}
	invalid := decode[query.Turn](t, w)
	if invalid.Error != apperr.KindInvalidSelection || invalid.State == nil {
		t.Errorf("invalid turn = %+v", invalid)
	}

	picked := decode[query.Turn](t, env.do(t, http.MethodPost, "/query", QueryRequest{State: invalid.State, Input: "2"}))
	if picked.Kind != query.TurnContent || picked.Text != "alpha plan body" {
		t.Errorf("picked = %+v", picked)
	}
}

func TestQuery_Semantic(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	turn := decode[query.Turn](t, env.do(t, http.MethodPost, "/query", QueryRequest{Query: "how was the hike"}))
	if turn.Kind != query.TurnAnswer || turn.Text != "answer" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestQuery_ErrorStatus(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	if w := env.do(t, http.MethodPost, "/query", QueryRequest{Query: "from 2025-02-30"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", w.Code)
	}

	env.gen.Err = apperr.ErrGenerationUnavailable
	w := env.do(t, http.MethodPost, "/query", QueryRequest{Query: "anything at all"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("generation down status = %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/query", QueryRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty request status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{"))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	all := decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes", nil))
	if all.Total != 5 || len(all.Notes) != 5 || all.Notes[0].ID != "2025-01-01.md" {
		t.Errorf("list = %+v", all)
	}

	page := decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes?limit=2&offset=1", nil))
	if page.Total != 5 || len(page.Notes) != 2 || page.Notes[0].ID != "2025-01-02.md" {
		t.Errorf("page = %+v", page)
	}

	tagged := decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes?tag=goals", nil))
	if tagged.Total != 1 || tagged.Notes[0].Title != "New year" {
		t.Errorf("tagged = %+v", tagged)
	}
}

func TestGetNote(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	for _, target := range []string{"/notes/projects/alpha-note.md", "/notes/projects%2Falpha-note.md"} {
		w := env.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, w.Code)
		}
		note := decode[NoteDetail](t, w)
		if note.ID != "projects/alpha-note.md" || note.Content != "alpha note body" || !note.Indexed {
			t.Errorf("%s note = %+v", target, note)
		}
	}

	if w := env.do(t, http.MethodGet, "/notes/missing.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
}

func TestGetNote_NotYetIngested(t *testing.T) {
	env := newTestEnv(t, "", nil)
	testutil.WriteNote(t, env.dir, "fresh.md", "just written")

	note := decode[NoteDetail](t, env.do(t, http.MethodGet, "/notes/fresh.md", nil))
	if note.Indexed || note.Content != "just written" {
		t.Errorf("note = %+v", note)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	s := decode[query.Stats](t, env.do(t, http.MethodGet, "/stats", nil))
	if s.Notes != 5 || s.Dated != 3 || s.Chunks != 5 || s.Newest.String() != "2025-01-05" {
		t.Errorf("stats = %+v", s)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, "", sampleNotes)
	env.ingest(t)

	res := decode[SearchResponse](t, env.do(t, http.MethodGet, "/search?q=standup", nil))
	if len(res.Results) != 1 || res.Results[0].NoteID != "2025-01-02.md" {
		t.Errorf("results = %+v", res.Results)
	}

	empty := env.do(t, http.MethodGet, "/search?q=nothingmatches", nil)
	if !strings.Contains(empty.Body.String(), `"results":[]`) {
		t.Errorf("empty body = %s", empty.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret", sampleNotes)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestEvents_AuthProtected(t *testing.T) {
	env := newTestEnv(t, "secret", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("status = %d, content type = %q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindNone:                  http.StatusOK,
		apperr.KindBadDateFormat:         http.StatusBadRequest,
		apperr.KindNotFound:              http.StatusNotFound,
		apperr.KindIndexUnavailable:      http.StatusServiceUnavailable,
		apperr.KindTimeout:               http.StatusGatewayTimeout,
		apperr.KindInternal:              http.StatusInternalServerError,
		apperr.KindNoteUnreadable:        http.StatusUnprocessableEntity,
		apperr.KindGenerationUnavailable: http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%q) = %d, want %d", kind, got, want)
		}
	}
}
