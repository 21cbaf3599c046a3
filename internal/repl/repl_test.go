package repl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/chunker"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/testutil"
)

func newEngine(t *testing.T, notes map[string]string) (*query.Engine, *testutil.FakeGenerator) {
	t.Helper()
	dir, store := testutil.TestVault(t)
	for id, content := range notes {
		testutil.WriteNote(t, dir, id, content)
	}
	led := testutil.TestLedger(t)
	db := testutil.TestDB(t)
	emb := &testutil.FakeEmbedder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := ingest.NewPipeline(store, led, db, emb, chunker.New(1000, 100), logger).Run(context.Background(), ingest.ModeFull); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	gen := &testutil.FakeGenerator{Answer: "the answer"}
	return query.NewEngine(led, store, db, emb, gen, query.Config{}, logger), gen
}

func session(t *testing.T, e Engine, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := New(e, strings.NewReader(input), &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

var notes = map[string]string{
	"2025-01-01.md": "new year resolutions",
	"2025-01-02.md": "standup notes",
	"alpha-note.md": "alpha note body",
	"alpha-plan.md": "alpha plan body",
}

func TestRun_QuitStopsReading(t *testing.T) {
	e, gen := newEngine(t, notes)
	out := session(t, e, "quit\nwhat is this\n")
	if strings.Contains(out, "the answer") {
		t.Error("input after quit was processed")
	}
	if calls, _, _ := gen.Snapshot(); calls != 0 {
		t.Errorf("generator calls = %d", calls)
	}
}

func TestRun_ListAndStats(t *testing.T) {
	e, _ := newEngine(t, notes)
	out := session(t, e, "list notes\nstats\nexit\n")

	for _, want := range []string{"Indexed notes:", "alpha-plan.md", "Total indexed notes: 4", "Dated notes: 2", "Range: 2025-01-01 .. 2025-01-02"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_DisambiguationFlow(t *testing.T) {
	e, _ := newEngine(t, notes)
	out := session(t, e, "show note alpha\nzz\np1\n2\n")

	for _, want := range []string{
		"Multiple notes match 'alpha':",
		"1. alpha-note.md",
		"2. alpha-plan.md",
		"'s' for semantic search",
		"InvalidSelection",
		"=== Preview ===",
		"alpha note body",
		"=== alpha-plan.md ===",
		"alpha plan body",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, selectPrompt); n != 3 {
		t.Errorf("select prompts = %d, want 3", n)
	}
}

func TestRun_CancelReturnsToPrompt(t *testing.T) {
	e, gen := newEngine(t, notes)
	out := session(t, e, "show note alpha\nc\nwhat happened\n")

	if !strings.Contains(out, "Cancelled.") || !strings.Contains(out, "the answer") {
		t.Errorf("output:\n%s", out)
	}
	if calls, _, _ := gen.Snapshot(); calls != 1 {
		t.Errorf("generator calls = %d, want 1", calls)
	}
}

func TestRun_SemanticEscalation(t *testing.T) {
	e, _ := newEngine(t, notes)
	out := session(t, e, "show note alpha\ns\n1\n")

	if !strings.Contains(out, "Semantic matches for 'alpha':") || !strings.Contains(out, " -- ") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRun_DateBundleAndErrors(t *testing.T) {
	e, _ := newEngine(t, notes)
	out := session(t, e, "between 2025-01-01 and 2025-01-02\nfrom 2025-02-30\n")

	if !strings.Contains(out, "--- FILE: 2025-01-01.md ---") || !strings.Contains(out, "--- FILE: 2025-01-02.md ---") {
		t.Errorf("bundle missing:\n%s", out)
	}
	if strings.Contains(out, "=== 2025-01-01.md ===") {
		t.Error("date bundle should not get a single-note header")
	}
	if !strings.Contains(out, "BadDateFormat") {
		t.Errorf("bad date not reported:\n%s", out)
	}
}

func TestRun_AnswerShowsSources(t *testing.T) {
	e, _ := newEngine(t, notes)
	out := session(t, e, "what resolutions did I make\n")
	if !strings.Contains(out, "the answer") || !strings.Contains(out, "sources: ") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	e, _ := newEngine(t, notes)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	r := New(e, strings.NewReader("stats\n"), &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(out.String(), "Total indexed notes") {
		t.Error("input processed after cancel")
	}
}

func TestAsk_SingleQueryWithSelection(t *testing.T) {
	e, _ := newEngine(t, notes)
	var out bytes.Buffer
	r := New(e, strings.NewReader("1\nstats\n"), &out, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := r.Ask(context.Background(), "show note alpha"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(out.String(), "alpha note body") {
		t.Errorf("output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Total indexed notes") {
		t.Error("Ask read past the selection")
	}
}
