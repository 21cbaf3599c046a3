package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/chunker"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

type env struct {
	dir    string
	store  *storage.FS
	ledger *ledger.Ledger
	db     *index.DB
	emb    *testutil.FakeEmbedder
	p      *Pipeline

	mu     sync.Mutex
	events []string
}

func newEnv(t *testing.T, maxChars, overlap int) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	e := &env{
		dir:    dir,
		store:  store,
		ledger: testutil.TestLedger(t),
		db:     testutil.TestDB(t),
		emb:    &testutil.FakeEmbedder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.p = NewPipeline(e.store, e.ledger, e.db, e.emb, chunker.New(maxChars, overlap), logger,
		WithEvents(func(kind, id string) {
			e.mu.Lock()
			e.events = append(e.events, kind+":"+id)
			e.mu.Unlock()
		}))
	return e
}

func (e *env) chunkCount(t *testing.T, id string) int {
	t.Helper()
	ids, err := e.db.ChunkIDs(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return len(ids)
}

func TestRun_IngestsAndIsIdempotent(t *testing.T) {
	e := newEnv(t, 100, 10)
	testutil.WriteNote(t, e.dir, "2025-01-01.md", "# New year\nresolutions")
	testutil.WriteNote(t, e.dir, "ideas/garden.md", "tomatoes and basil")
	ctx := context.Background()

	rep, err := e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Added != 2 || rep.Failed != 0 {
		t.Errorf("first pass = %+v", rep)
	}
	calls := e.emb.Calls()

	rep, err = e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != 2 || rep.Added+rep.Updated != 0 {
		t.Errorf("second pass = %+v", rep)
	}
	if e.emb.Calls() != calls {
		t.Errorf("embedder called again: %d -> %d", calls, e.emb.Calls())
	}

	entry, ok := e.ledger.Lookup("2025-01-01.md")
	if !ok {
		t.Fatal("ledger entry missing")
	}
	if entry.Date.String() != "2025-01-01" || entry.Title != "New year" || entry.Chunks != 1 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRun_TouchDoesNotReembed(t *testing.T) {
	e := newEnv(t, 100, 10)
	testutil.WriteNote(t, e.dir, "a.md", "same content")
	ctx := context.Background()
	_, _ = e.p.Run(ctx, ModeFull)
	calls := e.emb.Calls()

	later := time.Now().Add(time.Hour)
	_ = os.Chtimes(filepath.Join(e.dir, "a.md"), later, later)

	rep, _ := e.p.Run(ctx, ModeFull)
	if rep.Skipped != 1 || e.emb.Calls() != calls {
		t.Errorf("touch re-embedded: report %+v", rep)
	}
}

func TestRun_PrunesStaleChunks(t *testing.T) {
	e := newEnv(t, 10, 0)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "n.md", strings.Repeat("abcdefghij", 5))
	_, _ = e.p.Run(ctx, ModeFull)
	if got := e.chunkCount(t, "n.md"); got != 5 {
		t.Fatalf("chunks = %d, want 5", got)
	}

	testutil.WriteNote(t, e.dir, "n.md", strings.Repeat("klmnopqrst", 3))
	rep, err := e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Updated != 1 {
		t.Errorf("report = %+v", rep)
	}
	ids, _ := e.db.ChunkIDs(ctx, "n.md")
	if len(ids) != 3 || ids[2] != "n.md#2" {
		t.Errorf("chunk ids = %v, want n.md#0..2", ids)
	}
	entry, _ := e.ledger.Lookup("n.md")
	if entry.Chunks != 3 {
		t.Errorf("ledger chunks = %d", entry.Chunks)
	}
}

func TestRun_EmbedFailureLeavesLedgerStale(t *testing.T) {
	e := newEnv(t, 100, 10)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "good.md", "fine")
	testutil.WriteNote(t, e.dir, "bad.md", "poison pill")
	e.emb.FailOn = []string{"poison"}

	rep, err := e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("per-note failure must not abort: %v", err)
	}
	if rep.Added != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if _, ok := e.ledger.Lookup("bad.md"); ok {
		t.Error("failed note must not be recorded")
	}
	if e.chunkCount(t, "bad.md") != 0 {
		t.Error("failed note must not reach the index")
	}

	e.emb.FailOn = nil
	rep, _ = e.p.Run(ctx, ModeFull)
	if rep.Added != 1 || rep.Skipped != 1 {
		t.Errorf("retry pass = %+v", rep)
	}
}

func TestRun_UnreadableNoteIsSkipped(t *testing.T) {
	e := newEnv(t, 100, 10)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "2025-01-01.md", "first")
	testutil.WriteNote(t, e.dir, "2025-01-03.md", "third")
	if err := os.Symlink(filepath.Join(e.dir, "missing.md"), filepath.Join(e.dir, "2025-01-02.md")); err != nil {
		t.Skipf("symlink: %v", err)
	}

	rep, err := e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("unreadable note must not abort: %v", err)
	}
	if rep.Added != 2 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	for _, id := range []string{"2025-01-01.md", "2025-01-03.md"} {
		if _, ok := e.ledger.Lookup(id); !ok {
			t.Errorf("%s not recorded", id)
		}
	}
	if _, ok := e.ledger.Lookup("2025-01-02.md"); ok {
		t.Error("unreadable note must not be recorded")
	}
}

func TestRun_RemovesDeletedNotes(t *testing.T) {
	e := newEnv(t, 100, 10)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "gone.md", "temporary")
	_, _ = e.p.Run(ctx, ModeFull)

	_ = os.Remove(filepath.Join(e.dir, "gone.md"))
	rep, err := e.p.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Removed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if _, ok := e.ledger.Lookup("gone.md"); ok {
		t.Error("ledger still has removed note")
	}
	if e.chunkCount(t, "gone.md") != 0 {
		t.Error("index still has removed note")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	want := []string{EventIngested + ":gone.md", EventRemoved + ":gone.md"}
	if len(e.events) != 2 || e.events[0] != want[0] || e.events[1] != want[1] {
		t.Errorf("events = %v", e.events)
	}
}

func TestRun_IndexUnavailableAborts(t *testing.T) {
	e := newEnv(t, 100, 10)
	testutil.WriteNote(t, e.dir, "a.md", "alpha")
	testutil.WriteNote(t, e.dir, "b.md", "beta")
	e.db.Close()

	_, err := e.p.Run(context.Background(), ModeFull)
	if !errors.Is(err, apperr.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	if e.ledger.Len() != 0 {
		t.Error("no note should be recorded when the index is down")
	}
}

func TestRun_LegacyEntriesAreReembedded(t *testing.T) {
	e := newEnv(t, 100, 10)
	testutil.WriteNote(t, e.dir, "old.md", "from the python days")
	_ = e.ledger.Record(ledger.Entry{NoteID: "old.md"})

	rep, _ := e.p.Run(context.Background(), ModeFull)
	if rep.Updated != 1 {
		t.Errorf("report = %+v", rep)
	}
	entry, _ := e.ledger.Lookup("old.md")
	if entry.Fingerprint.Checksum == "" {
		t.Error("fingerprint not stored")
	}
}

func TestRun_MetadataOnly(t *testing.T) {
	e := newEnv(t, 100, 10)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "journal.md", "# First title\nbody")
	testutil.WriteNote(t, e.dir, "unseen.md", "never ingested")
	_ = e.ledger.Record(ledger.Entry{NoteID: "journal.md", Title: "stale"})
	calls := e.emb.Calls()

	rep, err := e.p.Run(ctx, ModeMetadataOnly)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Updated != 1 {
		t.Errorf("report = %+v", rep)
	}
	entry, _ := e.ledger.Lookup("journal.md")
	if entry.Title != "First title" {
		t.Errorf("title = %q", entry.Title)
	}
	if entry.Fingerprint.Checksum != "" {
		t.Error("metadata-only must not change the fingerprint")
	}
	if _, ok := e.ledger.Lookup("unseen.md"); ok {
		t.Error("metadata-only must not add notes")
	}
	if e.emb.Calls() != calls {
		t.Error("metadata-only must not embed")
	}
	if n, _ := e.db.Count(ctx); n != 0 {
		t.Errorf("index touched: %d chunks", n)
	}
}

func TestIngestNote(t *testing.T) {
	e := newEnv(t, 100, 10)
	ctx := context.Background()
	testutil.WriteNote(t, e.dir, "w.md", "watched")

	if o, err := e.p.IngestNote(ctx, "w.md"); err != nil || o != OutcomeAdded {
		t.Fatalf("IngestNote = %v, %v", o, err)
	}
	if o, _ := e.p.IngestNote(ctx, "w.md"); o != OutcomeSkipped {
		t.Errorf("unchanged note outcome = %v", o)
	}

	_ = os.Remove(filepath.Join(e.dir, "w.md"))
	if o, err := e.p.IngestNote(ctx, "w.md"); err != nil || o != OutcomeRemoved {
		t.Errorf("removed note outcome = %v, %v", o, err)
	}
	if o, _ := e.p.IngestNote(ctx, "never.md"); o != OutcomeSkipped {
		t.Errorf("unknown missing note outcome = %v", o)
	}
}

func TestRun_EmptyNoteHasNoChunks(t *testing.T) {
	e := newEnv(t, 100, 10)
	testutil.WriteNote(t, e.dir, "blank.md", "   \n")
	rep, _ := e.p.Run(context.Background(), ModeFull)
	if rep.Added != 1 {
		t.Errorf("report = %+v", rep)
	}
	entry, _ := e.ledger.Lookup("blank.md")
	if entry.Chunks != 0 {
		t.Errorf("chunks = %d", entry.Chunks)
	}
}
