package index

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func entry(note string, idx int, vec ...float32) Entry {
	return Entry{
		ChunkID:    ChunkID(note, idx),
		NoteID:     note,
		ChunkIndex: idx,
		Date:       models.NewDate(2025, time.January, 1+idx),
		Title:      "T " + note,
		Text:       "text of " + note,
		Embedding:  vec,
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		t.Fatalf("chunks table missing: %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := entry("a.md", 0, 1, 0)
	for i := 0; i < 3; i++ {
		if err := db.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	all, _ := db.All(ctx)
	got := all[0]
	if got.ChunkID != "a.md#0" || got.Date.String() != "2025-01-01" || len(got.Embedding) != 2 {
		t.Errorf("entry = %+v", got)
	}
}

func TestQueryRanksByCosine(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Upsert(ctx,
		entry("far.md", 0, 0, 1),
		entry("near.md", 0, 1, 0.1),
		entry("mid.md", 0, 1, 1),
		entry("bad.md", 0, 1, 2, 3),
	)

	hits, err := db.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len = %d, want 2", len(hits))
	}
	if hits[0].NoteID != "near.md" || hits[1].NoteID != "mid.md" {
		t.Errorf("order = %s, %s", hits[0].NoteID, hits[1].NoteID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("scores not descending")
	}
}

func TestChunkIDsAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = db.Upsert(ctx, entry("n.md", i, 1, float32(i)))
	}
	_ = db.Upsert(ctx, entry("other.md", 0, 1, 1))

	ids, err := db.ChunkIDs(ctx, "n.md")
	if err != nil {
		t.Fatalf("ChunkIDs: %v", err)
	}
	if len(ids) != 5 || ids[4] != "n.md#4" {
		t.Fatalf("ids = %v", ids)
	}

	if err := db.Delete(ctx, ids[3:]...); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ids, _ = db.ChunkIDs(ctx, "n.md")
	if len(ids) != 3 {
		t.Errorf("after delete ids = %v, want 3", ids)
	}
	if n, _ := db.Count(ctx); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestSearchText(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := entry("garden.md", 0, 1, 0)
	e.Text = "planted tomatoes near the fence"
	_ = db.Upsert(ctx, e, entry("other.md", 0, 0, 1))

	results, err := db.SearchText(ctx, "tomatoes", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(results) != 1 || results[0].NoteID != "garden.md" {
		t.Errorf("results = %+v", results)
	}
}

func TestClosedDBIsUnavailable(t *testing.T) {
	db := testDB(t)
	db.Close()
	ctx := context.Background()

	calls := map[string]func() error{
		"count": func() error {
			_, err := db.Count(ctx)
			return err
		},
		"chunk ids": func() error {
			_, err := db.ChunkIDs(ctx, "a.md")
			return err
		},
		"search": func() error {
			_, err := db.SearchText(ctx, "tomato", 5)
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			if err == nil {
				t.Fatal("expected error on closed db")
			}
			if !errors.Is(err, apperr.ErrIndexUnavailable) {
				t.Errorf("err = %v, want index unavailable", err)
			}
		})
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, float32(math.Pi), 1e-7}
	out, err := DecodeEmbedding(EncodeEmbedding(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{2, 0})
	if err != nil || math.Abs(s-1) > 1e-9 {
		t.Errorf("parallel = %v, %v", s, err)
	}
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2}); err == nil {
		t.Error("expected zero magnitude error")
	}
}
