package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Entry is one stored chunk with its embedding.
type Entry struct {
	ChunkID    string
	NoteID     string
	ChunkIndex int
	Date       models.Date
	Title      string
	Text       string
	Embedding  []float32
}

// Hit is an Entry ranked by similarity to a query vector.
type Hit struct {
	Entry
	Score float64
}

// SearchResult represents one keyword search hit.
type SearchResult struct {
	ChunkID string `json:"chunk_id"`
	NoteID  string `json:"note_id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func unavailable(op string, err error) error {
	return fmt.Errorf("index: %s: %w: %w", op, apperr.ErrIndexUnavailable, err)
}

// Upsert inserts or replaces entries by chunk id within one transaction.
func (db *DB) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, note_id, chunk_index, date, title, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			note_id     = excluded.note_id,
			chunk_index = excluded.chunk_index,
			date        = excluded.date,
			title       = excluded.title,
			text        = excluded.text,
			embedding   = excluded.embedding,
			updated_at  = excluded.updated_at
	`)
	if err != nil {
		return unavailable("prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.NoteID, e.ChunkIndex, e.Date.String(),
			e.Title, e.Text, EncodeEmbedding(e.Embedding)); err != nil {
			return unavailable("upsert chunk", err)
		}
		if err := ftsUpsert(ctx, tx, e); err != nil {
			return unavailable("upsert fts", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Delete removes chunks by id. Unknown ids are ignored.
func (db *DB) Delete(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return unavailable("delete chunk", err)
		}
		ftsDelete(ctx, tx, id)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// ChunkIDs returns the ids stored for noteID ordered by chunk index.
func (db *DB) ChunkIDs(ctx context.Context, noteID string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM chunks WHERE note_id = ? ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, unavailable("chunk ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan chunk id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("chunk ids", err)
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// All returns every stored entry ordered by note id and chunk index.
func (db *DB) All(ctx context.Context) ([]Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.scanAll(ctx)
}

// Query ranks every stored chunk by cosine similarity to vec and returns the
// best k. Ties are broken by chunk id. Chunks whose embedding cannot be
// compared (different dimension, zero vector) are skipped.
func (db *DB) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	db.mu.RLock()
	entries, err := db.scanAll(ctx)
	db.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		score, err := CosineSimilarity(vec, e.Embedding)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// caller holds db.mu
func (db *DB) scanAll(ctx context.Context) ([]Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, note_id, chunk_index, date, title, text, embedding
		FROM chunks
		ORDER BY note_id, chunk_index
	`)
	if err != nil {
		return nil, unavailable("scan", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e    Entry
		date string
		blob []byte
	)
	if err := rows.Scan(&e.ChunkID, &e.NoteID, &e.ChunkIndex, &date, &e.Title, &e.Text, &blob); err != nil {
		return Entry{}, unavailable("scan row", err)
	}
	if strings.TrimSpace(date) != "" {
		d, err := models.ParseDate(date)
		if err != nil {
			return Entry{}, fmt.Errorf("index: chunk %s: %w", e.ChunkID, err)
		}
		e.Date = d
	}
	vec, err := DecodeEmbedding(blob)
	if err != nil {
		return Entry{}, fmt.Errorf("index: chunk %s: %w", e.ChunkID, err)
	}
	e.Embedding = vec
	return e, nil
}
