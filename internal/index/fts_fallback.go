//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; keyword search uses LIKE on chunks.text.
	return nil
}

func ftsUpsert(_ context.Context, _ *sql.Tx, _ Entry) error { return nil }

func ftsDelete(_ context.Context, _ *sql.Tx, _ string) {}

// SearchText performs a LIKE-based keyword search over chunk text and titles.
func (db *DB) SearchText(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, note_id, title, substr(text, 1, 200)
		FROM chunks
		WHERE title LIKE ? OR text LIKE ?
		ORDER BY note_id, chunk_index
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.NoteID, &r.Title, &r.Snippet); err != nil {
			return nil, unavailable("search scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search", err)
	}
	return out, nil
}
