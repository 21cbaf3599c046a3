//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			note_id UNINDEXED,
			title,
			text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, e Entry) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, e.ChunkID)
	_, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (chunk_id, note_id, title, text) VALUES (?, ?, ?, ?)`,
		e.ChunkID, e.NoteID, e.Title, e.Text)
	return err
}

func ftsDelete(ctx context.Context, tx *sql.Tx, chunkID string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, chunkID)
}

// SearchText performs an FTS5 keyword search and returns hits with snippets.
func (db *DB) SearchText(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT chunk_id,
		       note_id,
		       title,
		       snippet(chunks_fts, 3, '**', '**', '...', 32)
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
