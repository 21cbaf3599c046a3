package index

import "context"

// VectorIndex is the chunk store consumed by ingestion and queries.
// Consumers depend on this interface so tests can swap in fakes.
type VectorIndex interface {
	Upsert(ctx context.Context, entries ...Entry) error
	Query(ctx context.Context, vec []float32, k int) ([]Hit, error)
	All(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, chunkIDs ...string) error
	ChunkIDs(ctx context.Context, noteID string) ([]string, error)
	Count(ctx context.Context) (int, error)
	SearchText(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Verify *DB satisfies VectorIndex at compile time.
var _ VectorIndex = (*DB)(nil)
