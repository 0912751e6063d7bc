package semantic

import "context"

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Caption string  `json:"caption"`
	Path    string  `json:"path"`
}

// VectorRecord represents a single captioned image vector. ID is the image ID,
// not the backend point ID.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Caption   string
	Path      string
}

// Index is a nearest-neighbour store for caption vectors.
type Index interface {
	// EnsureCreated creates the backing collection if it does not exist.
	// An existing collection is reused unchanged.
	EnsureCreated(ctx context.Context, dims int) error
	// Upsert replaces any record with the same ID.
	Upsert(ctx context.Context, records []VectorRecord) error
	// Search returns at most k hits ordered by decreasing score.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
	// Delete removes the record for an image ID. Unknown IDs are not an error.
	Delete(ctx context.Context, id string) error
	// Drop removes the collection and every record in it.
	Drop(ctx context.Context) error
	Close() error
}
