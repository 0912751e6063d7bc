package semantic

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

// MemoryIndex is an in-process Index scored by cosine similarity. It is safe
// for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	dims    int
	records map[string]VectorRecord
}

var _ Index = (*MemoryIndex)(nil)

// NewMemory returns an empty MemoryIndex.
func NewMemory() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]VectorRecord)}
}

// EnsureCreated fixes the vector dimension on first call. Later calls are
// no-ops, like an existing Qdrant collection.
func (m *MemoryIndex) EnsureCreated(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 && dims > 0 {
		m.dims = dims
	}
	return nil
}

// Upsert stores records, rejecting the whole batch on a dimension mismatch.
func (m *MemoryIndex) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	for _, r := range records {
		if dims == 0 {
			dims = len(r.Embedding)
		}
		if len(r.Embedding) != dims {
			return fmt.Errorf("%w: semantic: upsert %s: vector has %d dims, index has %d",
				domain.ErrIndexService, r.ID, len(r.Embedding), dims)
		}
	}
	m.dims = dims
	for _, r := range records {
		r.Embedding = slices.Clone(r.Embedding)
		m.records[r.ID] = r
	}
	return nil
}

// Search returns up to k records by decreasing cosine similarity.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 || k <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("%w: semantic: search: query has %d dims, index has %d",
			domain.ErrIndexService, len(vector), m.dims)
	}

	top := newTopK(k)
	for id, r := range m.records {
		top.add(id, cosine(vector, r.Embedding))
	}

	best := top.sorted()
	results := make([]SearchResult, len(best))
	for i, s := range best {
		r := m.records[s.id]
		results[i] = SearchResult{ID: r.ID, Score: s.score, Caption: r.Caption, Path: r.Path}
	}
	return results, nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Get returns the stored record for an image ID.
func (m *MemoryIndex) Get(id string) (VectorRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// Delete removes the record for id.
func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Drop forgets every record and the vector dimension.
func (m *MemoryIndex) Drop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]VectorRecord)
	m.dims = 0
	return nil
}

func (m *MemoryIndex) Close() error { return nil }

// cosine returns 0 when either vector has zero magnitude.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
