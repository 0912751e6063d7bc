package semantic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

func TestMemory_EmptyIndex(t *testing.T) {
	m := NewMemory()
	m.EnsureCreated(context.Background(), 3)
	results, err := m.Search(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty list, got %v", results)
	}
}

func TestMemory_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.EnsureCreated(ctx, 2)
	err := m.Upsert(ctx, []VectorRecord{
		{ID: "east", Embedding: []float32{1, 0}, Caption: "east"},
		{ID: "north", Embedding: []float32{0, 1}, Caption: "north"},
		{ID: "northeast", Embedding: []float32{1, 1}, Caption: "northeast"},
		{ID: "west", Embedding: []float32{-1, 0}, Caption: "west"},
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := m.Search(ctx, []float32{1, 0.1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"east", "northeast", "north"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("result %d: expected %s, got %s", i, id, results[i].ID)
		}
		if i > 0 && results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by decreasing score: %v", results)
		}
	}
}

func TestMemory_KLargerThanIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []VectorRecord{{ID: "a", Embedding: []float32{1, 0}}, {ID: "b", Embedding: []float32{0, 1}}})
	results, _ := m.Search(ctx, []float32{1, 0}, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestMemory_TiesAreDeterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []VectorRecord{
		{ID: "c", Embedding: []float32{1, 0}},
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{1, 0}},
	})
	results, _ := m.Search(ctx, []float32{1, 0}, 2)
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("expected ties broken by id, got %v", results)
	}
}

func TestMemory_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := VectorRecord{ID: "dog", Embedding: []float32{1, 0}, Caption: "a dog"}
	m.Upsert(ctx, []VectorRecord{rec})
	m.Upsert(ctx, []VectorRecord{rec})
	if m.Len() != 1 {
		t.Fatalf("expected 1 record after duplicate upsert, got %d", m.Len())
	}

	m.Upsert(ctx, []VectorRecord{{ID: "dog", Embedding: []float32{0, 1}, Caption: "a puppy"}})
	got, ok := m.Get("dog")
	if !ok || got.Caption != "a puppy" {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestMemory_UpsertCopiesVector(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	vec := []float32{1, 0}
	m.Upsert(ctx, []VectorRecord{{ID: "a", Embedding: vec}})
	vec[0] = 42
	got, _ := m.Get("a")
	if got.Embedding[0] != 1 {
		t.Fatal("stored vector aliases caller slice")
	}
}

func TestMemory_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.EnsureCreated(ctx, 3)

	err := m.Upsert(ctx, []VectorRecord{{ID: "a", Embedding: []float32{1, 0}}})
	if !errors.Is(err, domain.ErrIndexService) {
		t.Fatalf("expected ErrIndexService, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("rejected batch must not be stored")
	}

	m.Upsert(ctx, []VectorRecord{{ID: "a", Embedding: []float32{1, 0, 0}}})
	if _, err := m.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, domain.ErrIndexService) {
		t.Fatalf("expected ErrIndexService on query mismatch, got %v", err)
	}
}

func TestMemory_EnsureCreatedIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.EnsureCreated(ctx, 2)
	m.EnsureCreated(ctx, 5)
	if err := m.Upsert(ctx, []VectorRecord{{ID: "a", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("existing dimension should be kept: %v", err)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Upsert(ctx, []VectorRecord{{ID: string(rune('a' + i)), Embedding: []float32{float32(i), 1}}})
			m.Search(ctx, []float32{1, 1}, 3)
		}(i)
	}
	wg.Wait()
	if m.Len() != 20 {
		t.Fatalf("expected 20 records, got %d", m.Len())
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	if s := cosine([]float32{0, 0}, []float32{1, 0}); s != 0 {
		t.Fatalf("expected 0, got %f", s)
	}
}

func TestTopK(t *testing.T) {
	top := newTopK(2)
	top.add("a", 0.1)
	top.add("b", 0.9)
	top.add("c", 0.5)
	got := top.sorted()
	if len(got) != 2 || got[0].id != "b" || got[1].id != "c" {
		t.Fatalf("unexpected top-k: %v", got)
	}

	if len(newTopK(0).sorted()) != 0 {
		t.Fatal("k=0 should track nothing")
	}
}

func TestMemory_DeleteAndDrop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []VectorRecord{
		{ID: "dog", Embedding: []float32{1, 0}},
		{ID: "cat", Embedding: []float32{0, 1}},
	})

	if err := m.Delete(ctx, "dog"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting an unknown id should succeed, got %v", err)
	}
	if _, ok := m.Get("dog"); ok || m.Len() != 1 {
		t.Fatalf("dog should be gone, len=%d", m.Len())
	}

	if err := m.Drop(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty index after Drop, got %d", m.Len())
	}
	// the dimension is free again after a drop
	if err := m.Upsert(ctx, []VectorRecord{{ID: "x", Embedding: []float32{1, 2, 3}}}); err != nil {
		t.Fatalf("Upsert after Drop: %v", err)
	}
}
