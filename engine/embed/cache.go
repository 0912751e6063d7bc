package embed

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoises vectors per input text. Embeddings are deterministic for a
// fixed model, so a hit is indistinguishable from a fresh call.
type Cached struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps e with an LRU of the given size. A size <= 0 returns e
// unchanged.
func NewCached(e Embedder, size int) (Embedder, error) {
	if size <= 0 {
		return e, nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Embedder: e, cache: c}, nil
}

// Embed returns a copy of the cached vector, or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(v))
	return v, nil
}

// Len reports the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }
