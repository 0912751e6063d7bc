package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/fn"
	"github.com/WessleyAI/mindpalace/pkg/resilience"
)

// Guarded wraps an Index with a circuit breaker so an unreachable index
// fails fast instead of timing out on every image.
type Guarded struct {
	Index
	breaker *resilience.Breaker
}

// NewGuarded wraps idx. A nil breaker uses resilience.DefaultBreakerOpts.
func NewGuarded(idx Index, b *resilience.Breaker) *Guarded {
	if b == nil {
		b = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Guarded{Index: idx, breaker: b}
}

func (g *Guarded) EnsureCreated(ctx context.Context, dims int) error {
	return openErr(g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.Index.EnsureCreated(ctx, dims)
	}))
}

func (g *Guarded) Upsert(ctx context.Context, records []VectorRecord) error {
	return openErr(g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.Index.Upsert(ctx, records)
	}))
}

func (g *Guarded) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	r := resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[[]SearchResult] {
		return fn.FromPair(g.Index.Search(ctx, vector, k))
	})
	res, err := r.Unwrap()
	return res, openErr(err)
}

func (g *Guarded) Delete(ctx context.Context, id string) error {
	return openErr(g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.Index.Delete(ctx, id)
	}))
}

func (g *Guarded) Drop(ctx context.Context) error {
	return openErr(g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.Index.Drop(ctx)
	}))
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.breaker.State() }

func openErr(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: semantic: %w", domain.ErrIndexService, err)
	}
	return err
}
