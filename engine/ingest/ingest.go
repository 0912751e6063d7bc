// Package ingest provides the ingestion pipeline that takes an image file
// through captioning, embedding and storage stages.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/mindpalace/engine/caption"
	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/engine/embed"
	"github.com/WessleyAI/mindpalace/engine/semantic"
	"github.com/WessleyAI/mindpalace/pkg/fn"
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Captioner caption.Captioner
	Embedder  embed.Embedder
	Index     semantic.Index
	Logger    *slog.Logger
}

// --- Pipeline Stages ---

// Prepare derives the pending record for an image path.
var Prepare fn.Stage[string, domain.ImageRecord] = fn.MapStage(func(path string) domain.ImageRecord {
	return domain.ImageRecord{
		ID:     domain.ImageID(path),
		Path:   path,
		Status: domain.StatusPending,
	}
})

// NewCaption creates a stage that captions the record's image.
func NewCaption(c caption.Captioner) fn.Stage[domain.ImageRecord, domain.ImageRecord] {
	return func(ctx context.Context, rec domain.ImageRecord) fn.Result[domain.ImageRecord] {
		text, err := c.Caption(ctx, rec.Path)
		if err != nil {
			return fn.Err[domain.ImageRecord](err)
		}
		rec.Caption = text
		rec.Status = domain.StatusCaptioned
		return fn.Ok(rec)
	}
}

// NewEmbed creates a stage that embeds the record's caption.
func NewEmbed(e embed.Embedder) fn.Stage[domain.ImageRecord, domain.ImageRecord] {
	return func(ctx context.Context, rec domain.ImageRecord) fn.Result[domain.ImageRecord] {
		vec, err := e.Embed(ctx, rec.Caption)
		if err != nil {
			return fn.Err[domain.ImageRecord](fmt.Errorf("ingest: embed %s: %w", rec.ID, err))
		}
		rec.Vector = vec
		rec.Status = domain.StatusEmbedded
		return fn.Ok(rec)
	}
}

// NewStore creates a stage that upserts the record into the vector index.
func NewStore(idx semantic.Index) fn.Stage[domain.ImageRecord, domain.ImageRecord] {
	return func(ctx context.Context, rec domain.ImageRecord) fn.Result[domain.ImageRecord] {
		err := idx.Upsert(ctx, []semantic.VectorRecord{{
			ID:        rec.ID,
			Embedding: rec.Vector,
			Caption:   rec.Caption,
			Path:      rec.Path,
		}})
		if err != nil {
			return fn.Err[domain.ImageRecord](fmt.Errorf("ingest: store %s: %w", rec.ID, err))
		}
		rec.Status = domain.StatusStored
		rec.UpdatedAt = time.Now().UTC()
		return fn.Ok(rec)
	}
}

// Logged wraps a stage with entry/exit logging and its duration.
func Logged[In, Out any](name string, log *slog.Logger, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		log.DebugContext(ctx, "stage.enter", "stage", name)
		start := time.Now()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			log.DebugContext(ctx, "stage.fail", "stage", name, "duration", time.Since(start), "error", err)
			return r
		}
		log.DebugContext(ctx, "stage.exit", "stage", name, "duration", time.Since(start))
		return r
	}
}

func step(name string, log *slog.Logger, stage fn.Stage[domain.ImageRecord, domain.ImageRecord]) fn.Stage[domain.ImageRecord, domain.ImageRecord] {
	return fn.TracedStage("ingest."+name, Logged(name, log, stage))
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[string, domain.ImageRecord] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	// Compose: Prepare → Caption → Embed → Store
	return fn.Then(Prepare, fn.Pipeline(
		step("caption", log, NewCaption(deps.Captioner)),
		step("embed", log, NewEmbed(deps.Embedder)),
		step("store", log, NewStore(deps.Index)),
	))
}
