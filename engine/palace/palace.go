// Package palace composes captioning, embedding and the vector index into
// the two user-facing operations: remembering images and recalling them by
// text.
package palace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WessleyAI/mindpalace/engine/caption"
	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/engine/embed"
	"github.com/WessleyAI/mindpalace/engine/ingest"
	"github.com/WessleyAI/mindpalace/engine/semantic"
	"github.com/WessleyAI/mindpalace/pkg/fn"
	"github.com/WessleyAI/mindpalace/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTopK is used when a search asks for k <= 0.
const DefaultTopK = 5

// Recorder keeps a ledger of processed images.
type Recorder interface {
	Record(ctx context.Context, rec domain.ImageRecord) error
	Delete(ctx context.Context, id string) error
}

// Notifier announces processed images.
type Notifier interface {
	Notify(ctx context.Context, ev domain.IngestEvent) error
}

// Deps holds the long-lived collaborators of an Orchestrator. Recorder,
// Notifier, Metrics and Logger are optional.
type Deps struct {
	Captioner caption.Captioner
	Embedder  embed.Embedder
	Index     semantic.Index
	Recorder  Recorder
	Notifier  Notifier
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Options tunes an Orchestrator.
type Options struct {
	// Dimensions of the collection created by Ensure. Zero uses the
	// embedder's Dimensions.
	Dimensions int
	// Extensions allowed by ProcessDirectory. Nil uses
	// domain.DefaultExtensions.
	Extensions []string
	// Workers bounds concurrent images in ProcessDirectory. Values below 2
	// process sequentially.
	Workers int
	// OnProgress is called after each image of a directory batch.
	OnProgress func(done, total int)
}

// Orchestrator runs the ingest and query paths.
type Orchestrator struct {
	deps     Deps
	opts     Options
	log      *slog.Logger
	pipeline fn.Stage[string, domain.ImageRecord]

	images     *prometheus.CounterVec
	imageDur   prometheus.Observer
	queries    *prometheus.CounterVec
	queryDur   prometheus.Observer
	inProgress prometheus.Gauge
}

// New wires an Orchestrator. The captioner, embedder and index are reused
// for every call.
func New(deps Deps, opts Options) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Dimensions <= 0 && deps.Embedder != nil {
		opts.Dimensions = deps.Embedder.Dimensions()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  log,
		pipeline: ingest.NewPipeline(ingest.Deps{
			Captioner: deps.Captioner,
			Embedder:  deps.Embedder,
			Index:     deps.Index,
			Logger:    log,
		}),
		images:     reg.Counter("mindpalace_images_total", "Images processed by final status", "status"),
		imageDur:   reg.Histogram("mindpalace_image_duration_seconds", "Per-image pipeline time", nil).WithLabelValues(),
		queries:    reg.Counter("mindpalace_queries_total", "Text queries by outcome", "outcome"),
		queryDur:   reg.Histogram("mindpalace_query_duration_seconds", "Per-query time", nil).WithLabelValues(),
		inProgress: reg.Gauge("mindpalace_images_in_progress", "Images currently in the pipeline").WithLabelValues(),
	}
}

// Ensure creates the vector collection if it is missing.
func (o *Orchestrator) Ensure(ctx context.Context) error {
	if err := o.deps.Index.EnsureCreated(ctx, o.opts.Dimensions); err != nil {
		return fmt.Errorf("palace: ensure index: %w", err)
	}
	return nil
}

// Reset drops the vector collection and creates it again, empty. The catalog
// is left as is.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.deps.Index.Drop(ctx); err != nil {
		return fmt.Errorf("palace: drop index: %w", err)
	}
	o.log.WarnContext(ctx, "vector index dropped")
	return o.Ensure(ctx)
}

// Forget removes an image from the index and, when present, the catalog.
// Unknown IDs are not an error.
func (o *Orchestrator) Forget(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewValidationError("id", id, domain.ErrInvalidID)
	}
	if err := o.deps.Index.Delete(ctx, id); err != nil {
		return fmt.Errorf("palace: forget %s: %w", id, err)
	}
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Delete(ctx, id); err != nil {
			return fmt.Errorf("palace: forget %s: %w", id, err)
		}
	}
	o.images.WithLabelValues("forgotten").Inc()
	o.log.InfoContext(ctx, "image forgotten", "image_id", id)
	return nil
}

// ProcessImage captions, embeds and stores one image. On failure the returned
// record has StatusFailed and nothing is written to the index. An image cut
// short by ctx is returned as failed but not counted or reported.
func (o *Orchestrator) ProcessImage(ctx context.Context, path string) (domain.ImageRecord, error) {
	o.inProgress.Inc()
	start := time.Now()
	rec, err := o.pipeline(ctx, path).Unwrap()
	metrics.Since(o.imageDur, start)
	o.inProgress.Dec()

	if err != nil {
		rec = domain.ImageRecord{
			ID:        domain.ImageID(path),
			Path:      path,
			Status:    domain.StatusFailed,
			Error:     err.Error(),
			UpdatedAt: time.Now().UTC(),
		}
		if interrupted(ctx, err) {
			o.log.WarnContext(ctx, "image interrupted", "image_id", rec.ID, "path", path)
			return rec, err
		}
		o.log.ErrorContext(ctx, "image failed", "image_id", rec.ID, "path", path, "error", err)
	} else {
		o.log.InfoContext(ctx, "image stored", "image_id", rec.ID, "caption", rec.Caption)
	}
	o.images.WithLabelValues(string(rec.Status)).Inc()
	o.report(ctx, rec)
	return rec, err
}

// interrupted reports whether a failure happened after ctx ended. gRPC
// cancellations do not wrap ctx.Err(), so any error once ctx is done counts.
func interrupted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

// report hands rec to the optional recorder and notifier. Their failures are
// logged only.
func (o *Orchestrator) report(ctx context.Context, rec domain.ImageRecord) {
	var sinks []func() error
	if o.deps.Recorder != nil {
		sinks = append(sinks, func() error { return o.deps.Recorder.Record(ctx, rec) })
	}
	if o.deps.Notifier != nil {
		sinks = append(sinks, func() error { return o.deps.Notifier.Notify(ctx, domain.EventFromRecord(rec)) })
	}
	for _, err := range fn.FanOut(sinks...) {
		if err != nil {
			o.log.WarnContext(ctx, "report image", "image_id", rec.ID, "error", err)
		}
	}
}

// ListImages returns the allowed image files directly inside dir, sorted by
// name.
func ListImages(dir string, allowed []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("palace: read dir %s: %w", dir, err)
	}
	files := fn.Filter(entries, func(e os.DirEntry) bool {
		if e.IsDir() || !domain.IsImageFile(e.Name(), allowed) {
			return false
		}
		if e.Type().IsRegular() {
			return true
		}
		// symlinks and the like count when they resolve to a regular file
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		return err == nil && info.Mode().IsRegular()
	})
	return fn.Map(files, func(e os.DirEntry) string {
		return filepath.Join(dir, e.Name())
	}), nil
}

// ProcessDirectory ingests every allowed image in dir and returns the
// captions of the images that were stored, keyed by image ID. Failed images
// are logged and skipped. Once ctx is done the remaining images are skipped
// without being attempted or reported. The error is non-nil only when dir
// cannot be read or ctx was cancelled.
func (o *Orchestrator) ProcessDirectory(ctx context.Context, dir string) (map[string]string, error) {
	paths, err := ListImages(dir, o.opts.Extensions)
	if err != nil {
		return nil, err
	}
	o.log.InfoContext(ctx, "processing directory", "dir", dir, "images", len(paths), "workers", max(o.opts.Workers, 1))

	var (
		mu   sync.Mutex
		done int
	)
	results := fn.ParMapResult(paths, max(o.opts.Workers, 1), func(path string) fn.Result[domain.ImageRecord] {
		if err := ctx.Err(); err != nil {
			return fn.Err[domain.ImageRecord](err)
		}
		r := fn.FromPair(o.ProcessImage(ctx, path))
		if o.opts.OnProgress != nil {
			mu.Lock()
			done++
			o.opts.OnProgress(done, len(paths))
			mu.Unlock()
		}
		return r
	})

	captions := make(map[string]string, len(results))
	skipped := 0
	for _, r := range results {
		rec, err := r.Unwrap()
		switch {
		case err == nil:
			captions[rec.ID] = rec.Caption
		case interrupted(ctx, err):
			skipped++
		}
	}
	o.log.InfoContext(ctx, "directory done", "dir", dir,
		"stored", len(captions), "failed", len(paths)-len(captions)-skipped, "skipped", skipped)
	return captions, ctx.Err()
}

// Search embeds text and returns the k most similar stored images, best
// first. k <= 0 uses DefaultTopK.
func (o *Orchestrator) Search(ctx context.Context, text string, k int) ([]domain.QueryResult, error) {
	start := time.Now()
	defer metrics.Since(o.queryDur, start)

	query, err := domain.ValidateQuery(text)
	if err != nil {
		o.queries.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := o.deps.Embedder.Embed(ctx, query)
	if err != nil {
		o.queries.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("palace: embed query: %w", err)
	}
	hits, err := o.deps.Index.Search(ctx, vec, k)
	if err != nil {
		o.queries.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("palace: search: %w", err)
	}

	o.queries.WithLabelValues("ok").Inc()
	return fn.Map(hits, func(h semantic.SearchResult) domain.QueryResult {
		return domain.QueryResult{ID: h.ID, Caption: h.Caption, Path: h.Path, Score: h.Score}
	}), nil
}
