// Package app builds a ready-to-use MindPalace from validated configuration.
// Both the CLI and the API server start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/mindpalace/engine/caption"
	"github.com/WessleyAI/mindpalace/engine/catalog"
	"github.com/WessleyAI/mindpalace/engine/embed"
	"github.com/WessleyAI/mindpalace/engine/events"
	"github.com/WessleyAI/mindpalace/engine/palace"
	"github.com/WessleyAI/mindpalace/engine/semantic"
	"github.com/WessleyAI/mindpalace/pkg/config"
	"github.com/WessleyAI/mindpalace/pkg/metrics"
	"github.com/WessleyAI/mindpalace/pkg/ollama"
	"github.com/WessleyAI/mindpalace/pkg/resilience"
)

// ModelTimeout bounds a single caption or embedding HTTP call.
const ModelTimeout = 2 * time.Minute

// App is a wired MindPalace plus the connections it owns.
type App struct {
	Palace  *palace.Orchestrator
	Index   *semantic.Guarded
	Ollama  *ollama.Client
	Catalog *catalog.Catalog // nil when NEO4J_URL is unset
	NATS    *nats.Conn       // nil when NATS_URL is unset
	Metrics *metrics.Registry

	closers []func()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build connects every configured backend, wires the orchestrator and
// creates the vector collection. opts.Dimensions is taken from cfg.
func Build(ctx context.Context, cfg *config.Config, opts palace.Options, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Metrics: metrics.New()}
	a.Metrics.CollectRuntime()

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.Ollama = ollama.New(cfg.OllamaURL, &http.Client{Timeout: ModelTimeout})
	captioner := caption.NewOllama(a.Ollama, caption.Options{
		Model:             cfg.CaptionModel,
		MaxTokens:         cfg.CaptionMaxTokens,
		RequestsPerSecond: cfg.CaptionRPS,
	}, log)

	embedder, err := newEmbedder(cfg, a.Ollama)
	if err != nil {
		return nil, err
	}

	idx, err := a.newIndex(cfg, log)
	if err != nil {
		return nil, err
	}

	deps := palace.Deps{
		Captioner: captioner,
		Embedder:  embedder,
		Index:     idx,
		Metrics:   a.Metrics,
		Logger:    log,
	}

	if cfg.CatalogEnabled() {
		if err := a.connectCatalog(ctx, cfg); err != nil {
			return nil, err
		}
		deps.Recorder = a.Catalog
		log.Info("catalog enabled", "neo4j", cfg.Neo4jURL)
	}

	if cfg.EventsEnabled() {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("mindpalace"))
		if err != nil {
			return nil, fmt.Errorf("app: nats connect: %w", err)
		}
		a.NATS = nc
		a.closers = append(a.closers, nc.Close)
		deps.Notifier = events.NewPublisher(nc)
		log.Info("events enabled", "nats", cfg.NATSURL)
	}

	opts.Dimensions = cfg.EmbedDimensions
	a.Palace = palace.New(deps, opts)
	if err := a.Palace.Ensure(ctx); err != nil {
		return nil, err
	}
	log.Info("mindpalace ready",
		"index", cfg.IndexBackend,
		"collection", cfg.QdrantCollection,
		"caption_model", captioner.Model(),
		"embed_provider", cfg.EmbedProvider,
		"embed_model", embedder.Model(),
		"dims", cfg.EmbedDimensions,
	)
	ok = true
	return a, nil
}

func newEmbedder(cfg *config.Config, oc *ollama.Client) (embed.Embedder, error) {
	var e embed.Embedder
	switch cfg.EmbedProvider {
	case config.ProviderOpenAI:
		e = embed.NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDimensions, &http.Client{Timeout: ModelTimeout})
	default:
		e = embed.NewOllama(oc, cfg.EmbedModel, cfg.EmbedDimensions)
	}
	cached, err := embed.NewCached(e, cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("app: embed cache: %w", err)
	}
	return cached, nil
}

func (a *App) newIndex(cfg *config.Config, log *slog.Logger) (*semantic.Guarded, error) {
	var idx semantic.Index
	switch cfg.IndexBackend {
	case config.BackendMemory:
		idx = semantic.NewMemory()
	default:
		q, err := semantic.New(semantic.QdrantConfig{
			Addr:       cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Insecure:   cfg.QdrantInsecure,
			Metric:     cfg.IndexMetric,
		})
		if err != nil {
			return nil, err
		}
		idx = q
	}
	a.closers = append(a.closers, func() { idx.Close() })

	state := a.Metrics.Gauge("mindpalace_index_breaker_state", "Vector index circuit breaker state (0 closed, 1 open, 2 half-open)").WithLabelValues()
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		state.Set(float64(to))
		log.Warn("vector index breaker", "from", from.String(), "to", to.String())
	}
	a.Index = semantic.NewGuarded(idx, resilience.NewBreaker(opts))
	return a.Index, nil
}

func (a *App) connectCatalog(ctx context.Context, cfg *config.Config) error {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.closers = append(a.closers, func() { driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("app: neo4j verify: %w", err)
	}
	a.Catalog = catalog.New(driver)
	if err := a.Catalog.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("app: catalog schema: %w", err)
	}
	return nil
}
