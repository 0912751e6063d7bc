// Package main implements the MindPalace API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/mindpalace/engine/app"
	"github.com/WessleyAI/mindpalace/engine/ingest"
	"github.com/WessleyAI/mindpalace/engine/palace"
	"github.com/WessleyAI/mindpalace/pkg/config"
	"github.com/WessleyAI/mindpalace/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, palace.Options{}, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer a.Close()

	s := &server{
		palace:    a.Palace,
		imageRoot: cfg.ImageDir,
		log:       logger,
		checks: []check{
			{name: "index", fn: func(context.Context) error { return breakerCheck(a.Index.State()) }},
			{name: "ollama", fn: func(ctx context.Context) error {
				if !a.Ollama.IsHealthy(ctx) {
					return errors.New("unreachable")
				}
				return nil
			}},
		},
	}
	if a.Catalog != nil {
		s.catalog = a.Catalog
	}

	handler := mid.Chain(s.routes(a.Metrics),
		mid.Recover(logger),
		mid.RequestID(),
		mid.OTel("mindpalace-api"),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	var sub *nats.Subscription
	if a.NATS != nil {
		if sub, err = ingest.StartConsumer(a.NATS, a.Palace, cfg.ImageDir, logger); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		logger.Info("ingest consumer started", "subject", ingest.Subject, "queue", ingest.Queue, "image_dir", cfg.ImageDir)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if sub != nil {
		g.Go(func() error {
			<-gctx.Done()
			return sub.Drain()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
