// Command mindpalace captions every image in a directory and stores the
// captions as vectors, or answers a text query against what is stored.
//
//	mindpalace -image-dir ./images [-workers 4] [-watch] [-reset]
//	mindpalace -query "dogs playing outdoors" [-top-k 5]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/WessleyAI/mindpalace/engine/app"
	"github.com/WessleyAI/mindpalace/engine/palace"
	"github.com/WessleyAI/mindpalace/pkg/config"
)

type options struct {
	imageDir    string
	query       string
	topK        int
	workers     int
	watch       bool
	reset       bool
	metricsPort int
	verbose     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("mindpalace", flag.ContinueOnError)
	fs.StringVar(&o.imageDir, "image-dir", "./images", "directory of images to ingest")
	fs.StringVar(&o.query, "query", "", "search stored captions instead of ingesting")
	fs.IntVar(&o.topK, "top-k", palace.DefaultTopK, "number of results for -query")
	fs.IntVar(&o.workers, "workers", 1, "images processed concurrently")
	fs.BoolVar(&o.watch, "watch", false, "keep ingesting new images until interrupted")
	fs.BoolVar(&o.reset, "reset", false, "drop the vector collection before ingesting")
	fs.IntVar(&o.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.topK < 1 {
		return o, fmt.Errorf("-top-k must be at least 1, got %d", o.topK)
	}
	if o.workers < 1 {
		return o, fmt.Errorf("-workers must be at least 1, got %d", o.workers)
	}
	if o.query != "" && o.watch {
		return o, errors.New("-watch cannot be combined with -query")
	}
	if o.query != "" && o.reset {
		return o, errors.New("-reset cannot be combined with -query")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("mindpalace failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger, out io.Writer) error {
	popts := palace.Options{Workers: opts.workers}
	if opts.query == "" {
		popts.OnProgress = progress(out)
	}

	a, err := app.Build(ctx, cfg, popts, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.metricsPort > 0 {
		a.Metrics.ServeAsync(opts.metricsPort, log)
		log.Info("metrics server started", "port", opts.metricsPort)
	}

	if opts.query != "" {
		results, err := a.Palace.Search(ctx, opts.query, opts.topK)
		if err != nil {
			return err
		}
		printResults(out, opts.query, results)
		return nil
	}

	if opts.reset {
		if err := a.Palace.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Vector index reset")
	}

	captions, err := a.Palace.ProcessDirectory(ctx, opts.imageDir)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	printCaptions(out, opts.imageDir, captions)
	if !opts.watch || ctx.Err() != nil {
		return nil
	}

	w := &watcher{
		dir:     opts.imageDir,
		process: a.Palace.ProcessImage,
		log:     log,
		out:     out,
	}
	return w.Run(ctx)
}

// progress returns an OnProgress callback that draws one bar per batch.
func progress(out io.Writer) func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil || done == 1 {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionSetDescription("Captioning images"),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
			)
		}
		bar.Set(done)
	}
}
