package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

// DefaultQuiet is how long a file must go without writes before it is
// ingested.
const DefaultQuiet = 500 * time.Millisecond

// watcher ingests images created or rewritten in dir. Each path is handled
// once its writes have been quiet for the debounce period.
type watcher struct {
	dir     string
	allowed []string
	quiet   time.Duration
	process func(ctx context.Context, path string) (domain.ImageRecord, error)
	log     *slog.Logger
	out     io.Writer
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *watcher) Run(ctx context.Context) error {
	quiet := w.quiet
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching for new images", "dir", w.dir)

	pending := make(map[string]time.Time)
	tick := time.NewTicker(quiet / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !domain.IsImageFile(ev.Name, w.allowed) {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "dir", w.dir, "error", err)

		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < quiet {
					continue
				}
				delete(pending, path)
				if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
					continue
				}
				rec, _ := w.process(ctx, path)
				printRecord(w.out, rec)
			}
		}
	}
}
