package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

// printCaptions lists the stored captions sorted by image ID.
func printCaptions(out io.Writer, dir string, captions map[string]string) {
	if len(captions) == 0 {
		fmt.Fprintf(out, "No images stored from %s\n", dir)
		return
	}
	ids := make([]string, 0, len(captions))
	for id := range captions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fmt.Fprintf(out, "Stored %d images from %s\n", len(ids), dir)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %s\n", id, captions[id])
	}
}

// printResults lists query hits best first.
func printResults(out io.Writer, query string, results []domain.QueryResult) {
	fmt.Fprintf(out, "Results for %q:\n", strings.TrimSpace(query))
	if len(results) == 0 {
		fmt.Fprintln(out, "  no matching images")
		return
	}
	for i, r := range results {
		fmt.Fprintf(out, "%3d. %-20s %.4f  %s\n", i+1, r.ID, r.Score, r.Caption)
		if r.Path != "" {
			fmt.Fprintf(out, "     %s\n", r.Path)
		}
	}
}

// printRecord reports a single watched image.
func printRecord(out io.Writer, rec domain.ImageRecord) {
	if rec.Status == domain.StatusFailed {
		fmt.Fprintf(out, "! %s: %s\n", rec.ID, rec.Error)
		return
	}
	fmt.Fprintf(out, "+ %s: %s\n", rec.ID, rec.Caption)
}
