// Package catalog keeps a Neo4j ledger of every processed image and its
// final pipeline status.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Label is the node label for image records.
const Label = "Image"

// Catalog stores ImageRecords. Vectors stay in the vector index.
type Catalog struct {
	repo repo.Repository[domain.ImageRecord, string]
}

// New creates a Catalog on driver.
func New(driver neo4j.DriverWithContext) *Catalog {
	return &Catalog{repo: newRepo(driver)}
}

// NewWithRepo creates a Catalog over an existing repository.
func NewWithRepo(r repo.Repository[domain.ImageRecord, string]) *Catalog {
	return &Catalog{repo: r}
}

func newRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[domain.ImageRecord, string] {
	return repo.NewNeo4jRepo[domain.ImageRecord, string](driver, Label, toMap, fromRecord,
		repo.WithOrderBy[domain.ImageRecord, string]("id"),
	)
}

// EnsureSchema creates the uniqueness constraint on image IDs. It only
// applies when the catalog is Neo4j-backed.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if s, ok := c.repo.(interface{ EnsureSchema(context.Context) error }); ok {
		return s.EnsureSchema(ctx)
	}
	return nil
}

// Record upserts rec. It satisfies palace.Recorder.
func (c *Catalog) Record(ctx context.Context, rec domain.ImageRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if _, err := c.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("catalog: record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for an image ID. Unknown IDs yield an error
// wrapping domain.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (domain.ImageRecord, error) {
	rec, err := c.repo.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return rec, fmt.Errorf("%w: catalog: image %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return rec, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns records ordered by ID. An empty status lists all.
func (c *Catalog) List(ctx context.Context, status domain.Status, offset, limit int) ([]domain.ImageRecord, error) {
	opts := repo.ListOpts{Offset: offset, Limit: limit, Filter: statusFilter(status)}
	recs, err := c.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return recs, nil
}

// Count returns the number of cataloged images with status. An empty status
// counts all.
func (c *Catalog) Count(ctx context.Context, status domain.Status) (int64, error) {
	n, err := c.repo.Count(ctx, statusFilter(status))
	if err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

func statusFilter(status domain.Status) map[string]any {
	if status == "" {
		return nil
	}
	return map[string]any{"status": string(status)}
}

// Delete removes an image from the catalog. It satisfies palace.Recorder.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	return nil
}

func toMap(rec domain.ImageRecord) map[string]any {
	return map[string]any{
		"id":         rec.ID,
		"path":       rec.Path,
		"caption":    rec.Caption,
		"status":     string(rec.Status),
		"error":      rec.Error,
		"updated_at": rec.UpdatedAt.UTC(),
	}
}

func fromRecord(r *neo4j.Record) (domain.ImageRecord, error) {
	node, _, err := neo4j.GetRecordValue[neo4j.Node](r, "n")
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("catalog: decode: %w", err)
	}
	return fromProps(node.Props)
}

func fromProps(p map[string]any) (domain.ImageRecord, error) {
	id, ok := p["id"].(string)
	if !ok || id == "" {
		return domain.ImageRecord{}, fmt.Errorf("catalog: decode: node without id")
	}
	rec := domain.ImageRecord{ID: id}
	rec.Path, _ = p["path"].(string)
	rec.Caption, _ = p["caption"].(string)
	rec.Error, _ = p["error"].(string)
	if s, ok := p["status"].(string); ok {
		rec.Status = domain.Status(s)
	}
	if t, ok := p["updated_at"].(time.Time); ok {
		rec.UpdatedAt = t.UTC()
	}
	return rec, nil
}
