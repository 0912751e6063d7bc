// Package domain defines the image records, query results, error taxonomy and
// input validation shared by the mindpalace engine packages.
package domain

import "time"

// Status is the pipeline state of a single image.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCaptioned Status = "captioned"
	StatusEmbedded  Status = "embedded"
	StatusStored    Status = "stored"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusStored || s == StatusFailed
}

// ImageRecord is one captioned image. ID is the filename stem; re-ingesting
// the same ID replaces the previous record.
type ImageRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Caption   string    `json:"caption,omitempty"`
	Vector    []float32 `json:"-"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueryResult is a single ranked hit for a text query. Higher Score means
// more similar under the index metric.
type QueryResult struct {
	ID      string  `json:"id"`
	Caption string  `json:"caption"`
	Path    string  `json:"path,omitempty"`
	Score   float32 `json:"score"`
}

// IngestEvent is published after an image reaches a terminal status.
type IngestEvent struct {
	ImageID string    `json:"image_id"`
	Path    string    `json:"path"`
	Status  Status    `json:"status"`
	Caption string    `json:"caption,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// EventFromRecord builds the event announcing rec's final state.
func EventFromRecord(rec ImageRecord) IngestEvent {
	return IngestEvent{
		ImageID: rec.ID,
		Path:    rec.Path,
		Status:  rec.Status,
		Caption: rec.Caption,
		Error:   rec.Error,
		At:      rec.UpdatedAt,
	}
}
