package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject is the NATS subject for ingest requests.
	Subject = "mindpalace.ingest"
	// DLQSubject receives requests that failed ingestion.
	DLQSubject = "mindpalace.ingest.dlq"
	// Queue is the queue group shared by all consumers.
	Queue = "mindpalace-ingest"
)

// Request asks for one image to be ingested.
type Request struct {
	Path string `json:"path"`
}

// Processor ingests one image.
type Processor interface {
	ProcessImage(ctx context.Context, path string) (domain.ImageRecord, error)
}

// dlqMessage is published to the DLQ on failure. Failed requests are not
// retried.
type dlqMessage struct {
	Request Request   `json:"request"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// NewHandler returns the request handler used by StartConsumer. Request paths
// are resolved inside root; anything else is rejected before processing. The
// reply is the final event for the image.
func NewHandler(p Processor, root string, dlq natsutil.Publisher, log *slog.Logger) func(context.Context, Request) domain.IngestEvent {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req Request) domain.IngestEvent {
		path, err := domain.ResolveImagePath(root, req.Path, nil)
		if err != nil {
			log.Warn("ingest: rejected request", "path", req.Path, "error", err)
			sendDLQ(ctx, dlq, req, err, log)
			return domain.IngestEvent{
				ImageID: domain.ImageID(strings.TrimSpace(req.Path)),
				Path:    req.Path,
				Status:  domain.StatusFailed,
				Error:   err.Error(),
				At:      time.Now().UTC(),
			}
		}

		rec, err := p.ProcessImage(ctx, path)
		if err != nil {
			if rec.ID == "" {
				rec = domain.ImageRecord{ID: domain.ImageID(path), Path: path}
			}
			rec.Status = domain.StatusFailed
			rec.Error = err.Error()
			sendDLQ(ctx, dlq, req, err, log)
		} else {
			log.Info("ingest: success", "image_id", rec.ID)
		}
		return domain.EventFromRecord(rec)
	}
}

func sendDLQ(ctx context.Context, dlq natsutil.Publisher, req Request, err error, log *slog.Logger) {
	if dlq == nil {
		return
	}
	msg := dlqMessage{Request: req, Error: err.Error(), At: time.Now().UTC()}
	if perr := natsutil.Publish(ctx, dlq, DLQSubject, msg); perr != nil {
		log.Error("ingest: DLQ publish failed", "error", perr)
	}
}

// StartConsumer subscribes to Subject in the Queue group and runs every
// request through p. Requests sent with a reply subject get the final
// IngestEvent back.
func StartConsumer(nc *nats.Conn, p Processor, root string, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Serve(nc, Subject, Queue, NewHandler(p, root, nc, log), func(msg *nats.Msg, err error) {
		log.Error("ingest: bad message", "subject", msg.Subject, "error", err)
	})
}
