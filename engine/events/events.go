// Package events publishes image ingest outcomes on NATS.
package events

import (
	"context"
	"fmt"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/natsutil"
)

// Subject prefix; the final token is the image status.
const SubjectPrefix = "mindpalace.images."

// Subject returns the subject an event with status s is published on, e.g.
// mindpalace.images.stored.
func Subject(s domain.Status) string {
	return SubjectPrefix + string(s)
}

// Publisher sends IngestEvents. It satisfies palace.Notifier.
type Publisher struct {
	pub natsutil.Publisher
}

// NewPublisher wraps a NATS connection (or any natsutil.Publisher).
func NewPublisher(pub natsutil.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Notify publishes ev. Only terminal statuses are published.
func (p *Publisher) Notify(ctx context.Context, ev domain.IngestEvent) error {
	if !ev.Status.Terminal() {
		return nil
	}
	if err := natsutil.Publish(ctx, p.pub, Subject(ev.Status), ev); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.ImageID, err)
	}
	return nil
}
