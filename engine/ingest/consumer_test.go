package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/nats-io/nats.go"
)

type fakeProcessor struct {
	rec   domain.ImageRecord
	err   error
	paths []string
}

func (f *fakeProcessor) ProcessImage(_ context.Context, path string) (domain.ImageRecord, error) {
	f.paths = append(f.paths, path)
	return f.rec, f.err
}

type capturePublisher struct{ msgs []*nats.Msg }

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestHandler_Success(t *testing.T) {
	proc := &fakeProcessor{rec: domain.ImageRecord{ID: "dog", Path: "images/dog.jpg", Caption: "a dog", Status: domain.StatusStored}}
	dlq := &capturePublisher{}
	root := t.TempDir()
	h := NewHandler(proc, root, dlq, quietLogger())

	ev := h(context.Background(), Request{Path: " images/dog.jpg "})
	if ev.ImageID != "dog" || ev.Status != domain.StatusStored || ev.Caption != "a dog" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if want := filepath.Join(root, "images", "dog.jpg"); len(proc.paths) != 1 || proc.paths[0] != want {
		t.Fatalf("expected %s, got %v", want, proc.paths)
	}
	if len(dlq.msgs) != 0 {
		t.Fatal("success must not publish to DLQ")
	}
}

func TestHandler_FailureGoesToDLQ(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("caption: boom")}
	dlq := &capturePublisher{}
	h := NewHandler(proc, t.TempDir(), dlq, quietLogger())

	ev := h(context.Background(), Request{Path: "images/cat.png"})
	if ev.Status != domain.StatusFailed || ev.ImageID != "cat" || ev.Error == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(dlq.msgs) != 1 || dlq.msgs[0].Subject != DLQSubject {
		t.Fatalf("expected one DLQ message, got %d", len(dlq.msgs))
	}
	var msg dlqMessage
	if err := json.Unmarshal(dlq.msgs[0].Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Request.Path != "images/cat.png" || msg.Error != "caption: boom" {
		t.Fatalf("unexpected DLQ payload %+v", msg)
	}
	if len(proc.paths) != 1 {
		t.Fatalf("failed requests must not be retried, got %d calls", len(proc.paths))
	}
}

func TestHandler_EmptyPath(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(proc, t.TempDir(), nil, nil)
	ev := h(context.Background(), Request{Path: "  "})
	if ev.Status != domain.StatusFailed {
		t.Fatalf("expected failed event, got %+v", ev)
	}
	if len(proc.paths) != 0 {
		t.Fatal("empty path must not be processed")
	}
}

func TestHandler_RejectsPathsOutsideRoot(t *testing.T) {
	proc := &fakeProcessor{}
	dlq := &capturePublisher{}
	h := NewHandler(proc, t.TempDir(), dlq, quietLogger())

	for _, p := range []string{
		"../secret.png",
		"/home/alice/../../root/private/id_photo.png",
		"images/notes.txt",
	} {
		ev := h(context.Background(), Request{Path: p})
		if ev.Status != domain.StatusFailed || ev.Error == "" {
			t.Errorf("%s: expected failed event, got %+v", p, ev)
		}
	}
	if len(proc.paths) != 0 {
		t.Fatalf("rejected paths must not be processed, got %v", proc.paths)
	}
	if len(dlq.msgs) != 3 {
		t.Fatalf("expected 3 DLQ messages, got %d", len(dlq.msgs))
	}
}
