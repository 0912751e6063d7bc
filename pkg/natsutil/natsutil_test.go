package natsutil

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestPublish(t *testing.T) {
	pub := &capturePublisher{}
	if err := Publish(context.Background(), pub, "test.subject", testMsg{Name: "a", Value: 1}); err != nil {
		t.Fatal(err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.Subject != "test.subject" || string(m.Data) != `{"name":"a","value":1}` {
		t.Fatalf("unexpected message %s %s", m.Subject, m.Data)
	}
}

func TestPublish_Error(t *testing.T) {
	pub := &capturePublisher{err: nats.ErrConnectionClosed}
	if err := Publish(context.Background(), pub, "x", testMsg{}); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
}

func TestTracePropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := NewMsg(ctx, "s", testMsg{Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("expected traceparent header")
	}

	got, v, err := Decode[testMsg](msg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Name != "x" {
		t.Errorf("unexpected payload %+v", v)
	}
	if trace.SpanContextFromContext(got).TraceID() != traceID {
		t.Error("trace id not propagated")
	}
}

func TestHandler_Malformed(t *testing.T) {
	called := false
	var gotErr error
	h := Handler(func(context.Context, testMsg) { called = true }, func(_ *nats.Msg, err error) { gotErr = err })

	h(&nats.Msg{Subject: "s", Data: []byte("{invalid json")})
	if called {
		t.Fatal("handler should not have been called for malformed message")
	}
	if gotErr == nil {
		t.Fatal("expected decode error to be reported")
	}

	// nil onErr drops silently
	Handler(func(context.Context, testMsg) { called = true }, nil)(&nats.Msg{Data: []byte("nope")})
	if called {
		t.Fatal("handler should not have been called")
	}
}

func TestHandler_Valid(t *testing.T) {
	var got testMsg
	h := Handler(func(_ context.Context, v testMsg) { got = v }, nil)
	h(&nats.Msg{Data: []byte(`{"name":"ok","value":7}`)})
	if got.Name != "ok" || got.Value != 7 {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestReplyHandler_NoReplySubject(t *testing.T) {
	var calls int
	h := ReplyHandler(func(_ context.Context, v testMsg) testMsg {
		calls++
		return testMsg{Value: v.Value * 2}
	}, func(_ *nats.Msg, err error) { t.Errorf("unexpected error: %v", err) })

	h(&nats.Msg{Data: []byte(`{"value":2}`)})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestReplyHandler_UnboundReply(t *testing.T) {
	var gotErr error
	h := ReplyHandler(func(context.Context, testMsg) testMsg { return testMsg{} }, func(_ *nats.Msg, err error) { gotErr = err })

	// A reply subject on a message without a subscription cannot be answered.
	h(&nats.Msg{Reply: "_INBOX.x", Data: []byte(`{}`)})
	if !errors.Is(gotErr, nats.ErrMsgNotBound) {
		t.Fatalf("expected ErrMsgNotBound, got %v", gotErr)
	}
}
