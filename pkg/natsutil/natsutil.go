// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NewMsg serializes v as JSON and injects trace context from ctx.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc Publisher, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Decode unmarshals msg and returns a context carrying its trace headers.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Handler builds a nats.MsgHandler that decodes JSON messages of type T.
// Malformed messages are passed to onErr, or dropped when onErr is nil.
func Handler[T any](handler func(context.Context, T), onErr func(*nats.Msg, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			if onErr != nil {
				onErr(msg, err)
			}
			return
		}
		handler(ctx, v)
	}
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are silently dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, Handler(handler, nil))
}

// ReplyHandler builds a nats.MsgHandler that decodes Req, calls f and, when
// the message carries a reply subject, responds with the JSON-encoded result.
func ReplyHandler[Req, Resp any](f func(context.Context, Req) Resp, onErr func(*nats.Msg, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, req, err := Decode[Req](msg)
		if err != nil {
			if onErr != nil {
				onErr(msg, err)
			}
			return
		}
		resp := f(ctx, req)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(resp)
		if err == nil {
			err = msg.Respond(data)
		}
		if err != nil && onErr != nil {
			onErr(msg, err)
		}
	}
}

// Serve registers f on subject within a queue group, so each request is
// handled by one member of the group. An empty queue subscribes normally.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, f func(context.Context, Req) Resp, onErr func(*nats.Msg, error)) (*nats.Subscription, error) {
	h := ReplyHandler(f, onErr)
	if queue == "" {
		return nc.Subscribe(subject, h)
	}
	return nc.QueueSubscribe(subject, queue, h)
}

// Request sends a JSON-encoded request and decodes the response.
// Uses nats.DefaultTimeout unless ctx carries a deadline.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := NewMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}

	var resp *nats.Msg
	if _, ok := ctx.Deadline(); ok {
		resp, err = nc.RequestMsgWithContext(ctx, msg)
	} else {
		resp, err = nc.RequestMsg(msg, nats.DefaultTimeout)
	}
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
