// Package pubsub publishes notices to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Notifier wraps a Pub/Sub publisher client.
type Notifier struct {
	publisher *pubsub.Publisher
}

// New creates a Notifier for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// NotifyOutcome marshals the notice to JSON and publishes it, carrying the
// trace context and the outcome kind as attributes.
func (n *Notifier) NotifyOutcome(ctx context.Context, notice crawler.Notice) error {
	if n.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := newMessage(ctx, notice)
	if err != nil {
		return err
	}
	if _, err := n.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.publisher != nil {
		n.publisher.Stop()
	}
}

func newMessage(ctx context.Context, notice crawler.Notice) (*pubsub.Message, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("marshal notice: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"kind": string(notice.Kind)}}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
