package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

func TestNotifyWithoutPublisher(t *testing.T) {
	err := New(nil).NotifyOutcome(context.Background(), crawler.Notice{})
	require.Error(t, err)
}

func TestNewMessageCarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "notify")
	defer span.End()

	notice := crawler.Notice{UserID: "u1", Kind: crawler.OutcomeTargetUnavailable, Message: "try again"}
	msg, err := newMessage(ctx, notice)
	require.NoError(t, err)

	assert.Equal(t, "target_unavailable", msg.Attributes["kind"])
	assert.NotEmpty(t, msg.Attributes["traceparent"])

	var got crawler.Notice
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, notice, got)
}

func TestCarrierKeys(t *testing.T) {
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("a", "1")
	assert.Equal(t, "1", c.Get("a"))
	assert.Equal(t, []string{"a"}, c.Keys())
}
