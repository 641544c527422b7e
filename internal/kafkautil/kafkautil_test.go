package kafkautil

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("order.placed")}}}
	c := HeaderCarrier{Headers: &msg.Headers}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{HeaderEventType, "traceparent"}, c.Keys())
	assert.Equal(t, "order.placed", EventType(msg))
}

func TestInjectExtract_RoundTripsSpanContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	var msg kafka.Message
	Inject(trace.ContextWithSpanContext(context.Background(), sc), &msg)
	require.NotEmpty(t, msg.Headers)

	got := trace.SpanContextFromContext(Extract(context.Background(), &msg))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
	assert.True(t, got.IsRemote())
}
