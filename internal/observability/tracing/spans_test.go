package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevProvider, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) string {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func TestEndSeparatesExpectedOutcomesFromFailures(t *testing.T) {
	recorder := withRecorder(t)
	errAlreadyFollowing := errors.New("already_following")

	_, span := Start(context.Background(), "followgraph.follow", FollowEdge("u1", "u2")...)
	End(span, errAlreadyFollowing, errAlreadyFollowing)

	_, span = Start(context.Background(), "followgraph.follow", FollowEdge("u1", "u3")...)
	End(span, errors.New("disk full"), errAlreadyFollowing)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "already_following", attrValue(spans[0].Attributes(), KeyOutcome))
	assert.Equal(t, "u2", attrValue(spans[0].Attributes(), KeyFollowingID))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "error", attrValue(spans[1].Attributes(), KeyOutcome))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
}

func TestStartDropsSensitiveAttributes(t *testing.T) {
	recorder := withRecorder(t)

	_, span := Start(context.Background(), "billing.create_customer",
		KeyUserID.String("u1"),
		attribute.String("customer_email", "a@example.com"),
	)
	End(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "u1", attrValue(spans[0].Attributes(), KeyUserID))
	assert.Empty(t, attrValue(spans[0].Attributes(), "customer_email"))
	assert.Equal(t, "ok", attrValue(spans[0].Attributes(), KeyOutcome))
}

func TestInjectContextRoundTrips(t *testing.T) {
	withRecorder(t)

	ctx, span := Start(context.Background(), "events.publish")
	defer span.End()

	header := http.Header{}
	InjectContext(ctx, propagation.HeaderCarrier(header))
	require.NotEmpty(t, header.Get("traceparent"))

	remote := ExtractContext(context.Background(), propagation.HeaderCarrier(header))
	_, child := Start(remote, "events.consume")
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}
