package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/smallbiznis/kinship"

// Start opens an internal span for a domain operation such as "followgraph.follow".
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs...)...))
}

// End closes span. Errors matching one of expected are normal domain outcomes
// (already following, duplicate delivery) and are recorded as kinship.outcome
// instead of failing the span.
func End(span trace.Span, err error, expected ...error) {
	defer span.End()
	if err == nil {
		span.SetAttributes(KeyOutcome.String("ok"))
		return
	}
	for _, want := range expected {
		if errors.Is(err, want) {
			span.SetAttributes(KeyOutcome.String(want.Error()))
			return
		}
	}
	span.SetAttributes(KeyOutcome.String("error"))
	span.RecordError(SafeError(err))
	span.SetStatus(codes.Error, "operation failed")
}

// ExtractContext continues a trace from inbound headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectContext writes the active trace into outbound headers, e.g. NATS message headers.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}
