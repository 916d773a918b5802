package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/paybridge/paybridge"

// Tracer provides OpenTelemetry tracing for PayBridge.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new PayBridge tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartIngestSpan starts a new span for an inbound webhook.
func (t *Tracer) StartIngestSpan(ctx context.Context, provider string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "paybridge.ingest",
		trace.WithAttributes(
			attribute.String("paybridge.provider", provider),
		),
	)
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, attemptID, eventID, subscriptionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "paybridge.delivery",
		trace.WithAttributes(
			attribute.String("paybridge.attempt_id", attemptID),
			attribute.String("paybridge.event_id", eventID),
			attribute.String("paybridge.subscription_id", subscriptionID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("paybridge.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("paybridge.error", err))
	}
	span.End()
}
