package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Usa el TracerProvider global; sin configurar es un noop.
var tracer = otel.Tracer("catalogcdc")

func StartPublishSpan(ctx context.Context, topic, key, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "catalogcdc.publish",
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.key", key),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

func StartBatchSpan(ctx context.Context, operation, batchID string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "catalogcdc.batch",
		trace.WithAttributes(
			attribute.String("batch.operation", operation),
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", size),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan cierra el span registrando el error si lo hay.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
