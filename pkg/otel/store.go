package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// WithStoreSpan wraps a persistence operation in a client span so store
// latency shows up inside the turn trace.
func WithStoreSpan(ctx context.Context, system, target, operation string, fn func(context.Context) error) error {
	tracer := otel.Tracer("voice-bridge/store")

	ctx, span := tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String(system),
			semconv.DBOperationKey.String(operation),
			attribute.String("db.target", target),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
