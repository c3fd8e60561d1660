package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/fairqueue"
)

// tracerName is the instrumentation scope name for fairqueue tracing.
const tracerName = "github.com/xraph/fairqueue"

// Tracing returns middleware that wraps item processing in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: fairqueue.item.id, fairqueue.tier,
// fairqueue.item.priority, fairqueue.item.retries.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, it *fairqueue.Item, next Handler) error {
		ctx, span := tracer.Start(ctx, "fairqueue.item.process",
			trace.WithAttributes(
				attribute.String("fairqueue.item.id", it.ID.String()),
				attribute.String("fairqueue.tier", it.Tier),
				attribute.Float64("fairqueue.item.priority", it.EffectivePriority),
				attribute.Int("fairqueue.item.retries", it.Retries),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
