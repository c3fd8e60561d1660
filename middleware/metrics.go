package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/fairqueue"
)

// meterName is the instrumentation scope name for fairqueue metrics.
const meterName = "github.com/xraph/fairqueue"

// Metrics returns middleware that records per-item processing metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - fairqueue.item.duration (Float64Histogram): processing time in
//     seconds, with attributes: tier, status ("ok" or "error")
//   - fairqueue.item.processed (Int64Counter): total processing
//     attempts, with attributes: tier, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"fairqueue.item.duration",
		metric.WithDescription("Duration of item processing in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	processed, pErr := meter.Int64Counter(
		"fairqueue.item.processed",
		metric.WithDescription("Total number of item processing attempts"),
		metric.WithUnit("{item}"),
	)
	_ = pErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, it *fairqueue.Item, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("tier", it.Tier),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		processed.Add(ctx, 1, attrs)

		return err
	}
}
