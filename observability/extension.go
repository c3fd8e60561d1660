package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/ext"
)

// meterName is the instrumentation scope name for fairqueue lifecycle metrics.
const meterName = "github.com/xraph/fairqueue/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.ItemEnqueued       = (*MetricsExtension)(nil)
	_ ext.ItemDequeued       = (*MetricsExtension)(nil)
	_ ext.ItemProcessed      = (*MetricsExtension)(nil)
	_ ext.ItemRetried        = (*MetricsExtension)(nil)
	_ ext.ItemFailed         = (*MetricsExtension)(nil)
	_ ext.BurstActivated     = (*MetricsExtension)(nil)
	_ ext.BurstCompleted     = (*MetricsExtension)(nil)
	_ ext.StarvationDetected = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OTel.
// Register it as a fairqueue extension to automatically track enqueue
// rates, completion counts, retry counts, terminal failures, burst
// windows, and starvation incidents. Counters carry a tier attribute
// where one applies.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	dequeued  metric.Int64Counter
	processed metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	bursts    metric.Int64Counter
	starved   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	e := &MetricsExtension{}
	e.enqueued, _ = meter.Int64Counter("fairqueue.item.enqueued",
		metric.WithDescription("Total items enqueued"),
		metric.WithUnit("{item}"))
	e.dequeued, _ = meter.Int64Counter("fairqueue.item.dequeued",
		metric.WithDescription("Total items selected for processing"),
		metric.WithUnit("{item}"))
	e.processed, _ = meter.Int64Counter("fairqueue.item.completed",
		metric.WithDescription("Total items processed successfully"),
		metric.WithUnit("{item}"))
	e.retried, _ = meter.Int64Counter("fairqueue.item.retried",
		metric.WithDescription("Total retry re-admissions"),
		metric.WithUnit("{item}"))
	e.failed, _ = meter.Int64Counter("fairqueue.item.failed",
		metric.WithDescription("Total terminal failures handed to the dead-letter sink"),
		metric.WithUnit("{item}"))
	e.bursts, _ = meter.Int64Counter("fairqueue.burst.windows",
		metric.WithDescription("Burst window activations and completions"),
		metric.WithUnit("{window}"))
	e.starved, _ = meter.Int64Counter("fairqueue.starvation.detected",
		metric.WithDescription("Tiers flagged by the starvation sweep"),
		metric.WithUnit("{tier}"))
	return e
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func tierAttr(it *fairqueue.Item) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tier", it.Tier))
}

// ── Item lifecycle hooks ────────────────────────────

// OnItemEnqueued implements ext.ItemEnqueued.
func (m *MetricsExtension) OnItemEnqueued(ctx context.Context, it *fairqueue.Item) error {
	m.enqueued.Add(ctx, 1, tierAttr(it))
	return nil
}

// OnItemDequeued implements ext.ItemDequeued.
func (m *MetricsExtension) OnItemDequeued(ctx context.Context, it *fairqueue.Item, _ time.Duration) error {
	m.dequeued.Add(ctx, 1, tierAttr(it))
	return nil
}

// OnItemProcessed implements ext.ItemProcessed.
func (m *MetricsExtension) OnItemProcessed(ctx context.Context, it *fairqueue.Item, _ time.Duration) error {
	m.processed.Add(ctx, 1, tierAttr(it))
	return nil
}

// OnItemRetried implements ext.ItemRetried.
func (m *MetricsExtension) OnItemRetried(ctx context.Context, it *fairqueue.Item, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1, tierAttr(it))
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, it *fairqueue.Item, _ error) error {
	m.failed.Add(ctx, 1, tierAttr(it))
	return nil
}

// ── Burst and starvation hooks ──────────────────────

// OnBurstActivated implements ext.BurstActivated.
func (m *MetricsExtension) OnBurstActivated(ctx context.Context, _ float64, _ time.Duration) error {
	m.bursts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", "activated")))
	return nil
}

// OnBurstCompleted implements ext.BurstCompleted.
func (m *MetricsExtension) OnBurstCompleted(ctx context.Context) error {
	m.bursts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", "completed")))
	return nil
}

// OnStarvationDetected implements ext.StarvationDetected.
func (m *MetricsExtension) OnStarvationDetected(ctx context.Context, tiers []string) error {
	for _, tier := range tiers {
		m.starved.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
	return nil
}
