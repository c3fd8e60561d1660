package scheduler

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/backoff"
	"github.com/xraph/fairqueue/capacity"
	"github.com/xraph/fairqueue/dlq"
	"github.com/xraph/fairqueue/ext"
	mw "github.com/xraph/fairqueue/middleware"
)

// Config holds scheduler tuning knobs. Zero values fall back to the
// DefaultConfig values during New.
type Config struct {
	// Policy is the initial fairness policy. Validated by New.
	Policy fairqueue.FairnessPolicy

	// BaseAllowance is the steady-state capacity estimate handed to
	// the adaptive controller when the policy leaves BurstAllowance
	// zero. Policy updates carrying a positive BurstAllowance take
	// over as the live base.
	BaseAllowance float64

	// AgingThreshold is how long an item must wait before the aging
	// pass starts boosting its priority.
	AgingThreshold time.Duration

	// KeepTiers lists tier queues the maintenance pass never drops even
	// when empty. Tiers named in Policy.TierWeights are always kept.
	KeepTiers []string

	// Cron descriptors for the background tasks.
	FairnessSchedule    string
	MaintenanceSchedule string
	AgingSchedule       string
	RetrySchedule       string
	BurstSchedule       string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Policy:              fairqueue.DefaultPolicy(),
		BaseAllowance:       100,
		AgingThreshold:      2 * time.Minute,
		FairnessSchedule:    "@every 10s",
		MaintenanceSchedule: "@every 30s",
		AgingSchedule:       "@every 5m",
		RetrySchedule:       "@every 1s",
		BurstSchedule:       "@every 1s",
	}
}

// normalize fills zero fields from the defaults.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.BaseAllowance <= 0 {
		c.BaseAllowance = def.BaseAllowance
	}
	if c.AgingThreshold <= 0 {
		c.AgingThreshold = def.AgingThreshold
	}
	if c.FairnessSchedule == "" {
		c.FairnessSchedule = def.FairnessSchedule
	}
	if c.MaintenanceSchedule == "" {
		c.MaintenanceSchedule = def.MaintenanceSchedule
	}
	if c.AgingSchedule == "" {
		c.AgingSchedule = def.AgingSchedule
	}
	if c.RetrySchedule == "" {
		c.RetrySchedule = def.RetrySchedule
	}
	if c.BurstSchedule == "" {
		c.BurstSchedule = def.BurstSchedule
	}
	return c
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig replaces the whole configuration. Apply it before options
// that touch individual Config fields.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		s.cfg = cfg
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithPolicy sets the initial fairness policy.
func WithPolicy(p fairqueue.FairnessPolicy) Option {
	return func(s *Scheduler) {
		s.cfg.Policy = p
	}
}

// WithRandSource injects the random source used by lottery selection.
// Seed it for deterministic tests.
func WithRandSource(rng *rand.Rand) Option {
	return func(s *Scheduler) {
		s.rng = rng
	}
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) {
		s.backoff = b
	}
}

// WithDeadLetterSink sets where terminally failed items are recorded.
// If not set, entries are discarded.
func WithDeadLetterSink(sink dlq.Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithExtension registers an extension with the scheduler.
func WithExtension(e ext.Extension) Option {
	return func(s *Scheduler) {
		s.pendingExts = append(s.pendingExts, e)
	}
}

// WithMiddleware appends middleware to the processing chain, after the
// default recover/tracing/metrics/logging stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(s *Scheduler) {
		s.userMws = append(s.userMws, m)
	}
}

// WithCapacity sets scheduler-wide and per-tier rate limiting and
// concurrency. Tiers not listed have no tier-specific limits.
func WithCapacity(global capacity.Limits, tiers ...capacity.TierLimits) Option {
	return func(s *Scheduler) {
		s.capGlobal = global
		s.capTiers = append(s.capTiers, tiers...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) {
		s.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Scheduler) {
		s.meterProvider = mp
	}
}

// WithNowFunc overrides the scheduler clock. Tests use it to control
// priority urgency, starvation windows, and burst deadlines.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}
