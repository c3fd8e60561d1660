package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/adaptive"
	"github.com/xraph/fairqueue/backoff"
	"github.com/xraph/fairqueue/capacity"
	"github.com/xraph/fairqueue/dlq"
	"github.com/xraph/fairqueue/ext"
	"github.com/xraph/fairqueue/fairness"
	"github.com/xraph/fairqueue/id"
	"github.com/xraph/fairqueue/maintenance"
	"github.com/xraph/fairqueue/metrics"
	mw "github.com/xraph/fairqueue/middleware"
	"github.com/xraph/fairqueue/observability"
	"github.com/xraph/fairqueue/queue"
)

// retryDecay is applied to an item's effective priority on every
// failed attempt before it re-enters its queue.
const retryDecay = 0.8

// ProcessorFunc handles one dequeued item.
type ProcessorFunc func(ctx context.Context, it *fairqueue.Item) error

// Scheduler coordinates the fairqueue subsystems. Create one with New,
// call Start to launch background maintenance, and Stop to shut down.
// All methods are safe for concurrent use.
type Scheduler struct {
	id     id.SchedulerID
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	policy   atomic.Pointer[fairqueue.FairnessPolicy]
	policyMu sync.Mutex

	store      *queue.Store
	fair       *fairness.Manager
	collector  *metrics.Collector
	controller *adaptive.Controller
	gate       *capacity.Gate
	backoff    backoff.Strategy
	sink       dlq.Sink
	exts       *ext.Registry
	chain      mw.Middleware
	runner     *maintenance.Runner
	retries    *retryQueue

	mu      sync.Mutex
	started bool
	stopped bool

	// Construction-time staging, consumed by New.
	rng            *rand.Rand
	pendingExts    []ext.Extension
	userMws        []mw.Middleware
	capGlobal      capacity.Limits
	capTiers       []capacity.TierLimits
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// New builds a Scheduler. The configured policy is validated; an
// invalid policy fails construction.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		id:      id.NewSchedulerID(),
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		now:     time.Now,
		sink:    dlq.Discard{},
		retries: newRetryQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.normalize()

	if err := s.cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("fairqueue/scheduler: %w", err)
	}
	pol := s.cfg.Policy
	s.policy.Store(&pol)

	if s.backoff == nil {
		s.backoff = backoff.DefaultStrategy()
	}

	s.store = queue.NewStore()
	s.collector = metrics.NewCollector(metrics.WithNowFunc(s.now))
	allowance := s.cfg.BaseAllowance
	if pol.BurstAllowance > 0 {
		allowance = pol.BurstAllowance
	}
	s.controller = adaptive.NewController(allowance, adaptive.WithNowFunc(s.now))
	s.gate = capacity.NewGate(s.capGlobal, s.capTiers...)

	var fairOpts []fairness.Option
	if s.rng != nil {
		fairOpts = append(fairOpts, fairness.WithRand(s.rng))
	}
	s.fair = fairness.NewManager(fairOpts...)

	s.exts = ext.NewRegistry(s.logger)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if s.meterProvider != nil {
		meter := s.meterProvider.Meter("github.com/xraph/fairqueue/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	s.exts.Register(obsExt)
	for _, e := range s.pendingExts {
		s.exts.Register(e)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if s.tracerProvider != nil {
		tracer := s.tracerProvider.Tracer("github.com/xraph/fairqueue")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if s.meterProvider != nil {
		meter := s.meterProvider.Meter("github.com/xraph/fairqueue")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := []mw.Middleware{
		mw.Recover(s.logger),
		tracingMw,
		metricsMw,
		mw.Logging(s.logger),
	}
	allMws = append(allMws, s.userMws...)
	s.chain = mw.Chain(allMws...)

	s.runner = maintenance.NewRunner(s.logger)

	return s, nil
}

// ID returns the scheduler's unique identifier.
func (s *Scheduler) ID() id.SchedulerID { return s.id }

// Policy returns the current immutable policy snapshot.
func (s *Scheduler) Policy() fairqueue.FairnessPolicy {
	return *s.policy.Load()
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ─────────────────────────────────────────────────────────────────────
// Enqueue / Dequeue
// ─────────────────────────────────────────────────────────────────────

// Enqueue validates the item, computes its effective priority, applies
// the starvation boost for its tier, and pushes it onto the tier queue
// (created lazily). Returns ErrInvalidItem for items missing an ID or
// tier, ErrSchedulerStopped after Stop.
func (s *Scheduler) Enqueue(ctx context.Context, it *fairqueue.Item) error {
	if s.isStopped() {
		return fairqueue.ErrSchedulerStopped
	}
	if err := it.Validate(); err != nil {
		return err
	}

	now := s.now()
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = now
	}
	pol := s.Policy()
	it.EffectivePriority = fairqueue.EffectivePriority(it, pol, now)
	it.EffectivePriority += s.fair.StarvationBoost(it.Tier, pol.MaxStarvationTime, now)

	s.store.Push(it)
	s.collector.RecordEnqueue(it.Tier)
	s.sweepStarved(ctx, pol, now)
	s.exts.EmitItemEnqueued(ctx, it)
	return nil
}

// Dequeue selects a tier fairly (starved tiers first, then the active
// algorithm over burst-biased weights), checks the capacity gate, and
// pops the tier's head item. Returns nil when every queue is empty or
// throttled. Never blocks.
//
// The capacity slot acquired here is released when the item is passed
// to Process.
func (s *Scheduler) Dequeue(ctx context.Context) *fairqueue.Item {
	if s.isStopped() {
		return nil
	}

	now := s.now()
	pol := s.Policy()
	if s.controller.BurstActive() {
		pol.TierWeights = s.controller.BiasedWeights(pol.TierWeights)
	}

	eligible := s.store.Snapshot().NonEmpty()
	for len(eligible) > 0 {
		tier, ok := s.fair.SelectQueue(eligible, pol, now)
		if !ok {
			return nil
		}
		if !s.gate.Acquire(tier) {
			eligible = without(eligible, tier)
			continue
		}
		it := s.store.Pop(tier)
		if it == nil {
			s.gate.Release(tier)
			eligible = without(eligible, tier)
			continue
		}

		waited := now.Sub(it.EnqueuedAt)
		s.fair.RecordProcessing(tier, pol, now)
		s.collector.RecordDequeue(tier, waited)
		s.exts.EmitItemDequeued(ctx, it, waited)
		return it
	}
	return nil
}

func without(tiers []string, drop string) []string {
	out := tiers[:0]
	for _, t := range tiers {
		if t != drop {
			out = append(out, t)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────
// Processing
// ─────────────────────────────────────────────────────────────────────

// Process runs fn on the item through the middleware chain. Panics are
// recovered and converted to failures. No queue lock is held while fn
// runs. On failure the item's retry count is incremented: if budget
// remains its effective priority decays and it is parked for backoff
// before re-entering its queue; otherwise it is dead-lettered, the
// ItemFailed hook fires exactly once, and the result error wraps
// fairqueue.ErrMaxRetriesExceeded.
//
// The caller always receives a ProcessingResult, regardless of the
// retry bookkeeping. The item's capacity slot is released when Process
// returns.
func (s *Scheduler) Process(ctx context.Context, it *fairqueue.Item, fn ProcessorFunc) fairqueue.ProcessingResult {
	start := s.now()
	defer s.gate.Release(it.Tier)

	err := s.chain(ctx, it, func(ctx context.Context) error {
		return fn(ctx, it)
	})
	elapsed := s.now().Sub(start)

	result := fairqueue.ProcessingResult{
		Success:        err == nil,
		Err:            err,
		ProcessingTime: elapsed,
		ResourcesUsed:  it.Cost,
	}
	s.controller.RecordOutcome(it, result, elapsed)

	if err == nil {
		s.collector.RecordProcessing(it.Tier, elapsed)
		s.exts.EmitItemProcessed(ctx, it, elapsed)
		return result
	}

	result.Err = s.handleFailure(ctx, it, err)
	return result
}

// handleFailure routes a failed item to retry or the dead-letter sink.
// Returns the error the caller should see: a terminal failure wraps
// fairqueue.ErrMaxRetriesExceeded around the processing error.
func (s *Scheduler) handleFailure(ctx context.Context, it *fairqueue.Item, itemErr error) error {
	it.Retries++
	it.LastError = itemErr.Error()

	if !it.Terminal() {
		it.EffectivePriority *= retryDecay
		delay := s.backoff.Delay(it.Retries)
		s.retries.add(it, s.now().Add(delay))
		s.logger.Info("item retry scheduled",
			"item_id", it.ID,
			"tier", it.Tier,
			"attempt", it.Retries,
			"delay", delay,
			"error", itemErr)
		s.exts.EmitItemRetried(ctx, it, it.Retries, delay)
		return itemErr
	}

	s.collector.RecordFailure(it.Tier)
	s.exts.EmitItemFailed(ctx, it, itemErr)
	entry := dlq.NewEntry(it, itemErr)
	if err := s.sink.Push(ctx, entry); err != nil {
		s.logger.Error("dead-letter push failed",
			"item_id", it.ID,
			"tier", it.Tier,
			"error", err)
	}
	s.logger.Warn("item dead-lettered",
		"item_id", it.ID,
		"tier", it.Tier,
		"retries", it.Retries,
		"error", itemErr)
	return fmt.Errorf("%w: %w", fairqueue.ErrMaxRetriesExceeded, itemErr)
}

// DrainRetries moves every retry whose backoff has elapsed back onto
// its tier queue, preserving the decayed priority. Returns the number
// re-admitted. The retry-drain maintenance task calls this on a tick;
// tests may call it directly.
func (s *Scheduler) DrainRetries(ctx context.Context) int {
	now := s.now()
	due := s.retries.due(now)
	for _, it := range due {
		it.EnqueuedAt = now
		s.store.Push(it)
		s.collector.RecordEnqueue(it.Tier)
		s.exts.EmitItemEnqueued(ctx, it)
	}
	return len(due)
}

// PendingRetries returns the number of items parked for backoff.
func (s *Scheduler) PendingRetries() int { return s.retries.len() }

// ─────────────────────────────────────────────────────────────────────
// Policy and burst control
// ─────────────────────────────────────────────────────────────────────

// ConfigurePolicy merges the partial update into the current policy
// and publishes the result as a new snapshot. An invalid merge returns
// ErrInvalidPolicy and leaves the prior snapshot untouched.
func (s *Scheduler) ConfigurePolicy(ctx context.Context, update fairqueue.PolicyUpdate) error {
	s.policyMu.Lock()
	old := *s.policy.Load()
	next := old.Merge(update)
	if err := next.Validate(); err != nil {
		s.policyMu.Unlock()
		return err
	}
	s.policy.Store(&next)
	s.policyMu.Unlock()

	s.controller.SetBaseAllowance(next.BurstAllowance)
	s.fair.RefreshScores(next)
	s.logger.Info("policy updated",
		"algorithm", next.Algorithm,
		"tiers", len(next.TierWeights))
	s.exts.EmitPolicyUpdated(ctx, old, next)
	return nil
}

// HandleBurst opens (or extends) a burst window: the adaptive
// controller raises its allowance and biases selection toward loaded
// tiers, and the capacity gate widens its token buckets. Overlapping
// calls extend the active window; completion is detected by the
// burst-expiry maintenance task and emits BurstCompleted once.
func (s *Scheduler) HandleBurst(ctx context.Context, expectedLoad float64, duration time.Duration) {
	s.controller.StartBurst(expectedLoad, duration)
	if factor := s.controller.BurstFactor(); factor > 1 {
		s.gate.ApplyBurst(factor)
	}
	s.logger.Info("burst window activated",
		"expected_load", expectedLoad,
		"duration", duration)
	s.exts.EmitBurstActivated(ctx, expectedLoad, duration)
}

// BurstActive reports whether a burst window is currently open.
func (s *Scheduler) BurstActive() bool { return s.controller.BurstActive() }

// ExpireBurst closes the burst window if its deadline has passed,
// restoring capacity and emitting BurstCompleted. Reports whether the
// window closed on this call. The burst-expiry maintenance task calls
// this on a tick; tests may call it directly.
func (s *Scheduler) ExpireBurst(ctx context.Context) bool {
	if !s.controller.ExpireIfDue(s.now()) {
		return false
	}
	s.gate.RestoreBurst()
	s.logger.Info("burst window completed")
	s.exts.EmitBurstCompleted(ctx)
	return true
}

// ─────────────────────────────────────────────────────────────────────
// Observability
// ─────────────────────────────────────────────────────────────────────

// Metrics returns a point-in-time snapshot of per-tier counters.
func (s *Scheduler) Metrics() map[string]metrics.QueueMetrics {
	return s.collector.Snapshot()
}

// TierDistribution returns each tier's share of total enqueued items,
// in [0, 1].
func (s *Scheduler) TierDistribution() map[string]float64 {
	return s.collector.TierDistribution()
}

// FairnessScore returns the overall fairness score in [0, 1], where 1
// means every tier's service share matches its weight entitlement.
func (s *Scheduler) FairnessScore() float64 {
	return s.fair.OverallScore()
}

// Depth returns the number of queued items in the tier.
func (s *Scheduler) Depth(tier string) int { return s.store.Len(tier) }

// TotalDepth returns the number of queued items across all tiers.
func (s *Scheduler) TotalDepth() int { return s.store.TotalLen() }

// Tiers returns the tier names with live queues.
func (s *Scheduler) Tiers() []string { return s.store.Tiers() }

// ─────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────

// Start registers the background maintenance tasks and launches the
// runner. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	tasks := []struct {
		name     string
		schedule string
		fn       maintenance.Func
	}{
		{"fairness-refresh", s.cfg.FairnessSchedule, s.fairnessTask},
		{"queue-maintenance", s.cfg.MaintenanceSchedule, s.maintenanceTask},
		{"aging", s.cfg.AgingSchedule, s.agingTask},
		{"retry-drain", s.cfg.RetrySchedule, s.retryTask},
		{"burst-expiry", s.cfg.BurstSchedule, s.burstTask},
	}
	for _, t := range tasks {
		if err := s.runner.Register(t.name, t.schedule, t.fn); err != nil {
			return err
		}
	}

	if err := s.runner.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("scheduler started", "scheduler_id", s.id)
	return nil
}

// Stop halts background maintenance and marks the scheduler stopped.
// Subsequent Enqueue calls return ErrSchedulerStopped and Dequeue
// returns nil. Calling Stop twice is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	wasStarted := s.started
	s.stopped = true
	s.mu.Unlock()

	if wasStarted {
		if err := s.runner.Stop(ctx); err != nil {
			return err
		}
	}
	s.exts.EmitShutdown(ctx)
	s.logger.Info("scheduler stopped", "scheduler_id", s.id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────
// Maintenance tasks
// ─────────────────────────────────────────────────────────────────────

// sweepStarved flags newly starved tiers for forced inclusion and
// records the incidents.
func (s *Scheduler) sweepStarved(ctx context.Context, pol fairqueue.FairnessPolicy, now time.Time) {
	flagged := s.fair.Sweep(s.store.Snapshot(), pol.MaxStarvationTime, now)
	if len(flagged) == 0 {
		return
	}
	s.controller.RecordStarvation(len(flagged))
	s.logger.Warn("starved tiers flagged for forced selection", "tiers", flagged)
	s.exts.EmitStarvationDetected(ctx, flagged)
}

func (s *Scheduler) fairnessTask(ctx context.Context) error {
	pol := s.Policy()
	s.sweepStarved(ctx, pol, s.now())
	s.fair.RefreshScores(pol)
	return nil
}

func (s *Scheduler) maintenanceTask(_ context.Context) error {
	pol := s.Policy()
	keep := make([]string, 0, len(pol.TierWeights)+len(s.cfg.KeepTiers))
	for tier := range pol.TierWeights {
		keep = append(keep, tier)
	}
	keep = append(keep, s.cfg.KeepTiers...)

	dropped := s.store.DropEmpty(keep...)
	for _, tier := range dropped {
		s.fair.Forget(tier)
	}
	if len(dropped) > 0 {
		s.logger.Debug("empty tier queues dropped", "tiers", dropped)
	}
	return nil
}

func (s *Scheduler) agingTask(_ context.Context) error {
	pol := s.Policy()
	if n := s.store.Age(s.now(), s.cfg.AgingThreshold, pol.AgingFactor); n > 0 {
		s.logger.Debug("aged waiting items", "count", n)
	}
	return nil
}

func (s *Scheduler) retryTask(ctx context.Context) error {
	if n := s.DrainRetries(ctx); n > 0 {
		s.logger.Debug("retries re-admitted", "count", n)
	}
	return nil
}

func (s *Scheduler) burstTask(ctx context.Context) error {
	s.ExpireBurst(ctx)
	return nil
}
