package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/backoff"
	"github.com/xraph/fairqueue/capacity"
	"github.com/xraph/fairqueue/dlq"
	"github.com/xraph/fairqueue/id"
	"github.com/xraph/fairqueue/scheduler"
)

// ---
// Helpers
// ---

// clock is a settable time source shared with the scheduler under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder captures every lifecycle hook.
type recorder struct {
	mu            sync.Mutex
	enqueued      int
	dequeued      int
	processed     int
	retried       int
	failed        int
	failedItems   []*fairqueue.Item
	starved       [][]string
	burstsStarted int
	burstsDone    int
	policyUpdates int
	shutdowns     int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnItemEnqueued(_ context.Context, _ *fairqueue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued++
	return nil
}

func (r *recorder) OnItemDequeued(_ context.Context, _ *fairqueue.Item, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dequeued++
	return nil
}

func (r *recorder) OnItemProcessed(_ context.Context, _ *fairqueue.Item, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	return nil
}

func (r *recorder) OnItemRetried(_ context.Context, _ *fairqueue.Item, _ int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried++
	return nil
}

func (r *recorder) OnItemFailed(_ context.Context, it *fairqueue.Item, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.failedItems = append(r.failedItems, it)
	return nil
}

func (r *recorder) OnPolicyUpdated(_ context.Context, _, _ fairqueue.FairnessPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policyUpdates++
	return nil
}

func (r *recorder) OnBurstActivated(_ context.Context, _ float64, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.burstsStarted++
	return nil
}

func (r *recorder) OnBurstCompleted(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.burstsDone++
	return nil
}

func (r *recorder) OnStarvationDetected(_ context.Context, tiers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starved = append(r.starved, tiers)
	return nil
}

func (r *recorder) OnShutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
	return nil
}

func testPolicy() fairqueue.FairnessPolicy {
	p := fairqueue.DefaultPolicy()
	p.Algorithm = fairqueue.AlgorithmWeightedFair
	p.TierWeights = map[string]float64{"premium": 3, "standard": 2, "free": 1}
	return p
}

func newTestScheduler(t *testing.T, clk *clock, opts ...scheduler.Option) (*scheduler.Scheduler, *recorder) {
	t.Helper()
	rec := &recorder{}
	base := []scheduler.Option{
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		scheduler.WithNowFunc(clk.Now),
		scheduler.WithBackoff(backoff.NewConstant(time.Second)),
		scheduler.WithPolicy(testPolicy()),
		scheduler.WithExtension(rec),
	}
	s, err := scheduler.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, rec
}

func newItem(tier string, base float64) *fairqueue.Item {
	return &fairqueue.Item{
		ID:           id.NewItemID(),
		Tier:         tier,
		BasePriority: base,
		MaxRetries:   3,
	}
}

// ---
// Construction
// ---

func TestNew_InvalidPolicy(t *testing.T) {
	bad := testPolicy()
	bad.TierWeights["free"] = -1

	_, err := scheduler.New(scheduler.WithPolicy(bad))
	if !errors.Is(err, fairqueue.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
}

// ---
// Enqueue
// ---

func TestEnqueue_InvalidItem(t *testing.T) {
	s, _ := newTestScheduler(t, newClock())

	err := s.Enqueue(context.Background(), &fairqueue.Item{Tier: "premium"})
	if !errors.Is(err, fairqueue.ErrInvalidItem) {
		t.Fatalf("err = %v, want ErrInvalidItem", err)
	}
	if s.TotalDepth() != 0 {
		t.Fatalf("TotalDepth = %d, want 0", s.TotalDepth())
	}
}

func TestEnqueue_ComputesEffectivePriority(t *testing.T) {
	clk := newClock()
	s, rec := newTestScheduler(t, clk)

	it := newItem("premium", 50)
	if err := s.Enqueue(context.Background(), it); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// base 50 × premium weight 3.
	if it.EffectivePriority != 150 {
		t.Errorf("EffectivePriority = %v, want 150", it.EffectivePriority)
	}
	if it.EnqueuedAt != clk.Now() {
		t.Errorf("EnqueuedAt not stamped")
	}
	if s.Depth("premium") != 1 {
		t.Errorf("Depth(premium) = %d, want 1", s.Depth("premium"))
	}
	if rec.enqueued != 1 {
		t.Errorf("enqueued hooks = %d, want 1", rec.enqueued)
	}
}

func TestEnqueue_AfterStop(t *testing.T) {
	s, rec := newTestScheduler(t, newClock())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := s.Enqueue(context.Background(), newItem("premium", 1))
	if !errors.Is(err, fairqueue.ErrSchedulerStopped) {
		t.Fatalf("err = %v, want ErrSchedulerStopped", err)
	}
	if got := s.Dequeue(context.Background()); got != nil {
		t.Fatalf("Dequeue after Stop = %v, want nil", got)
	}
	if rec.shutdowns != 1 {
		t.Errorf("shutdown hooks = %d, want 1", rec.shutdowns)
	}
}

// ---
// Dequeue
// ---

func TestDequeue_EmptyReturnsNil(t *testing.T) {
	s, _ := newTestScheduler(t, newClock())
	if got := s.Dequeue(context.Background()); got != nil {
		t.Fatalf("Dequeue = %v, want nil", got)
	}
}

func TestDequeue_RecordsWaitAndHooks(t *testing.T) {
	clk := newClock()
	s, rec := newTestScheduler(t, clk)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newItem("premium", 10)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	clk.Advance(5 * time.Second)

	it := s.Dequeue(ctx)
	if it == nil {
		t.Fatal("Dequeue = nil")
	}
	if rec.dequeued != 1 {
		t.Errorf("dequeued hooks = %d, want 1", rec.dequeued)
	}

	m := s.Metrics()["premium"]
	if m.Dequeued != 1 {
		t.Errorf("Dequeued = %d, want 1", m.Dequeued)
	}
	if m.AverageWaitTime != 5*time.Second {
		t.Errorf("AverageWaitTime = %v, want 5s", m.AverageWaitTime)
	}
}

func TestDequeue_CapacityThrottledTierSkipped(t *testing.T) {
	clk := newClock()
	s, _ := newTestScheduler(t, clk,
		scheduler.WithCapacity(capacity.Limits{},
			capacity.TierLimits{Tier: "premium", MaxConcurrency: 1}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Enqueue(ctx, newItem("premium", 10)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := s.Enqueue(ctx, newItem("free", 10)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first := s.Dequeue(ctx)
	if first == nil || first.Tier != "premium" {
		t.Fatalf("first = %+v, want premium", first)
	}

	// Premium is at its concurrency cap, so selection falls to free.
	second := s.Dequeue(ctx)
	if second == nil || second.Tier != "free" {
		t.Fatalf("second = %+v, want free", second)
	}

	// Everything left is throttled.
	if got := s.Dequeue(ctx); got != nil {
		t.Fatalf("third = %+v, want nil", got)
	}

	// Finishing the first item frees the premium slot.
	s.Process(ctx, first, func(context.Context, *fairqueue.Item) error { return nil })
	fourth := s.Dequeue(ctx)
	if fourth == nil || fourth.Tier != "premium" {
		t.Fatalf("fourth = %+v, want premium", fourth)
	}
}

// ---
// Process
// ---

func TestProcess_Success(t *testing.T) {
	clk := newClock()
	s, rec := newTestScheduler(t, clk)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newItem("standard", 10)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it := s.Dequeue(ctx)
	if it == nil {
		t.Fatal("Dequeue = nil")
	}

	var calls int
	result := s.Process(ctx, it, func(context.Context, *fairqueue.Item) error {
		calls++
		return nil
	})

	if calls != 1 {
		t.Fatalf("processor calls = %d, want 1", calls)
	}
	if !result.Success || result.Err != nil {
		t.Fatalf("result = %+v, want success", result)
	}
	if rec.processed != 1 {
		t.Errorf("processed hooks = %d, want 1", rec.processed)
	}
	if rec.failed != 0 || rec.retried != 0 {
		t.Errorf("failed/retried hooks = %d/%d, want 0/0", rec.failed, rec.retried)
	}
}

func TestProcess_FailureSchedulesRetry(t *testing.T) {
	clk := newClock()
	s, rec := newTestScheduler(t, clk)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newItem("premium", 100)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it := s.Dequeue(ctx)
	before := it.EffectivePriority

	boom := errors.New("boom")
	result := s.Process(ctx, it, func(context.Context, *fairqueue.Item) error {
		return boom
	})

	if result.Success {
		t.Fatal("result.Success = true, want false")
	}
	if !errors.Is(result.Err, boom) {
		t.Fatalf("result.Err = %v, want boom", result.Err)
	}
	if errors.Is(result.Err, fairqueue.ErrMaxRetriesExceeded) {
		t.Fatal("transient failure wrapped ErrMaxRetriesExceeded")
	}
	if it.Retries != 1 {
		t.Errorf("Retries = %d, want 1", it.Retries)
	}
	if want := before * 0.8; it.EffectivePriority != want {
		t.Errorf("EffectivePriority = %v, want %v", it.EffectivePriority, want)
	}
	if rec.retried != 1 || rec.failed != 0 {
		t.Errorf("retried/failed hooks = %d/%d, want 1/0", rec.retried, rec.failed)
	}
	if s.PendingRetries() != 1 {
		t.Errorf("PendingRetries = %d, want 1", s.PendingRetries())
	}
	if s.Depth("premium") != 0 {
		t.Errorf("Depth(premium) = %d, want 0 while parked", s.Depth("premium"))
	}
}

func TestDrainRetries_WaitsForBackoff(t *testing.T) {
	clk := newClock()
	s, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newItem("premium", 100)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it := s.Dequeue(ctx)
	s.Process(ctx, it, func(context.Context, *fairqueue.Item) error {
		return errors.New("boom")
	})
	decayed := it.EffectivePriority

	if n := s.DrainRetries(ctx); n != 0 {
		t.Fatalf("Drain before backoff = %d, want 0", n)
	}

	clk.Advance(time.Second)
	if n := s.DrainRetries(ctx); n != 1 {
		t.Fatalf("Drain after backoff = %d, want 1", n)
	}
	if s.Depth("premium") != 1 {
		t.Fatalf("Depth(premium) = %d, want 1", s.Depth("premium"))
	}

	again := s.Dequeue(ctx)
	if again == nil {
		t.Fatal("Dequeue = nil after drain")
	}
	if again.EffectivePriority != decayed {
		t.Errorf("EffectivePriority = %v, want preserved %v", again.EffectivePriority, decayed)
	}
	if again.Retries != 1 {
		t.Errorf("Retries = %d, want 1", again.Retries)
	}
}

func TestProcess_TerminalFailureDeadLetters(t *testing.T) {
	clk := newClock()
	sink := dlq.NewMemory()
	s, rec := newTestScheduler(t, clk, scheduler.WithDeadLetterSink(sink))
	ctx := context.Background()

	it := newItem("free", 10)
	it.MaxRetries = 0
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got := s.Dequeue(ctx)

	result := s.Process(ctx, got, func(context.Context, *fairqueue.Item) error {
		return errors.New("no retry budget")
	})
	if result.Success {
		t.Fatal("result.Success = true, want false")
	}
	if !errors.Is(result.Err, fairqueue.ErrMaxRetriesExceeded) {
		t.Fatalf("result.Err = %v, want wrapped ErrMaxRetriesExceeded", result.Err)
	}

	if rec.failed != 1 {
		t.Fatalf("failed hooks = %d, want exactly 1", rec.failed)
	}
	if rec.retried != 0 {
		t.Errorf("retried hooks = %d, want 0", rec.retried)
	}
	n, err := sink.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sink.Count = %d, %v, want 1", n, err)
	}
	entries, err := sink.List(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("sink.List: %v", err)
	}
	if entries[0].ItemID != it.ID || entries[0].Error != "no retry budget" {
		t.Errorf("entry = %+v", entries[0])
	}
	if s.Metrics()["free"].Failed != 1 {
		t.Errorf("Failed metric = %d, want 1", s.Metrics()["free"].Failed)
	}
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	clk := newClock()
	s, rec := newTestScheduler(t, clk)
	ctx := context.Background()

	if err := s.Enqueue(ctx, newItem("standard", 10)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it := s.Dequeue(ctx)

	result := s.Process(ctx, it, func(context.Context, *fairqueue.Item) error {
		panic("kaboom")
	})

	if result.Success {
		t.Fatal("result.Success = true, want false")
	}
	if result.Err == nil {
		t.Fatal("result.Err = nil, want panic error")
	}
	if rec.retried != 1 {
		t.Errorf("retried hooks = %d, want 1", rec.retried)
	}
}

// ---
// Policy
// ---

func TestConfigurePolicy_MergeAndPublish(t *testing.T) {
	s, rec := newTestScheduler(t, newClock())
	ctx := context.Background()

	algo := fairqueue.AlgorithmStride
	err := s.ConfigurePolicy(ctx, fairqueue.PolicyUpdate{
		Algorithm:   &algo,
		TierWeights: map[string]float64{"premium": 5},
	})
	if err != nil {
		t.Fatalf("ConfigurePolicy: %v", err)
	}

	pol := s.Policy()
	if pol.Algorithm != fairqueue.AlgorithmStride {
		t.Errorf("Algorithm = %q, want stride", pol.Algorithm)
	}
	if pol.TierWeights["premium"] != 5 {
		t.Errorf("premium weight = %v, want 5", pol.TierWeights["premium"])
	}
	if pol.TierWeights["free"] != 1 {
		t.Errorf("free weight = %v, want untouched 1", pol.TierWeights["free"])
	}
	if rec.policyUpdates != 1 {
		t.Errorf("policy hooks = %d, want 1", rec.policyUpdates)
	}
}

func TestConfigurePolicy_InvalidKeepsSnapshot(t *testing.T) {
	s, rec := newTestScheduler(t, newClock())
	ctx := context.Background()

	err := s.ConfigurePolicy(ctx, fairqueue.PolicyUpdate{
		TierWeights: map[string]float64{"premium": -3},
	})
	if !errors.Is(err, fairqueue.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
	if s.Policy().TierWeights["premium"] != 3 {
		t.Errorf("premium weight = %v, want prior 3", s.Policy().TierWeights["premium"])
	}
	if rec.policyUpdates != 0 {
		t.Errorf("policy hooks = %d, want 0", rec.policyUpdates)
	}
}

func TestConfigurePolicy_BurstAllowanceRaisesBase(t *testing.T) {
	clk := newClock()
	s, _ := newTestScheduler(t, clk,
		scheduler.WithCapacity(capacity.Limits{RateLimit: 1.0, RateBurst: 1}))
	ctx := context.Background()

	allowance := 1000.0
	err := s.ConfigurePolicy(ctx, fairqueue.PolicyUpdate{BurstAllowance: &allowance})
	if err != nil {
		t.Fatalf("ConfigurePolicy: %v", err)
	}

	// Expected load below the configured allowance: the window opens
	// but the capacity gate keeps its single-token bucket.
	s.HandleBurst(ctx, 500, 5*time.Second)
	if !s.BurstActive() {
		t.Fatal("BurstActive = false after HandleBurst")
	}

	for _, tier := range []string{"premium", "standard"} {
		if err := s.Enqueue(ctx, newItem(tier, 100)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if s.Dequeue(ctx) == nil {
		t.Fatal("first dequeue throttled, want one token available")
	}
	if got := s.Dequeue(ctx); got != nil {
		t.Fatalf("second dequeue = %v, want nil without bucket widening", got.ID)
	}
}

// ---
// Lifecycle
// ---

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, newClock())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// ---
// Observability
// ---

func TestTierDistribution(t *testing.T) {
	clk := newClock()
	s, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Enqueue(ctx, newItem("premium", 100)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := s.Enqueue(ctx, newItem("free", 10)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	dist := s.TierDistribution()
	if dist["premium"] != 0.75 {
		t.Errorf("premium share = %v, want 0.75", dist["premium"])
	}
	if dist["free"] != 0.25 {
		t.Errorf("free share = %v, want 0.25", dist["free"])
	}
}

// ---
// Optimization
// ---

func TestOptimizeConfiguration_FlagsLopsidedService(t *testing.T) {
	clk := newClock()
	s, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	// Equal entitlement, wildly unequal observed service.
	err := s.ConfigurePolicy(ctx, fairqueue.PolicyUpdate{
		TierWeights: map[string]float64{"premium": 1, "standard": 1, "free": 1},
	})
	if err != nil {
		t.Fatalf("ConfigurePolicy: %v", err)
	}

	ok := func(context.Context, *fairqueue.Item) error { return nil }
	for i := 0; i < 9; i++ {
		s.Process(ctx, newItem("premium", 10), ok)
	}
	s.Process(ctx, newItem("free", 10), ok)

	opt := s.OptimizeConfiguration()
	if len(opt.Recommendations) == 0 {
		t.Fatal("no recommendations for a 90/10 split on equal weights")
	}
	if opt.ExpectedImprovement <= 0 {
		t.Errorf("ExpectedImprovement = %v, want > 0", opt.ExpectedImprovement)
	}
	if opt.Changes.TierWeights == nil {
		t.Fatal("Changes.TierWeights = nil, want suggestions")
	}
	if opt.Changes.TierWeights["premium"] <= 1 {
		t.Errorf("premium suggestion = %v, want > current 1",
			opt.Changes.TierWeights["premium"])
	}
}
