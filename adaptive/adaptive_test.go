package adaptive

import (
	"testing"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
	"github.com/xraph/fairqueue/queue"
)

func record(c *Controller, tier string, success bool, n int) {
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: tier}
	for i := 0; i < n; i++ {
		c.RecordOutcome(it, fairqueue.ProcessingResult{Success: success}, 10*time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

func TestAnalyze_EmptyWindow(t *testing.T) {
	c := NewController(100)
	report := c.Analyze(queue.Snapshot{}, fairqueue.DefaultPolicy())
	if report.QueueImbalance != 0 {
		t.Errorf("empty snapshot imbalance = %v, want 0", report.QueueImbalance)
	}
	if len(report.FairnessViolations) != 0 {
		t.Errorf("unexpected violations: %v", report.FairnessViolations)
	}
}

func TestAnalyze_DetectsFairnessViolation(t *testing.T) {
	c := NewController(100)
	policy := fairqueue.DefaultPolicy()
	policy.TierWeights = map[string]float64{"free": 1, "premium": 1}

	// Equal weights, but free got 90% of the service.
	record(c, "free", true, 90)
	record(c, "premium", true, 10)

	report := c.Analyze(queue.Snapshot{}, policy)
	if len(report.FairnessViolations) != 2 {
		t.Fatalf("expected both tiers in violation, got %v", report.FairnessViolations)
	}

	// Suggested weights push free up and premium down relative to the
	// equal split.
	if report.SuggestedWeights["free"] <= report.SuggestedWeights["premium"] {
		t.Errorf("suggestions did not follow observed load: %v", report.SuggestedWeights)
	}
}

func TestAnalyze_BalancedServiceClean(t *testing.T) {
	c := NewController(100)
	policy := fairqueue.DefaultPolicy()
	policy.TierWeights = map[string]float64{"free": 1, "premium": 1}

	record(c, "free", true, 50)
	record(c, "premium", true, 50)

	report := c.Analyze(queue.Snapshot{}, policy)
	if len(report.FairnessViolations) != 0 {
		t.Errorf("balanced service flagged violations: %v", report.FairnessViolations)
	}
	if report.SuggestedWeights["free"] != 1 || report.SuggestedWeights["premium"] != 1 {
		t.Errorf("balanced service must keep current weights: %v", report.SuggestedWeights)
	}
}

func TestAnalyze_QueueImbalance(t *testing.T) {
	c := NewController(100)

	even := queue.Snapshot{{Tier: "a", Len: 5}, {Tier: "b", Len: 5}}
	if got := c.Analyze(even, fairqueue.DefaultPolicy()).QueueImbalance; got != 0 {
		t.Errorf("even queues imbalance = %v, want 0", got)
	}

	skewed := queue.Snapshot{{Tier: "a", Len: 100}, {Tier: "b", Len: 0}}
	if got := c.Analyze(skewed, fairqueue.DefaultPolicy()).QueueImbalance; got <= 0 {
		t.Errorf("skewed queues imbalance = %v, want > 0", got)
	}
}

func TestRecordStarvation(t *testing.T) {
	c := NewController(100)
	c.RecordStarvation(2)
	c.RecordStarvation(1)
	report := c.Analyze(queue.Snapshot{}, fairqueue.DefaultPolicy())
	if report.StarvationIncidents != 3 {
		t.Errorf("starvation incidents = %d, want 3", report.StarvationIncidents)
	}
}

// ---------------------------------------------------------------------------
// Burst windows
// ---------------------------------------------------------------------------

func TestBurst_RaisesAllowanceImmediately(t *testing.T) {
	clock := time.Now()
	c := NewController(100, WithNowFunc(func() time.Time { return clock }))

	c.StartBurst(1000, 5*time.Second)
	if got := c.Allowance(); got < 1000 {
		t.Errorf("allowance = %v, want ≥ 1000", got)
	}
	if !c.BurstActive() {
		t.Error("expected active burst window")
	}
}

func TestBurst_OverlappingCallsExtend(t *testing.T) {
	base := time.Now()
	clock := base
	c := NewController(100, WithNowFunc(func() time.Time { return clock }))

	// Burst of 5s at t=0, then a smaller 3s burst at t=2000ms. The
	// second call re-arms the longer duration from t=2000ms, so the
	// window must hold until t=7000ms.
	c.StartBurst(1000, 5*time.Second)
	clock = base.Add(2 * time.Second)
	c.StartBurst(500, 3*time.Second)

	if got := c.Allowance(); got < 1000 {
		t.Errorf("overlap lowered allowance to %v", got)
	}

	clock = base.Add(6900 * time.Millisecond)
	if c.ExpireIfDue(clock) {
		t.Fatal("window reverted before t=7000ms")
	}
	if got := c.Allowance(); got < 1000 {
		t.Errorf("allowance reverted early: %v", got)
	}

	clock = base.Add(7 * time.Second)
	if !c.ExpireIfDue(clock) {
		t.Fatal("window did not expire at its deadline")
	}
	if got := c.Allowance(); got != 100 {
		t.Errorf("allowance after expiry = %v, want base 100", got)
	}
}

func TestBurst_ExpireFiresOnce(t *testing.T) {
	base := time.Now()
	clock := base
	c := NewController(100, WithNowFunc(func() time.Time { return clock }))

	c.StartBurst(1000, time.Second)
	clock = base.Add(2 * time.Second)
	if !c.ExpireIfDue(clock) {
		t.Fatal("expected expiry")
	}
	if c.ExpireIfDue(clock) {
		t.Error("second expiry check must be a no-op")
	}
}

func TestBurst_Restore(t *testing.T) {
	c := NewController(100)
	c.StartBurst(1000, time.Minute)
	c.Restore()
	if c.BurstActive() {
		t.Error("expected no active burst after Restore")
	}
	if got := c.Allowance(); got != 100 {
		t.Errorf("allowance = %v, want base 100", got)
	}
}

func TestBurst_FactorTracksBaseAllowance(t *testing.T) {
	clock := time.Now()
	c := NewController(100, WithNowFunc(func() time.Time { return clock }))

	c.SetBaseAllowance(400)
	c.StartBurst(800, time.Minute)
	if got := c.BurstFactor(); got != 2 {
		t.Errorf("BurstFactor = %v, want 2", got)
	}
	c.Restore()

	// Load below the raised base: the window opens but grants no
	// extra headroom.
	c.StartBurst(200, time.Minute)
	if got := c.Allowance(); got != 400 {
		t.Errorf("allowance = %v, want the 400 base", got)
	}
	if got := c.BurstFactor(); got != 1 {
		t.Errorf("BurstFactor = %v, want 1", got)
	}
	c.Restore()

	// Non-positive updates are ignored.
	c.SetBaseAllowance(0)
	if got := c.Allowance(); got != 400 {
		t.Errorf("allowance = %v, want 400 after ignored update", got)
	}
	if got := c.BurstFactor(); got != 1 {
		t.Errorf("BurstFactor outside a window = %v, want 1", got)
	}
}

func TestBiasedWeights(t *testing.T) {
	c := NewController(100)
	weights := map[string]float64{"free": 1, "premium": 2}

	// No burst: pass-through.
	got := c.BiasedWeights(weights)
	if got["premium"] != 2 {
		t.Errorf("expected pass-through outside burst, got %v", got)
	}

	// Premium carries the recent load; during a burst its weight is
	// multiplied.
	record(c, "premium", true, 30)
	record(c, "free", true, 10)
	c.StartBurst(1000, time.Minute)

	got = c.BiasedWeights(weights)
	if got["premium"] <= 2 {
		t.Errorf("expected premium weight raised during burst, got %v", got)
	}
	if got["free"] != 1 {
		t.Errorf("below-average tier must keep its weight, got %v", got)
	}
}
