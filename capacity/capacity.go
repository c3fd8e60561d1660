// Package capacity gates dequeues with token-bucket rate limits and
// concurrency caps, scheduler-wide and per tier. Burst windows raise
// the buckets temporarily without losing the configured steady state.
package capacity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits defines scheduler-wide gating. Zero values disable the
// corresponding check.
type Limits struct {
	// MaxConcurrency caps items in flight across all tiers.
	MaxConcurrency int

	// RateLimit is the sustained dequeues per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 if
	// RateLimit is set but RateBurst is zero.
	RateBurst int
}

// TierLimits defines gating for a single tier.
type TierLimits struct {
	// Tier is the tier identifier (must match Item.Tier).
	Tier string

	// MaxConcurrency caps simultaneous in-flight items for this tier.
	// Zero means no tier-specific limit (the global cap still applies).
	MaxConcurrency int

	// RateLimit is the sustained dequeues per second for this tier.
	RateLimit float64

	// RateBurst is the burst size for the tier's rate limiter.
	RateBurst int
}

// limitState tracks runtime state for one gating level.
type limitState struct {
	maxConcurrency int
	rateBurst      int
	limiter        *rate.Limiter
	active         int
}

func newLimitState(maxConcurrency int, rateLimit float64, rateBurst int) *limitState {
	ls := &limitState{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if rateBurst <= 0 {
			rateBurst = 1
		}
		ls.rateBurst = rateBurst
		ls.limiter = rate.NewLimiter(rate.Limit(rateLimit), rateBurst)
	}
	return ls
}

// Gate controls scheduler-wide and per-tier rate limiting and
// concurrency. It is safe for concurrent use.
type Gate struct {
	mu          sync.Mutex
	global      *limitState
	tiers       map[string]*limitState
	burstFactor float64
}

// NewGate creates a Gate with the given global limits and per-tier
// overrides. Tiers not listed have no tier-specific limits.
func NewGate(global Limits, tiers ...TierLimits) *Gate {
	g := &Gate{
		global: newLimitState(global.MaxConcurrency, global.RateLimit, global.RateBurst),
		tiers:  make(map[string]*limitState, len(tiers)),
	}
	for _, tl := range tiers {
		g.tiers[tl.Tier] = newLimitState(tl.MaxConcurrency, tl.RateLimit, tl.RateBurst)
	}
	return g
}

// Acquire checks rate limits and concurrency for the given tier. If
// the dequeue may proceed it increments the active counters and
// returns true. The caller MUST call Release when processing ends.
// Acquire never blocks.
//
// A rejected Acquire consumes nothing: concurrency is checked before
// any token is spent, and tokens are reserved then cancelled if a
// later check fails, so a throttled tier cannot drain the global
// bucket.
func (g *Gate) Acquire(tier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.global.maxConcurrency > 0 && g.global.active >= g.global.maxConcurrency {
		return false
	}
	ts := g.tiers[tier]
	if ts != nil && ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
		return false
	}

	now := time.Now()
	var held []*rate.Reservation
	for _, ls := range []*limitState{ts, g.global} {
		if ls == nil || ls.limiter == nil {
			continue
		}
		r := ls.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, h := range held {
				h.CancelAt(now)
			}
			return false
		}
		held = append(held, r)
	}

	if ts != nil {
		ts.active++
	}
	g.global.active++
	return true
}

// Release decrements the active counters for the tier.
func (g *Gate) Release(tier string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.global.active > 0 {
		g.global.active--
	}
	if ts := g.tiers[tier]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetTierLimits dynamically updates (or creates) a tier configuration.
// The current active count is preserved across reconfiguration.
func (g *Gate) SetTierLimits(tl TierLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ls := newLimitState(tl.MaxConcurrency, tl.RateLimit, tl.RateBurst)
	if existing := g.tiers[tl.Tier]; existing != nil {
		ls.active = existing.active
	}
	if g.burstFactor > 1 {
		applyBurst(ls, g.burstFactor)
	}
	g.tiers[tl.Tier] = ls
}

// ActiveCount returns the number of in-flight items for a tier.
func (g *Gate) ActiveCount(tier string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts := g.tiers[tier]; ts != nil {
		return ts.active
	}
	return 0
}

// TotalActive returns the number of in-flight items across all tiers.
func (g *Gate) TotalActive() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global.active
}

// ApplyBurst multiplies every token-bucket burst size by factor for
// the duration of a burst window. Factors at or below 1 are ignored.
// Calling ApplyBurst again replaces the previous factor; concurrency
// caps are not changed, only the buckets.
func (g *Gate) ApplyBurst(factor float64) {
	if factor <= 1 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.burstFactor = factor
	applyBurst(g.global, factor)
	for _, ts := range g.tiers {
		applyBurst(ts, factor)
	}
}

// RestoreBurst returns every token bucket to its configured burst
// size. Safe to call with no burst in effect.
func (g *Gate) RestoreBurst() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.burstFactor = 0
	restoreBurst(g.global)
	for _, ts := range g.tiers {
		restoreBurst(ts)
	}
}

// applyBurst swaps in a fresh bucket at the enlarged size so the extra
// headroom is usable immediately rather than refilling at the limit.
func applyBurst(ls *limitState, factor float64) {
	if ls.limiter == nil {
		return
	}
	burst := int(float64(ls.rateBurst) * factor)
	if burst <= ls.rateBurst {
		burst = ls.rateBurst + 1
	}
	ls.limiter = rate.NewLimiter(ls.limiter.Limit(), burst)
}

func restoreBurst(ls *limitState) {
	if ls.limiter == nil {
		return
	}
	ls.limiter = rate.NewLimiter(ls.limiter.Limit(), ls.rateBurst)
}
