package adaptive

import "time"

// StartBurst raises the burst allowance to absorb an expected traffic
// spike. The allowance becomes at least expectedLoad immediately.
//
// Overlapping calls fold into the single active window: the new
// deadline is measured from the moment of the call using the longer of
// the active window's duration and the new one, and the deadline never
// moves backwards. One deadline, no racing timers — a later, shorter
// burst can never cut an earlier window short.
func (c *Controller) StartBurst(expectedLoad float64, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	allowance := c.baseAllowance
	if expectedLoad > allowance {
		allowance = expectedLoad
	}

	if c.burst == nil {
		c.burst = &burstWindow{
			allowance: allowance,
			duration:  duration,
			deadline:  now.Add(duration),
		}
		return
	}

	if allowance > c.burst.allowance {
		c.burst.allowance = allowance
	}
	if c.burst.duration > duration {
		duration = c.burst.duration
	}
	c.burst.duration = duration
	if deadline := now.Add(duration); deadline.After(c.burst.deadline) {
		c.burst.deadline = deadline
	}
}

// Restore reverts to normal operation immediately.
func (c *Controller) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.burst = nil
}

// ExpireIfDue reverts to normal operation once the burst deadline has
// passed. Returns true when this call performed the revert, so the
// caller can emit a completion notification exactly once.
func (c *Controller) ExpireIfDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.burst == nil || now.Before(c.burst.deadline) {
		return false
	}
	c.burst = nil
	return true
}

// BurstActive reports whether a burst window is in effect.
func (c *Controller) BurstActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.burst != nil
}

// Allowance returns the current burst allowance: the base value, or
// the raised one while a burst window is active.
func (c *Controller) Allowance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.burst != nil {
		return c.burst.allowance
	}
	return c.baseAllowance
}

// SetBaseAllowance updates the steady-state allowance (policy change).
// An active burst window keeps its raised value until it expires.
// Non-positive values are ignored.
func (c *Controller) SetBaseAllowance(v float64) {
	if v <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseAllowance = v
}

// BurstFactor returns the ratio of the current allowance to the
// steady-state one: 1 outside a burst window, above 1 while a window
// has raised the allowance beyond the base.
func (c *Controller) BurstFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.burst == nil || c.baseAllowance <= 0 {
		return 1
	}
	return c.burst.allowance / c.baseAllowance
}

// BiasedWeights returns the given tier weights with burst bias
// applied: while a window is active, tiers carrying an above-average
// share of the recent load get their weight multiplied so selection
// leans toward where the spike is landing. Outside a window the
// weights pass through unchanged.
func (c *Controller) BiasedWeights(weights map[string]float64) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.burst == nil || len(c.window) == 0 {
		return weights
	}

	counts := make(map[string]int)
	for _, o := range c.window {
		counts[o.tier]++
	}
	mean := float64(len(c.window)) / float64(len(counts))

	biased := make(map[string]float64, len(weights)+len(counts))
	for tier, w := range weights {
		biased[tier] = w
	}
	for tier, n := range counts {
		w, ok := biased[tier]
		if !ok {
			w = 1
		}
		if float64(n) > mean {
			biased[tier] = w * burstBias
		}
	}
	return biased
}

// burstBias is the weight multiplier applied to high-load tiers while
// a burst window is active.
const burstBias = 1.5
