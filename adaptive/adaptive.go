// Package adaptive learns from processing outcomes. It keeps a bounded
// rolling window of results per tier, reports queue imbalance,
// fairness violations, and starvation incidents, suggests tier weight
// changes, and manages burst capacity windows.
package adaptive

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/queue"
)

// defaultWindowSize bounds the rolling outcome window.
const defaultWindowSize = 500

// violationThreshold is the service-share gap past which a tier counts
// as a fairness violation.
const violationThreshold = 0.1

// outcome is one recorded processing result.
type outcome struct {
	tier    string
	success bool
	elapsed time.Duration
}

// Violation reports a tier whose observed service share diverges from
// the share its weight entitles it to.
type Violation struct {
	Tier          string  `json:"tier"`
	ActualShare   float64 `json:"actual_share"`
	EntitledShare float64 `json:"entitled_share"`
}

// Report is the output of Analyze.
type Report struct {
	// QueueImbalance is the normalized spread of queue lengths across
	// tiers: 0 for perfectly even, growing with skew.
	QueueImbalance float64 `json:"queue_imbalance"`

	FairnessViolations  []Violation `json:"fairness_violations"`
	StarvationIncidents int         `json:"starvation_incidents"`

	// SuggestedWeights nudges violating tiers toward their observed
	// load. Tiers without a violation keep their current weight.
	SuggestedWeights map[string]float64 `json:"suggested_weights"`
}

// Controller is the adaptive scheduler: it records outcomes, analyzes
// performance, and owns the burst capacity window. Safe for concurrent
// use; burst state is read atomically relative to selection.
type Controller struct {
	mu         sync.Mutex
	window     []outcome
	next       int
	windowSize int

	starvationIncidents int

	baseAllowance float64
	burst         *burstWindow

	now func() time.Time
}

// burstWindow is the active burst, if any. Overlapping bursts fold
// into one window with a single deadline, never racing timers.
type burstWindow struct {
	allowance float64
	duration  time.Duration
	deadline  time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithWindowSize bounds the rolling outcome window (default 500).
func WithWindowSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.windowSize = n
		}
	}
}

// WithNowFunc injects the clock for deterministic burst tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller with the given steady-state burst
// allowance.
func NewController(baseAllowance float64, opts ...Option) *Controller {
	c := &Controller{
		windowSize:    defaultWindowSize,
		baseAllowance: baseAllowance,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.window = make([]outcome, 0, c.windowSize)
	return c
}

// RecordOutcome feeds one processing result into the rolling model.
func (c *Controller) RecordOutcome(it *fairqueue.Item, result fairqueue.ProcessingResult, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := outcome{tier: it.Tier, success: result.Success, elapsed: elapsed}
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, o)
		return
	}
	c.window[c.next] = o
	c.next = (c.next + 1) % cap(c.window)
}

// RecordStarvation counts starvation incidents flagged by the sweep.
func (c *Controller) RecordStarvation(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starvationIncidents += n
}

// Analyze compares observed service against the policy's weight-implied
// shares and measures queue imbalance from the snapshot.
func (c *Controller) Analyze(snap queue.Snapshot, policy fairqueue.FairnessPolicy) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := Report{
		QueueImbalance:      imbalance(snap),
		StarvationIncidents: c.starvationIncidents,
		SuggestedWeights:    make(map[string]float64),
	}

	// Observed service share per tier from the rolling window.
	counts := make(map[string]int)
	for _, o := range c.window {
		counts[o.tier]++
	}
	if len(counts) == 0 {
		return report
	}

	total := float64(len(c.window))
	totalWeight := 0.0
	tiers := make([]string, 0, len(counts))
	for tier := range counts {
		totalWeight += policy.TierWeight(tier)
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	for _, tier := range tiers {
		actual := float64(counts[tier]) / total
		entitled := policy.TierWeight(tier) / totalWeight
		report.SuggestedWeights[tier] = policy.TierWeight(tier)

		gap := actual - entitled
		if gap < 0 {
			gap = -gap
		}
		if gap <= violationThreshold {
			continue
		}
		report.FairnessViolations = append(report.FairnessViolations, Violation{
			Tier:          tier,
			ActualShare:   actual,
			EntitledShare: entitled,
		})

		// Nudge the weight toward the observed load, bounded so one
		// window cannot swing the policy wildly.
		suggested := policy.TierWeight(tier) * (actual / entitled)
		if suggested < 0.1 {
			suggested = 0.1
		}
		if suggested > 10 {
			suggested = 10
		}
		report.SuggestedWeights[tier] = suggested
	}
	return report
}

// imbalance is the coefficient-of-variation of queue lengths: 0 when
// all tiers are equally backed up.
func imbalance(snap queue.Snapshot) float64 {
	if len(snap) == 0 {
		return 0
	}
	mean := 0.0
	for _, ti := range snap {
		mean += float64(ti.Len)
	}
	mean /= float64(len(snap))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, ti := range snap {
		d := float64(ti.Len) - mean
		variance += d * d
	}
	variance /= float64(len(snap))
	return math.Sqrt(variance) / mean
}
