// Package metrics collects per-tier queue statistics: enqueue, dequeue
// and failure counters plus bounded rolling histories of wait and
// processing times. The collector tolerates concurrent writers; all
// derived values are computed from a consistent locked view.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// defaultHistorySize bounds the rolling wait/processing samples kept
// per tier.
const defaultHistorySize = 1000

// QueueMetrics is a read-only per-tier statistics snapshot.
type QueueMetrics struct {
	Tier                  string        `json:"tier"`
	Enqueued              uint64        `json:"enqueued"`
	Dequeued              uint64        `json:"dequeued"`
	Failed                uint64        `json:"failed"`
	AverageWaitTime       time.Duration `json:"average_wait_time"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ThroughputPerSecond   float64       `json:"throughput_per_second"`
}

// history is a bounded ring of duration samples.
type history struct {
	samples []time.Duration
	next    int
}

func newHistory(size int) *history {
	return &history{samples: make([]time.Duration, 0, size)}
}

func (h *history) add(d time.Duration) {
	if len(h.samples) < cap(h.samples) {
		h.samples = append(h.samples, d)
		return
	}
	h.samples[h.next] = d
	h.next = (h.next + 1) % cap(h.samples)
}

func (h *history) average() time.Duration {
	if len(h.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range h.samples {
		total += d
	}
	return total / time.Duration(len(h.samples))
}

// tierMetrics is the mutable per-tier state.
type tierMetrics struct {
	enqueued   uint64
	dequeued   uint64
	failed     uint64
	waits      *history
	processing *history
}

// Collector accumulates per-tier statistics. Safe for concurrent use.
type Collector struct {
	mu          sync.Mutex
	tiers       map[string]*tierMetrics
	historySize int
	startedAt   time.Time
	now         func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithHistorySize overrides the bounded sample window (default 1000).
func WithHistorySize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithNowFunc injects the clock, for deterministic throughput tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates an empty Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		tiers:       make(map[string]*tierMetrics),
		historySize: defaultHistorySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now()
	return c
}

func (c *Collector) tier(name string) *tierMetrics {
	tm, ok := c.tiers[name]
	if !ok {
		tm = &tierMetrics{
			waits:      newHistory(c.historySize),
			processing: newHistory(c.historySize),
		}
		c.tiers[name] = tm
	}
	return tm
}

// RecordEnqueue counts an item entering the tier queue.
func (c *Collector) RecordEnqueue(tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).enqueued++
}

// RecordDequeue counts an item leaving the tier queue and records how
// long it waited.
func (c *Collector) RecordDequeue(tier string, wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := c.tier(tier)
	tm.dequeued++
	tm.waits.add(wait)
}

// RecordProcessing records the processing duration of a successful
// item. Failures are excluded from the processing history.
func (c *Collector) RecordProcessing(tier string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).processing.add(d)
}

// RecordFailure counts a terminal item failure for the tier.
func (c *Collector) RecordFailure(tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).failed++
}

// Snapshot returns the per-tier statistics keyed by tier name.
func (c *Collector) Snapshot() map[string]QueueMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(c.startedAt).Seconds()
	out := make(map[string]QueueMetrics, len(c.tiers))
	for tier, tm := range c.tiers {
		qm := QueueMetrics{
			Tier:                  tier,
			Enqueued:              tm.enqueued,
			Dequeued:              tm.dequeued,
			Failed:                tm.failed,
			AverageWaitTime:       tm.waits.average(),
			AverageProcessingTime: tm.processing.average(),
		}
		if elapsed > 0 {
			qm.ThroughputPerSecond = float64(tm.dequeued) / elapsed
		}
		out[tier] = qm
	}
	return out
}

// TierDistribution returns each tier's share of total enqueued items,
// in [0, 1]. Returns an empty map when nothing was enqueued.
func (c *Collector) TierDistribution() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := uint64(0)
	for _, tm := range c.tiers {
		total += tm.enqueued
	}
	out := make(map[string]float64, len(c.tiers))
	if total == 0 {
		return out
	}
	for tier, tm := range c.tiers {
		out[tier] = float64(tm.enqueued) / float64(total)
	}
	return out
}

// Tiers returns the known tier names, sorted.
func (c *Collector) Tiers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.tiers))
	for tier := range c.tiers {
		out = append(out, tier)
	}
	sort.Strings(out)
	return out
}
