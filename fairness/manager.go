package fairness

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/xraph/fairqueue"
)

// queueState is the per-tier service bookkeeping. Mutated only by the
// Manager under its mutex.
type queueState struct {
	processingCount int
	lastProcessedAt time.Time
	fairnessScore   float64

	// forced marks the tier for inclusion in the next selection round
	// regardless of the configured algorithm (starvation prevention).
	forced bool

	// pass is the virtual-time counter used by stride scheduling.
	pass float64
}

// TierState is a read-only copy of a tier's service bookkeeping.
type TierState struct {
	Tier            string
	ProcessingCount int
	LastProcessedAt time.Time
	FairnessScore   float64
	Starved         bool
}

// Manager owns the selection algorithm dispatch and the per-tier
// service state. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	states     map[string]*queueState
	algorithms map[fairqueue.AlgorithmType]Algorithm
	rng        *rand.Rand
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand injects the random source used by lottery selection.
// Inject a seeded source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// WithAlgorithm registers (or replaces) a selection algorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(m *Manager) { m.algorithms[a.Name()] = a }
}

// NewManager creates a Manager with the built-in algorithms registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		states:     make(map[string]*queueState),
		algorithms: make(map[fairqueue.AlgorithmType]Algorithm),
	}
	for _, a := range builtinAlgorithms() {
		m.algorithms[a.Name()] = a
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return m
}

// ensureState returns the state for a tier, creating it with the
// current time as the service baseline. A tier that has never been
// serviced is measured from first sight, not from the epoch, so fresh
// tiers do not start out starved.
func (m *Manager) ensureState(tier string, now time.Time) *queueState {
	st, ok := m.states[tier]
	if !ok {
		st = &queueState{lastProcessedAt: now, pass: m.minPass()}
		m.states[tier] = st
	}
	return st
}

// minPass returns the minimum stride pass across known tiers, so a
// newly seen tier joins at the current virtual time instead of
// monopolizing selection.
func (m *Manager) minPass() float64 {
	first := true
	min := 0.0
	for _, st := range m.states {
		if first || st.pass < min {
			min = st.pass
			first = false
		}
	}
	return min
}

// Observe makes a tier known to the manager without recording service.
// Called at enqueue time so starvation tracking starts when the first
// item arrives.
func (m *Manager) Observe(tier string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureState(tier, now)
}

// StarvationBoost returns the fixed priority boost for items enqueued
// into a tier that has gone unserviced longer than maxStarvation, and
// zero otherwise. Applied once, at enqueue.
func (m *Manager) StarvationBoost(tier string, maxStarvation time.Duration, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureState(tier, now)
	if now.Sub(st.lastProcessedAt) > maxStarvation {
		return starvationBoost
	}
	return 0
}

// starvationBoost is the flat priority bonus granted to arrivals on a
// starved tier.
const starvationBoost = 50

// SelectQueue returns the tier to service next among the eligible
// (non-empty, unthrottled) tiers, or "" if none are eligible.
//
// Tiers flagged by the starvation sweep win before the configured
// algorithm runs, which upholds the starvation bound even under
// probabilistic algorithms. An unknown algorithm falls back to the
// first eligible tier: a misconfigured policy degrades, it does not
// fail.
func (m *Manager) SelectQueue(eligible []string, policy fairqueue.FairnessPolicy, now time.Time) (string, bool) {
	if len(eligible) == 0 {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tier := range eligible {
		m.ensureState(tier, now)
	}

	if tier, ok := m.selectStarved(eligible); ok {
		return tier, true
	}

	algo, ok := m.algorithms[policy.Algorithm]
	if !ok {
		return eligible[0], true
	}
	view := managerView{m}
	tier, ok := algo.Select(eligible, policy, view, m.rng)
	if !ok {
		return eligible[0], true
	}
	return tier, true
}

// selectStarved picks the longest-starved flagged tier, if any.
func (m *Manager) selectStarved(eligible []string) (string, bool) {
	var (
		pick   string
		oldest time.Time
		found  bool
	)
	for _, tier := range eligible {
		st := m.states[tier]
		if st == nil || !st.forced {
			continue
		}
		if !found || st.lastProcessedAt.Before(oldest) {
			pick = tier
			oldest = st.lastProcessedAt
			found = true
		}
	}
	return pick, found
}

// RecordProcessing updates the service bookkeeping after a tier's head
// item was handed to a consumer: the processing count increments, the
// last-serviced timestamp advances, any starvation flag clears, and the
// stride pass moves forward by strideScale/weight.
func (m *Manager) RecordProcessing(tier string, policy fairqueue.FairnessPolicy, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureState(tier, now)
	st.processingCount++
	st.lastProcessedAt = now
	st.forced = false
	st.pass += strideScale / policy.TierWeight(tier)
}

// ProcessingCount returns the number of times the tier was serviced.
func (m *Manager) ProcessingCount(tier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[tier]; ok {
		return st.processingCount
	}
	return 0
}

// LastProcessedAt returns when the tier was last serviced, and false if
// the tier is unknown.
func (m *Manager) LastProcessedAt(tier string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[tier]; ok {
		return st.lastProcessedAt, true
	}
	return time.Time{}, false
}

// Forget drops the bookkeeping for a tier whose queue was removed.
func (m *Manager) Forget(tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, tier)
}

// OverallScore reports how evenly service has been spread across tiers
// as 1 − variance(processingCounts)/(mean+1), clamped to [0, 1]. All
// tiers equal — including the all-zero case — scores 1. Observability
// only: the score never feeds selection.
func (m *Manager) OverallScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.states) == 0 {
		return 1
	}

	mean := 0.0
	for _, st := range m.states {
		mean += float64(st.processingCount)
	}
	mean /= float64(len(m.states))

	variance := 0.0
	for _, st := range m.states {
		d := float64(st.processingCount) - mean
		variance += d * d
	}
	variance /= float64(len(m.states))

	score := 1 - variance/(mean+1)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// RefreshScores recomputes each tier's fairness score: 1 minus the
// absolute gap between the tier's actual service share and the share
// its weight entitles it to, clamped to [0, 1].
func (m *Manager) RefreshScores(policy fairqueue.FairnessPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalCount := 0.0
	totalWeight := 0.0
	for tier, st := range m.states {
		totalCount += float64(st.processingCount)
		totalWeight += policy.TierWeight(tier)
	}
	for tier, st := range m.states {
		if totalCount == 0 || totalWeight == 0 {
			st.fairnessScore = 1
			continue
		}
		actual := float64(st.processingCount) / totalCount
		entitled := policy.TierWeight(tier) / totalWeight
		score := 1 - abs(actual-entitled)
		if score < 0 {
			score = 0
		}
		st.fairnessScore = score
	}
}

// States returns read-only copies of the per-tier bookkeeping, sorted
// by tier name.
func (m *Manager) States() []TierState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TierState, 0, len(m.states))
	for tier, st := range m.states {
		out = append(out, TierState{
			Tier:            tier,
			ProcessingCount: st.processingCount,
			LastProcessedAt: st.lastProcessedAt,
			FairnessScore:   st.fairnessScore,
			Starved:         st.forced,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// managerView exposes the locked state to algorithms without handing
// them the map. Only valid while the manager mutex is held.
type managerView struct{ m *Manager }

func (v managerView) ProcessingCount(tier string) int {
	if st, ok := v.m.states[tier]; ok {
		return st.processingCount
	}
	return 0
}

func (v managerView) Pass(tier string) float64 {
	if st, ok := v.m.states[tier]; ok {
		return st.pass
	}
	return 0
}
