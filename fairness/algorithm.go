package fairness

import (
	"math/rand/v2"

	"github.com/xraph/fairqueue"
)

// strideScale is the numerator for stride computation: a tier's pass
// counter advances by strideScale/weight on every service.
const strideScale = 10000

// StateView gives algorithms read access to the per-tier bookkeeping
// during a selection. Implementations are only valid for the duration
// of the Select call.
type StateView interface {
	// ProcessingCount returns how many times the tier was serviced.
	ProcessingCount(tier string) int
	// Pass returns the tier's stride virtual-time counter.
	Pass(tier string) float64
}

// Algorithm is a queue-selection strategy. Select returns the chosen
// tier among the eligible ones, or false if it could not decide (the
// manager then falls back to the first eligible tier).
//
// Eligible is never empty and is deterministically ordered; algorithms
// must not mutate it.
type Algorithm interface {
	Name() fairqueue.AlgorithmType
	Select(eligible []string, policy fairqueue.FairnessPolicy, view StateView, rng *rand.Rand) (string, bool)
}

// builtinAlgorithms returns the strategies registered by default.
// Stride and proportional-share share one implementation: both are
// virtual-time proportional-share schedulers, registered under each
// policy name they answer to.
func builtinAlgorithms() []Algorithm {
	return []Algorithm{
		weightedFair{},
		lottery{},
		stride{name: fairqueue.AlgorithmStride},
		stride{name: fairqueue.AlgorithmProportionalShare},
	}
}

// ──────────────────────────────────────────────────
// Weighted fair
// ──────────────────────────────────────────────────

// weightedFair scores each eligible tier by weight/(serviced+1) and
// picks the argmax, so tiers serviced less than their entitlement win.
// Deterministic: ties resolve to the first tier in eligible order.
type weightedFair struct{}

func (weightedFair) Name() fairqueue.AlgorithmType { return fairqueue.AlgorithmWeightedFair }

func (weightedFair) Select(eligible []string, policy fairqueue.FairnessPolicy, view StateView, _ *rand.Rand) (string, bool) {
	var (
		best      string
		bestScore float64
		found     bool
	)
	for _, tier := range eligible {
		score := policy.TierWeight(tier) / float64(view.ProcessingCount(tier)+1)
		if !found || score > bestScore {
			best = tier
			bestScore = score
			found = true
		}
	}
	return best, found
}

// ──────────────────────────────────────────────────
// Lottery
// ──────────────────────────────────────────────────

// lottery holds a weighted random draw: each tier gets tickets equal to
// its weight and a uniform draw over the cumulative total picks the
// winner. Long-run service share converges to the weight ratio.
type lottery struct{}

func (lottery) Name() fairqueue.AlgorithmType { return fairqueue.AlgorithmLottery }

func (lottery) Select(eligible []string, policy fairqueue.FairnessPolicy, _ StateView, rng *rand.Rand) (string, bool) {
	total := 0.0
	for _, tier := range eligible {
		total += policy.TierWeight(tier)
	}
	if total <= 0 {
		return "", false
	}

	draw := rng.Float64() * total
	cumulative := 0.0
	for _, tier := range eligible {
		cumulative += policy.TierWeight(tier)
		if draw < cumulative {
			return tier, true
		}
	}
	// Floating-point edge: draw landed exactly on the total.
	return eligible[len(eligible)-1], true
}

// ──────────────────────────────────────────────────
// Stride / proportional share
// ──────────────────────────────────────────────────

// stride picks the eligible tier with the minimum virtual-time pass
// counter. Passes advance by strideScale/weight on service (see
// Manager.RecordProcessing), so over any interval a tier's service
// count stays within one of its weight-proportional share.
type stride struct {
	name fairqueue.AlgorithmType
}

func (s stride) Name() fairqueue.AlgorithmType { return s.name }

func (stride) Select(eligible []string, policy fairqueue.FairnessPolicy, view StateView, _ *rand.Rand) (string, bool) {
	var (
		best     string
		bestPass float64
		found    bool
	)
	for _, tier := range eligible {
		pass := view.Pass(tier)
		switch {
		case !found, pass < bestPass:
			best = tier
			bestPass = pass
			found = true
		case pass == bestPass:
			// Tie: the heavier tier goes first.
			if policy.TierWeight(tier) > policy.TierWeight(best) {
				best = tier
			}
		}
	}
	return best, found
}
