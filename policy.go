package fairqueue

import "time"

// AlgorithmType selects the macro-level strategy deciding which tier
// queue is serviced next. Per-item ordering within a queue is always by
// effective priority and is independent of the algorithm.
type AlgorithmType string

const (
	// AlgorithmWeightedFair scores each tier by weight/(serviced+1) and
	// picks the argmax: tiers serviced less than their entitlement win.
	AlgorithmWeightedFair AlgorithmType = "weighted-fair"
	// AlgorithmLottery holds a weighted random draw with ticket counts
	// equal to tier weights. Long-run service share converges to the
	// weight ratio.
	AlgorithmLottery AlgorithmType = "lottery"
	// AlgorithmStride runs virtual-time stride scheduling: each tier
	// advances a pass counter by a stride inversely proportional to its
	// weight, and the minimum-pass tier is always picked.
	AlgorithmStride AlgorithmType = "stride"
	// AlgorithmProportionalShare is proportional-share scheduling,
	// realized with the same virtual-time mechanism as AlgorithmStride.
	AlgorithmProportionalShare AlgorithmType = "proportional-share"
)

// FairnessPolicy configures queue selection, starvation bounds, aging,
// and burst capacity.
//
// The scheduler owns the live policy as an immutable snapshot: updates
// build a new value which is published atomically, so components never
// observe a partially merged policy. Treat every FairnessPolicy you
// receive as read-only.
type FairnessPolicy struct {
	Algorithm AlgorithmType `json:"algorithm"`

	// TierWeights maps tier names to positive fairness weights.
	// Tiers absent from the map have weight 1.
	TierWeights map[string]float64 `json:"tier_weights"`

	// MaxStarvationTime bounds how long a non-empty tier queue may go
	// unserviced before it is boosted and force-included in selection.
	MaxStarvationTime time.Duration `json:"max_starvation_time"`

	// AgingFactor scales the priority boost applied to items that have
	// waited longer than the aging threshold.
	AgingFactor float64 `json:"aging_factor"`

	// BurstAllowance is the capacity granted to absorb traffic spikes.
	// Raised temporarily by burst handling and restored afterwards.
	BurstAllowance float64 `json:"burst_allowance"`
}

// DefaultPolicy returns a FairnessPolicy with sensible defaults:
// weighted-fair selection, a 30s starvation bound, and mild aging.
func DefaultPolicy() FairnessPolicy {
	return FairnessPolicy{
		Algorithm:         AlgorithmWeightedFair,
		TierWeights:       map[string]float64{},
		MaxStarvationTime: 30 * time.Second,
		AgingFactor:       1.0,
		BurstAllowance:    100,
	}
}

// TierWeight returns the weight for a tier, defaulting to 1 for tiers
// not present in the map.
func (p FairnessPolicy) TierWeight(tier string) float64 {
	if w, ok := p.TierWeights[tier]; ok {
		return w
	}
	return 1
}

// Validate rejects policies that would corrupt scheduling:
// non-positive tier weights, a non-positive starvation bound, or a
// negative aging factor.
func (p FairnessPolicy) Validate() error {
	for _, w := range p.TierWeights {
		if w <= 0 {
			return ErrInvalidPolicy
		}
	}
	if p.MaxStarvationTime <= 0 {
		return ErrInvalidPolicy
	}
	if p.AgingFactor < 0 {
		return ErrInvalidPolicy
	}
	if p.BurstAllowance < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// PolicyUpdate is a partial policy change. Nil fields keep the current
// value; TierWeights entries are merged key by key.
type PolicyUpdate struct {
	Algorithm         *AlgorithmType     `json:"algorithm,omitempty"`
	TierWeights       map[string]float64 `json:"tier_weights,omitempty"`
	MaxStarvationTime *time.Duration     `json:"max_starvation_time,omitempty"`
	AgingFactor       *float64           `json:"aging_factor,omitempty"`
	BurstAllowance    *float64           `json:"burst_allowance,omitempty"`
}

// Merge applies the update to a copy of p and returns the new snapshot.
// The receiver is not modified.
func (p FairnessPolicy) Merge(u PolicyUpdate) FairnessPolicy {
	next := p
	next.TierWeights = make(map[string]float64, len(p.TierWeights)+len(u.TierWeights))
	for k, v := range p.TierWeights {
		next.TierWeights[k] = v
	}
	for k, v := range u.TierWeights {
		next.TierWeights[k] = v
	}
	if u.Algorithm != nil {
		next.Algorithm = *u.Algorithm
	}
	if u.MaxStarvationTime != nil {
		next.MaxStarvationTime = *u.MaxStarvationTime
	}
	if u.AgingFactor != nil {
		next.AgingFactor = *u.AgingFactor
	}
	if u.BurstAllowance != nil {
		next.BurstAllowance = *u.BurstAllowance
	}
	return next
}
