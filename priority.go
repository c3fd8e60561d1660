package fairqueue

import "time"

// urgencyHorizonSeconds is the deadline window, in seconds, inside
// which the urgency term starts contributing. An item whose deadline is
// further away than this gains nothing; an item past its deadline keeps
// gaining urgency without a cap.
const urgencyHorizonSeconds = 100

// retryPenalty is the flat priority cost per failed attempt.
const retryPenalty = 10

// EffectivePriority computes an item's effective priority at enqueue
// time. The terms are applied in a fixed order:
//
//  1. start from BasePriority
//  2. add deadline urgency: max(0, 100 − secondsUntilDeadline)
//  3. multiply by the tier weight from the policy
//  4. multiply by the complexity class multiplier
//  5. subtract 10 per prior retry
//  6. clamp at zero
//
// The result is the only enqueue-time priority; afterwards only aging,
// the fairness starvation boost, and the retry penalty mutate it.
func EffectivePriority(it *Item, policy FairnessPolicy, now time.Time) float64 {
	p := it.BasePriority

	if it.Deadline != nil {
		until := it.Deadline.Sub(now).Seconds()
		if urgency := urgencyHorizonSeconds - until; urgency > 0 {
			p += urgency
		}
	}

	p *= policy.TierWeight(it.Tier)
	p *= it.Complexity.Multiplier()
	p -= float64(it.Retries) * retryPenalty

	if p < 0 {
		p = 0
	}
	return p
}
