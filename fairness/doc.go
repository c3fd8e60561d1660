// Package fairness implements macro-level queue selection: given the
// set of non-empty tenant tier queues, it decides which tier is
// serviced next and keeps the per-tier service bookkeeping.
//
// Selection algorithms are tagged strategy values implementing
// [Algorithm], registered per [fairqueue.AlgorithmType]:
//
//   - weighted-fair: argmax of weight/(serviced+1)
//   - lottery: weighted random draw over an injected rand source
//   - stride, proportional-share: virtual-time stride scheduling
//
// The stride implementation is a deliberate strengthening over plain
// weighted-fair aliasing: each tier advances a pass counter by a stride
// inversely proportional to its weight and the minimum-pass tier always
// wins, which bounds the service-share error of any tier to a constant
// regardless of history length.
//
// Starvation prevention is layered on top of all algorithms: the
// periodic sweep flags tiers that have gone unserviced past the policy
// bound, and flagged tiers win selection before the algorithm runs.
package fairness
