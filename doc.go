// Package fairqueue provides a multi-tenant queue prioritization system
// with pluggable fairness algorithms. It computes per-item dynamic
// priority, selects which tenant queue to service next under
// weighted-fair, lottery, or stride scheduling, prevents starvation,
// learns from processing outcomes, and absorbs traffic bursts.
//
// Fairqueue is designed as a library, not a service. Construct a
// scheduler, enqueue items, and drive consumption from your own workers:
//
//	s, err := scheduler.New(
//	    scheduler.WithPolicy(policy),
//	    scheduler.WithLogger(logger),
//	)
//
// # Architecture
//
// Each concern lives in its own subpackage: queue (per-tier priority
// heaps), fairness (selection algorithms and starvation prevention),
// metrics (per-tier statistics), adaptive (outcome analysis and burst
// handling), capacity (tier throttling), dlq (dead-letter sinks), ext
// (lifecycle hooks), and scheduler (the coordinator wiring them
// together). Optional layers sit on top: worker (a consumer pool
// draining a scheduler) and stream (a topic-based broker fanning
// lifecycle events to subscribers).
//
// This root package holds the shared vocabulary: Item, FairnessPolicy,
// ProcessingResult, and the dynamic priority calculation.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package fairqueue
