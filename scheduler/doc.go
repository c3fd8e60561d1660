// Package scheduler wires all fairqueue subsystems together: per-tier
// priority queues, fairness selection, capacity gating, retry backoff,
// adaptive tuning, dead-lettering, and background maintenance.
//
// This package exists to break the import cycle: the root fairqueue
// package defines Item and FairnessPolicy (imported by queue, fairness,
// adaptive, etc.) and so cannot import those packages back. The
// scheduler package sits above all subsystem packages and below the
// application layer.
//
// An item moves through the scheduler as
//
//	Enqueued → (Aging)* → Selected → Processing →
//	    {Completed | Retrying → Enqueued | DeadLettered}
//
// Enqueue and Dequeue never block; Process runs the caller's function
// through the middleware chain with no queue lock held.
package scheduler
