// Package queue implements the queue store: one priority queue per
// tenant tier, ordered by effective priority with FIFO tie-breaking.
//
// A [TierQueue] is a binary heap keyed on (EffectivePriority desc,
// EnqueuedAt asc, insertion sequence asc), giving O(log n) push/pop and
// a deterministic head. The [Store] owns the tier → queue map, creates
// queues lazily, and exposes a consistent [Snapshot] for cross-queue
// decisions so callers never nest per-queue locks.
//
// Aging is a queue-store concern: [Store.Age] boosts the priority of
// items that have waited longer than a threshold and restores heap
// order afterwards. Aging never removes items.
package queue
