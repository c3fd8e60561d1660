package queue

import (
	"container/heap"
	"time"

	"github.com/xraph/fairqueue"
)

// entry wraps an item with the insertion sequence used for FIFO
// tie-breaking among equal priorities.
type entry struct {
	item *fairqueue.Item
	seq  uint64
}

// itemHeap implements heap.Interface ordered by effective priority
// descending. Ties go to the earliest enqueue time, then the lowest
// insertion sequence, which guarantees eventual progress for equal
// priority items.
type itemHeap []entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.item.EffectivePriority != b.item.EffectivePriority {
		return a.item.EffectivePriority > b.item.EffectivePriority
	}
	if !a.item.EnqueuedAt.Equal(b.item.EnqueuedAt) {
		return a.item.EnqueuedAt.Before(b.item.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// TierQueue is the priority queue for a single tenant tier. It is not
// safe for concurrent use on its own; the Store serializes access.
type TierQueue struct {
	tier  string
	items itemHeap
	seq   uint64

	// lastAged makes aging idempotent per tick: a repeated Age call
	// with the same now is a no-op.
	lastAged time.Time
}

// NewTierQueue creates an empty queue for the given tier.
func NewTierQueue(tier string) *TierQueue {
	return &TierQueue{tier: tier}
}

// Tier returns the tenant tier this queue serves.
func (q *TierQueue) Tier() string { return q.tier }

// Len returns the number of resident items.
func (q *TierQueue) Len() int { return len(q.items) }

// Push inserts an item maintaining priority order.
func (q *TierQueue) Push(it *fairqueue.Item) {
	q.seq++
	heap.Push(&q.items, entry{item: it, seq: q.seq})
}

// Pop removes and returns the highest-priority item, or nil if the
// queue is empty. It never blocks.
func (q *TierQueue) Pop() *fairqueue.Item {
	if len(q.items) == 0 {
		return nil
	}
	e := heap.Pop(&q.items).(entry)
	return e.item
}

// Peek returns the highest-priority item without removing it, or nil
// if the queue is empty.
func (q *TierQueue) Peek() *fairqueue.Item {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].item
}

// Age boosts the priority of every resident item that has waited
// longer than threshold, then restores heap order. The boost is
// agingFactor * (age/threshold), so items gain more the longer they
// wait. A single call applies at most one boost per item; priorities
// rise monotonically as now advances. Returns the number of items
// boosted.
func (q *TierQueue) Age(now time.Time, threshold time.Duration, agingFactor float64) int {
	if threshold <= 0 || agingFactor == 0 {
		return 0
	}
	if !now.After(q.lastAged) {
		return 0
	}
	q.lastAged = now

	boosted := 0
	for _, e := range q.items {
		age := now.Sub(e.item.EnqueuedAt)
		if age <= threshold {
			continue
		}
		e.item.EffectivePriority += agingFactor * (float64(age) / float64(threshold))
		boosted++
	}
	if boosted > 0 {
		heap.Init(&q.items)
	}
	return boosted
}
