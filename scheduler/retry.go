package scheduler

import (
	"sync"
	"time"

	"github.com/xraph/fairqueue"
)

// retryQueue is the holding area for failed items awaiting backoff.
// Items park here with a due time and re-enter their tier queue when
// the retry-drain task finds them due. Parking instead of re-enqueueing
// inline keeps failure handling iterative and makes the backoff delay
// real rather than a priority fiction.
type retryQueue struct {
	mu      sync.Mutex
	pending []retryEntry
}

type retryEntry struct {
	item  *fairqueue.Item
	dueAt time.Time
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

func (r *retryQueue) add(it *fairqueue.Item, dueAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, retryEntry{item: it, dueAt: dueAt})
}

// due removes and returns every item whose backoff has elapsed.
func (r *retryQueue) due(now time.Time) []*fairqueue.Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*fairqueue.Item
	rest := r.pending[:0]
	for _, e := range r.pending {
		if e.dueAt.After(now) {
			rest = append(rest, e)
			continue
		}
		ready = append(ready, e.item)
	}
	r.pending = rest
	return ready
}

func (r *retryQueue) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
