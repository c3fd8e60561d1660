package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/xraph/fairqueue"
)

// TierInfo is the per-tier slice of a Snapshot.
type TierInfo struct {
	Tier         string
	Len          int
	HeadPriority float64
}

// Snapshot is a consistent point-in-time view of all tier queues,
// sorted by tier name for deterministic iteration. Selection algorithms
// operate on snapshots so they never hold per-queue locks.
type Snapshot []TierInfo

// NonEmpty returns the tiers with at least one resident item, in
// snapshot order.
func (s Snapshot) NonEmpty() []string {
	tiers := make([]string, 0, len(s))
	for _, ti := range s {
		if ti.Len > 0 {
			tiers = append(tiers, ti.Tier)
		}
	}
	return tiers
}

// Store owns the tier → queue map. Queues are created lazily on first
// push. All mutations happen under one mutex, so cross-queue operations
// read a consistent state.
type Store struct {
	mu     sync.Mutex
	queues map[string]*TierQueue
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{queues: make(map[string]*TierQueue)}
}

// Push inserts the item into its tier queue, creating the queue if the
// tier has not been seen before.
func (s *Store) Push(it *fairqueue.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[it.Tier]
	if !ok {
		q = NewTierQueue(it.Tier)
		s.queues[it.Tier] = q
	}
	q.Push(it)
}

// Pop removes and returns the highest-priority item of the given tier,
// or nil if the tier queue is empty or absent. It never blocks.
func (s *Store) Pop(tier string) *fairqueue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[tier]
	if !ok {
		return nil
	}
	return q.Pop()
}

// Peek returns the head of the given tier queue without removing it.
func (s *Store) Peek(tier string) *fairqueue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[tier]
	if !ok {
		return nil
	}
	return q.Peek()
}

// Len returns the number of resident items in the given tier queue.
func (s *Store) Len(tier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[tier]
	if !ok {
		return 0
	}
	return q.Len()
}

// TotalLen returns the number of resident items across all tiers.
func (s *Store) TotalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, q := range s.queues {
		total += q.Len()
	}
	return total
}

// Tiers returns all known tier names, sorted.
func (s *Store) Tiers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tiers := make([]string, 0, len(s.queues))
	for tier := range s.queues {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	return tiers
}

// Snapshot returns a consistent view of all tier queues.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(Snapshot, 0, len(s.queues))
	for tier, q := range s.queues {
		ti := TierInfo{Tier: tier, Len: q.Len()}
		if head := q.Peek(); head != nil {
			ti.HeadPriority = head.EffectivePriority
		}
		snap = append(snap, ti)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Tier < snap[j].Tier })
	return snap
}

// Age runs an aging pass over every tier queue. Returns the total
// number of items boosted.
func (s *Store) Age(now time.Time, threshold time.Duration, agingFactor float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	boosted := 0
	for _, q := range s.queues {
		boosted += q.Age(now, threshold, agingFactor)
	}
	return boosted
}

// DropEmpty removes empty tier queues, keeping the listed tiers alive
// regardless. Returns the names of the dropped tiers.
func (s *Store) DropEmpty(keep ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(map[string]bool, len(keep))
	for _, tier := range keep {
		kept[tier] = true
	}

	var dropped []string
	for tier, q := range s.queues {
		if q.Len() == 0 && !kept[tier] {
			delete(s.queues, tier)
			dropped = append(dropped, tier)
		}
	}
	sort.Strings(dropped)
	return dropped
}
