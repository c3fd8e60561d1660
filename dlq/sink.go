package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
)

// Sink is the destination for terminally failed items. The scheduler
// calls Push exactly once per terminal failure.
type Sink interface {
	// Push adds a failed item entry to the sink.
	Push(ctx context.Context, entry *Entry) error

	// List returns entries matching the given options, newest first.
	List(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// Get retrieves an entry by ID.
	Get(ctx context.Context, entryID id.DeadLetterID) (*Entry, error)

	// Purge removes entries with FailedAt before the given time and
	// returns the number removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Count returns the total number of entries in the sink.
	Count(ctx context.Context) (int64, error)
}

// Discard is a Sink that drops every entry. Useful when terminal
// failures are reported solely through hooks.
type Discard struct{}

var _ Sink = (*Discard)(nil)

func (Discard) Push(context.Context, *Entry) error                 { return nil }
func (Discard) List(context.Context, ListOpts) ([]*Entry, error)   { return nil, nil }
func (Discard) Get(context.Context, id.DeadLetterID) (*Entry, error) {
	return nil, fairqueue.ErrDeadLetterNotFound
}
func (Discard) Purge(context.Context, time.Time) (int64, error) { return 0, nil }
func (Discard) Count(context.Context) (int64, error)            { return 0, nil }

// Memory is an in-process Sink. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []*Entry
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Push adds a failed item entry to the sink.
func (m *Memory) Push(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// List returns entries matching the given options, newest first.
func (m *Memory) List(_ context.Context, opts ListOpts) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if opts.Tier != "" && e.Tier != opts.Tier {
			continue
		}
		out = append(out, e)
	}

	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Get retrieves an entry by ID.
func (m *Memory) Get(_ context.Context, entryID id.DeadLetterID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, fairqueue.ErrDeadLetterNotFound
}

// Purge removes entries that failed before the given time.
func (m *Memory) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.FailedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// Count returns the total number of entries in the sink.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}
