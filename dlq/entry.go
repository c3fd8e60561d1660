package dlq

import (
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
)

// Entry represents an item that has exhausted its retry budget and
// been moved to the dead-letter sink for inspection.
type Entry struct {
	ID         id.DeadLetterID `json:"id"`
	ItemID     id.ItemID       `json:"item_id"`
	Tier       string          `json:"tier"`
	Payload    []byte          `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	FailedAt   time.Time       `json:"failed_at"`
}

// NewEntry builds an Entry from a terminally failed item.
func NewEntry(it *fairqueue.Item, itemErr error) *Entry {
	e := &Entry{
		ID:         id.NewDeadLetterID(),
		ItemID:     it.ID,
		Tier:       it.Tier,
		Payload:    it.Payload,
		Retries:    it.Retries,
		MaxRetries: it.MaxRetries,
		FailedAt:   time.Now().UTC(),
	}
	if itemErr != nil {
		e.Error = itemErr.Error()
	}
	return e
}

// ListOpts controls pagination and filtering for sink list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Tier filters by tier. Empty means all tiers.
	Tier string
}
