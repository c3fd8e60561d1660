package fairqueue

import (
	"time"

	"github.com/xraph/fairqueue/id"
)

// ComplexityClass categorizes how expensive an item is to process.
// It feeds a fixed multiplier into the dynamic priority calculation.
type ComplexityClass string

const (
	// ComplexityLow is cheap, routine work (multiplier 1.0).
	ComplexityLow ComplexityClass = "low"
	// ComplexityMedium is moderately expensive work (multiplier 1.2).
	ComplexityMedium ComplexityClass = "medium"
	// ComplexityHigh is expensive work (multiplier 1.5).
	ComplexityHigh ComplexityClass = "high"
	// ComplexityCritical is work that must jump the line (multiplier 2.0).
	ComplexityCritical ComplexityClass = "critical"
)

// Multiplier returns the priority multiplier for the complexity class.
// Unknown classes default to 1.0.
func (c ComplexityClass) Multiplier() float64 {
	switch c {
	case ComplexityMedium:
		return 1.2
	case ComplexityHigh:
		return 1.5
	case ComplexityCritical:
		return 2.0
	default:
		return 1.0
	}
}

// Item is a unit of work resident in a tenant tier queue.
//
// EffectivePriority is computed once at enqueue time (see
// EffectivePriority) and afterwards mutated only by aging and the retry
// penalty. It never goes below zero.
type Item struct {
	ID      id.ItemID `json:"id"`
	Payload []byte    `json:"payload"`

	// Tier is the tenant class this item belongs to. It selects the
	// queue the item lives in and the fairness weight applied to it.
	Tier string `json:"tier"`

	BasePriority      float64 `json:"base_priority"`
	EffectivePriority float64 `json:"effective_priority"`

	// Deadline, when set, adds an urgency term that keeps growing as
	// the deadline is approached and then missed.
	Deadline *time.Time `json:"deadline,omitempty"`

	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`

	Cost                    float64         `json:"cost,omitempty"`
	Complexity              ComplexityClass `json:"complexity"`
	EstimatedProcessingTime time.Duration   `json:"estimated_processing_time,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Validate checks the fields a producer must supply. Items failing
// validation are rejected at enqueue and never stored.
func (it *Item) Validate() error {
	if it.ID.IsZero() {
		return ErrInvalidItem
	}
	if it.Tier == "" {
		return ErrInvalidItem
	}
	if it.MaxRetries < 0 {
		return ErrInvalidItem
	}
	return nil
}

// Terminal reports whether the item has exhausted its retry budget and
// must never re-enter a queue.
func (it *Item) Terminal() bool {
	return it.Retries >= it.MaxRetries
}

// ProcessingResult is returned to consumers for every Process call,
// regardless of internal retry bookkeeping.
type ProcessingResult struct {
	Success        bool          `json:"success"`
	Err            error         `json:"-"`
	ProcessingTime time.Duration `json:"processing_time"`
	ResourcesUsed  float64       `json:"resources_used,omitempty"`
}
