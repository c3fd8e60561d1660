// Package ext defines the extension system for fairqueue.
// Extensions are notified of lifecycle events (item enqueued,
// processed, failed, policy updated, etc.) and can react to them —
// logging, metrics, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/fairqueue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Item lifecycle hooks
// ──────────────────────────────────────────────────

// ItemEnqueued is called after an item is successfully enqueued.
type ItemEnqueued interface {
	OnItemEnqueued(ctx context.Context, it *fairqueue.Item) error
}

// ItemDequeued is called when the scheduler selects an item for
// processing.
type ItemDequeued interface {
	OnItemDequeued(ctx context.Context, it *fairqueue.Item, waited time.Duration) error
}

// ItemProcessed is called after an item finishes successfully.
type ItemProcessed interface {
	OnItemProcessed(ctx context.Context, it *fairqueue.Item, elapsed time.Duration) error
}

// ItemRetried is called when an item fails but is re-enqueued for
// another attempt.
type ItemRetried interface {
	OnItemRetried(ctx context.Context, it *fairqueue.Item, attempt int, delay time.Duration) error
}

// ItemFailed is called exactly once when an item fails terminally (no
// more retries) and is handed to the dead-letter sink.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, it *fairqueue.Item, err error) error
}

// ──────────────────────────────────────────────────
// Policy and burst hooks
// ──────────────────────────────────────────────────

// PolicyUpdated is called after a policy reconfiguration takes effect.
type PolicyUpdated interface {
	OnPolicyUpdated(ctx context.Context, old, updated fairqueue.FairnessPolicy) error
}

// BurstActivated is called when a burst capacity window opens or is
// extended.
type BurstActivated interface {
	OnBurstActivated(ctx context.Context, expectedLoad float64, duration time.Duration) error
}

// BurstCompleted is called when a burst capacity window expires and
// normal capacity is restored.
type BurstCompleted interface {
	OnBurstCompleted(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// StarvationDetected is called when the sweep flags tiers as starved.
type StarvationDetected interface {
	OnStarvationDetected(ctx context.Context, tiers []string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
