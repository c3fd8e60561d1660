package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/fairqueue"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type itemEnqueuedEntry struct {
	name string
	hook ItemEnqueued
}

type itemDequeuedEntry struct {
	name string
	hook ItemDequeued
}

type itemProcessedEntry struct {
	name string
	hook ItemProcessed
}

type itemRetriedEntry struct {
	name string
	hook ItemRetried
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type policyUpdatedEntry struct {
	name string
	hook PolicyUpdated
}

type burstActivatedEntry struct {
	name string
	hook BurstActivated
}

type burstCompletedEntry struct {
	name string
	hook BurstCompleted
}

type starvationDetectedEntry struct {
	name string
	hook StarvationDetected
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	itemEnqueued       []itemEnqueuedEntry
	itemDequeued       []itemDequeuedEntry
	itemProcessed      []itemProcessedEntry
	itemRetried        []itemRetriedEntry
	itemFailed         []itemFailedEntry
	policyUpdated      []policyUpdatedEntry
	burstActivated     []burstActivatedEntry
	burstCompleted     []burstCompletedEntry
	starvationDetected []starvationDetectedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ItemEnqueued); ok {
		r.itemEnqueued = append(r.itemEnqueued, itemEnqueuedEntry{name, h})
	}
	if h, ok := e.(ItemDequeued); ok {
		r.itemDequeued = append(r.itemDequeued, itemDequeuedEntry{name, h})
	}
	if h, ok := e.(ItemProcessed); ok {
		r.itemProcessed = append(r.itemProcessed, itemProcessedEntry{name, h})
	}
	if h, ok := e.(ItemRetried); ok {
		r.itemRetried = append(r.itemRetried, itemRetriedEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(PolicyUpdated); ok {
		r.policyUpdated = append(r.policyUpdated, policyUpdatedEntry{name, h})
	}
	if h, ok := e.(BurstActivated); ok {
		r.burstActivated = append(r.burstActivated, burstActivatedEntry{name, h})
	}
	if h, ok := e.(BurstCompleted); ok {
		r.burstCompleted = append(r.burstCompleted, burstCompletedEntry{name, h})
	}
	if h, ok := e.(StarvationDetected); ok {
		r.starvationDetected = append(r.starvationDetected, starvationDetectedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Item event emitters
// ──────────────────────────────────────────────────

// EmitItemEnqueued notifies all extensions that implement ItemEnqueued.
func (r *Registry) EmitItemEnqueued(ctx context.Context, it *fairqueue.Item) {
	for _, e := range r.itemEnqueued {
		if err := e.hook.OnItemEnqueued(ctx, it); err != nil {
			r.logHookError("OnItemEnqueued", e.name, err)
		}
	}
}

// EmitItemDequeued notifies all extensions that implement ItemDequeued.
func (r *Registry) EmitItemDequeued(ctx context.Context, it *fairqueue.Item, waited time.Duration) {
	for _, e := range r.itemDequeued {
		if err := e.hook.OnItemDequeued(ctx, it, waited); err != nil {
			r.logHookError("OnItemDequeued", e.name, err)
		}
	}
}

// EmitItemProcessed notifies all extensions that implement ItemProcessed.
func (r *Registry) EmitItemProcessed(ctx context.Context, it *fairqueue.Item, elapsed time.Duration) {
	for _, e := range r.itemProcessed {
		if err := e.hook.OnItemProcessed(ctx, it, elapsed); err != nil {
			r.logHookError("OnItemProcessed", e.name, err)
		}
	}
}

// EmitItemRetried notifies all extensions that implement ItemRetried.
func (r *Registry) EmitItemRetried(ctx context.Context, it *fairqueue.Item, attempt int, delay time.Duration) {
	for _, e := range r.itemRetried {
		if err := e.hook.OnItemRetried(ctx, it, attempt, delay); err != nil {
			r.logHookError("OnItemRetried", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, it *fairqueue.Item, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, it, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Policy and burst event emitters
// ──────────────────────────────────────────────────

// EmitPolicyUpdated notifies all extensions that implement PolicyUpdated.
func (r *Registry) EmitPolicyUpdated(ctx context.Context, old, updated fairqueue.FairnessPolicy) {
	for _, e := range r.policyUpdated {
		if err := e.hook.OnPolicyUpdated(ctx, old, updated); err != nil {
			r.logHookError("OnPolicyUpdated", e.name, err)
		}
	}
}

// EmitBurstActivated notifies all extensions that implement BurstActivated.
func (r *Registry) EmitBurstActivated(ctx context.Context, expectedLoad float64, duration time.Duration) {
	for _, e := range r.burstActivated {
		if err := e.hook.OnBurstActivated(ctx, expectedLoad, duration); err != nil {
			r.logHookError("OnBurstActivated", e.name, err)
		}
	}
}

// EmitBurstCompleted notifies all extensions that implement BurstCompleted.
func (r *Registry) EmitBurstCompleted(ctx context.Context) {
	for _, e := range r.burstCompleted {
		if err := e.hook.OnBurstCompleted(ctx); err != nil {
			r.logHookError("OnBurstCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitStarvationDetected notifies all extensions that implement
// StarvationDetected.
func (r *Registry) EmitStarvationDetected(ctx context.Context, tiers []string) {
	for _, e := range r.starvationDetected {
		if err := e.hook.OnStarvationDetected(ctx, tiers); err != nil {
			r.logHookError("OnStarvationDetected", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
