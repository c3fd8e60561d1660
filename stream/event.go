// Package stream provides a real-time event broker for fairqueue
// lifecycle events. It bridges the ext.Extension system to in-process
// consumers via topic-based pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Item events.
	EventItemEnqueued  EventType = "item.enqueued"
	EventItemDequeued  EventType = "item.dequeued"
	EventItemProcessed EventType = "item.processed"
	EventItemRetried   EventType = "item.retried"
	EventItemFailed    EventType = "item.failed"

	// Policy events.
	EventPolicyUpdated EventType = "policy.updated"

	// Burst window events.
	EventBurstActivated EventType = "burst.activated"
	EventBurstCompleted EventType = "burst.completed"

	// Starvation events.
	EventStarvationDetected EventType = "starvation.detected"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on, if any.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// ItemEventData is the payload for item lifecycle events.
type ItemEventData struct {
	ItemID            string  `json:"item_id"`
	Tier              string  `json:"tier"`
	EffectivePriority float64 `json:"effective_priority"`
	WaitedMs          int64   `json:"waited_ms,omitempty"`
	ElapsedMs         int64   `json:"elapsed_ms,omitempty"`
	Attempt           int     `json:"attempt,omitempty"`
	DelayMs           int64   `json:"delay_ms,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// PolicyEventData is the payload for policy update events.
type PolicyEventData struct {
	Algorithm   string             `json:"algorithm"`
	TierWeights map[string]float64 `json:"tier_weights"`
}

// BurstEventData is the payload for burst window events.
type BurstEventData struct {
	ExpectedLoad float64 `json:"expected_load,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
}

// StarvationEventData is the payload for starvation events.
type StarvationEventData struct {
	Tiers []string `json:"tiers"`
}
