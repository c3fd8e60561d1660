// Package dlq provides the dead-letter sink for items that have
// exhausted their retry budget. It supports inspection and purging.
//
// When processing fails and the item's retry budget is spent, the
// scheduler calls [Sink.Push] exactly once to move it out of its
// queue. The original payload, final error, and retry counts are
// preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - ItemID / Tier: original item identity
//   - Payload: the raw payload at time of failure
//   - Error: the final error message
//   - Retries / MaxRetries: exhausted retry budget
//   - FailedAt: when the terminal failure occurred
//
// # Sinks
//
// [Discard] drops entries and is the default. [Memory] keeps entries
// in process. [Redis] persists entries to a Redis instance as
// MessagePack blobs, surviving scheduler restarts:
//
//	sink := dlq.NewRedis(goredis.NewClient(&goredis.Options{Addr: addr}))
//	sched, err := scheduler.New(scheduler.WithDeadLetterSink(sink))
package dlq
