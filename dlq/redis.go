package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
)

// Redis key naming. All keys carry the "fairqueue:" prefix to avoid
// collisions on shared instances.
const (
	redisKeyPrefix = "fairqueue:"

	// redisIndexKey is the Sorted Set of entry IDs scored by FailedAt
	// (unix nanoseconds), so listing and purging stay ordered.
	redisIndexKey = redisKeyPrefix + "dlq_index"
)

// redisEntryKey returns the key for one entry blob: fairqueue:dlq:{id}
func redisEntryKey(id string) string { return redisKeyPrefix + "dlq:" + id }

// redisEntry is the wire form of an Entry: IDs flattened to strings so
// the blob round-trips independently of the ID representation.
type redisEntry struct {
	ID         string    `msgpack:"id"`
	ItemID     string    `msgpack:"item_id"`
	Tier       string    `msgpack:"tier"`
	Payload    []byte    `msgpack:"payload"`
	Error      string    `msgpack:"error"`
	Retries    int       `msgpack:"retries"`
	MaxRetries int       `msgpack:"max_retries"`
	FailedAt   time.Time `msgpack:"failed_at"`
}

func toRedisEntry(e *Entry) *redisEntry {
	return &redisEntry{
		ID:         e.ID.String(),
		ItemID:     e.ItemID.String(),
		Tier:       e.Tier,
		Payload:    e.Payload,
		Error:      e.Error,
		Retries:    e.Retries,
		MaxRetries: e.MaxRetries,
		FailedAt:   e.FailedAt,
	}
}

func fromRedisEntry(re *redisEntry) (*Entry, error) {
	entryID, err := id.ParseDeadLetterID(re.ID)
	if err != nil {
		return nil, fmt.Errorf("fairqueue/dlq: entry id: %w", err)
	}
	itemID, err := id.ParseItemID(re.ItemID)
	if err != nil {
		return nil, fmt.Errorf("fairqueue/dlq: item id: %w", err)
	}
	return &Entry{
		ID:         entryID,
		ItemID:     itemID,
		Tier:       re.Tier,
		Payload:    re.Payload,
		Error:      re.Error,
		Retries:    re.Retries,
		MaxRetries: re.MaxRetries,
		FailedAt:   re.FailedAt,
	}, nil
}

// Redis is a Sink backed by a Redis instance. Entries are stored as
// MessagePack blobs with a Sorted Set index ordered by failure time,
// so dead letters survive scheduler restarts.
type Redis struct {
	client goredis.UniversalClient
}

var _ Sink = (*Redis)(nil)

// NewRedis creates a Redis-backed sink on an existing client. The
// caller owns the client's lifecycle.
func NewRedis(client goredis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Push adds a failed item entry to the sink.
func (r *Redis) Push(ctx context.Context, entry *Entry) error {
	blob, err := msgpack.Marshal(toRedisEntry(entry))
	if err != nil {
		return fmt.Errorf("fairqueue/dlq: encode entry: %w", err)
	}

	eID := entry.ID.String()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisEntryKey(eID), blob, 0)
	pipe.ZAdd(ctx, redisIndexKey, goredis.Z{
		Score:  float64(entry.FailedAt.UnixNano()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fairqueue/dlq: push entry: %w", err)
	}
	return nil
}

// List returns entries matching the given options, newest first.
func (r *Redis) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fairqueue/dlq: list entries: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := r.fetch(ctx, eID)
		if getErr != nil {
			// Index may briefly lead the blobs during a purge.
			continue
		}
		if opts.Tier != "" && e.Tier != opts.Tier {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset >= len(entries) {
		return nil, nil
	}
	entries = entries[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// Get retrieves an entry by ID.
func (r *Redis) Get(ctx context.Context, entryID id.DeadLetterID) (*Entry, error) {
	return r.fetch(ctx, entryID.String())
}

// Purge removes entries that failed before the given time.
func (r *Redis) Purge(ctx context.Context, before time.Time) (int64, error) {
	maxScore := fmt.Sprintf("(%d", before.UnixNano())
	ids, err := r.client.ZRangeByScore(ctx, redisIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("fairqueue/dlq: purge scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, redisEntryKey(eID))
		pipe.ZRem(ctx, redisIndexKey, eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("fairqueue/dlq: purge: %w", err)
	}
	return int64(len(ids)), nil
}

// Count returns the total number of entries in the sink.
func (r *Redis) Count(ctx context.Context) (int64, error) {
	n, err := r.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("fairqueue/dlq: count: %w", err)
	}
	return n, nil
}

func (r *Redis) fetch(ctx context.Context, eID string) (*Entry, error) {
	blob, err := r.client.Get(ctx, redisEntryKey(eID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fairqueue.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fairqueue/dlq: get entry: %w", err)
	}
	var re redisEntry
	if err := msgpack.Unmarshal(blob, &re); err != nil {
		return nil, fmt.Errorf("fairqueue/dlq: decode entry: %w", err)
	}
	return fromRedisEntry(&re)
}
