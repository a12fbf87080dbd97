package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/message"
)

// KeyPrefix is the Redis key prefix for conversation sorted sets.
const KeyPrefix = "history:"

// RedisStore keeps one sorted set per conversation, scored by message
// timestamp in milliseconds, trimmed to a fixed length and expired after a
// period of inactivity.
type RedisStore struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

// NewRedisStore creates a store on client. Zero values select
// DefaultCapacity and DefaultTTL.
func NewRedisStore(client *redis.Client, capacity int, ttl time.Duration) *RedisStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, capacity: capacity, ttl: ttl}
}

// Append adds e, trims the set to capacity and refreshes the TTL in one
// pipeline. Re-appending the same entry is a no-op because the member
// encoding is identical.
func (s *RedisStore) Append(ctx context.Context, key message.ConversationKey, e Entry) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	k := KeyPrefix + key.String()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: member})
	pipe.ZRemRangeByRank(ctx, k, 0, int64(-s.capacity-1))
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Around implements Source.
func (s *RedisStore) Around(ctx context.Context, key message.ConversationKey, messageID string, before, after int) ([]Entry, error) {
	raw, err := s.client.ZRange(ctx, KeyPrefix+key.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: range: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, m := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("history: decode: %w", err)
		}
		entries = append(entries, e)
	}
	return window(entries, messageID, before, after)
}
