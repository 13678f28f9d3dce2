package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates inbound messages with redis markers. Event delivery is
// at-least-once, so every consumer checks Seen before acting and calls
// MarkSeen only after the message was fully handled; a key is never set for
// work that still has to be redelivered.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key builds a dedup key from a consumer position.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// EventKey builds a dedup key from a producer-assigned event id. Preferred
// when the payload carries one, since it survives partition reassignment.
func (s *Store) EventKey(eventID string) string {
	return fmt.Sprintf("idem:event:%s", eventID)
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records the key once handling succeeded. Partition ordering keeps
// the check-then-mark window safe within a consumer group.
func (s *Store) MarkSeen(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
