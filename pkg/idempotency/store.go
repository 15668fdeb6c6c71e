package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a redis-backed first-writer-wins dedup cache. Keys live for
// a bounded TTL so the cache cannot grow without limit.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// MessageKey identifies a consumed kafka message.
func (s *Store) MessageKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:msg:%s:%d:%d", topic, partition, offset)
}

// NotificationKey identifies a payment-provider notification. Providers
// may redeliver the same notification id any number of times.
func (s *Store) NotificationKey(provider, notificationID string) string {
	return fmt.Sprintf("idem:notif:%s:%s", provider, notificationID)
}

// Seen records the key and reports whether it had been recorded before.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases a key claimed by Seen. Callers use it when the work
// behind the key failed and a redelivery must be allowed through.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
