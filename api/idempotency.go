package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores idempotency keys of created requests in Redis so all
// instances reject the same submission twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(actorID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", actorID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, actorID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(actorID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry after a
// failed submission.
func (r *RedisDeduper) Remove(ctx context.Context, actorID, key string) error {
	return r.client.Del(ctx, r.key(actorID, key)).Err()
}
