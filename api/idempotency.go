package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisDeduper stores idempotency keys in Redis so every instance returns the
// same task for a repeated create.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return "todo-idem:" + key
}

// Claim records the key as pending. It returns true when the key was newly added.
func (r *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), pendingMarker, r.ttl).Result()
}

// Resolve binds the key to the created task id.
func (r *RedisDeduper) Resolve(ctx context.Context, key string, id int64) error {
	return r.client.Set(ctx, r.key(key), strconv.FormatInt(id, 10), r.ttl).Err()
}

// Lookup returns the id bound to key. ok is false for unknown or pending keys.
func (r *RedisDeduper) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if val == pendingMarker {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Release deletes a claimed key. It is used when creation fails so the
// caller may retry with the same key.
func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
