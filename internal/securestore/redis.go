package securestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces portal-core entries away from anything else sharing the
// Redis instance.
const keyPrefix = "portalcore:store:"

// RedisBackend is a Redis-backed substrate for deployments where the session
// state must survive process restarts (kiosk/field-technician gateways).
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a new Redis-backed storage substrate.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Set(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis_store_set_failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis_store_get_failed: %w", err)
	}
	return raw, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis_store_delete_failed: %w", err)
	}
	return nil
}

// Clear removes every key in the portal-core namespace. Uses SCAN rather than
// KEYS so a shared Redis instance is not blocked.
func (r *RedisBackend) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis_store_clear_failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis_store_clear_failed: %w", err)
	}
	return nil
}
