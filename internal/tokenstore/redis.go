package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client used by RedisStore.
// *redis.Client, *redis.ClusterClient and failover clients all satisfy it.
type RedisClient interface {
	// GET key
	Get(ctx context.Context, key string) *redis.StringCmd
	// SET key value
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	// DEL key [key ...]
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the token set in a Redis key, so several hosts can share one session.
type RedisStore struct {
	rdb RedisClient
	key string
}

// Compile-time check to ensure RedisStore implements TokenStore
var _ TokenStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore writing to keyPrefix + StorageKey.
func NewRedisStore(rdb RedisClient, keyPrefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	return &RedisStore{
		rdb: rdb,
		key: keyPrefix + StorageKey,
	}, nil
}

// Key returns the redis key the token set is stored under.
func (r *RedisStore) Key() string {
	return r.key
}

// Read returns the stored value, or ErrNotFound if the key is absent or empty.
func (r *RedisStore) Read(ctx context.Context) (string, error) {
	value, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", r.key, err)
	}
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Write stores the value without expiration; the token set carries its own expiry.
func (r *RedisStore) Write(ctx context.Context, value string) error {
	if err := r.rdb.Set(ctx, r.key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Delete removes the key. A missing key is not an error.
func (r *RedisStore) Delete(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", r.key, err)
	}
	return nil
}
