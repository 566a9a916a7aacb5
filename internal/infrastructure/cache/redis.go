package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared Redis handle behind the agent-definition
// cache-aside layer, the OAuth state store, and the distributed rate
// limiter. Values are stored JSON-encoded so every consumer reads what
// any other wrote.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and verifies with a ping, so a dead Redis is
// discovered at wiring time — callers treat a connect failure as "run
// uncached", not as fatal.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Set stores a JSON-encoded value with expiration.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

// SetNX stores a value only if the key is absent, returning whether the
// write won — the primitive a cross-process idempotency guard needs.
func (r *RedisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, key, data, expiration).Result()
}

// Get retrieves and decodes a value.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// GetString retrieves a raw string value.
func (r *RedisCache) GetString(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// Delete removes a key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Exists checks if a key exists.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Incr increments a counter.
func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Expire sets expiration on a key.
func (r *RedisCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.client.Expire(ctx, key, expiration).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Client exposes the underlying client for the rate-limit middleware's
// pipelined window counting.
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// RedisStateStore implements the OAuth StateStore over the shared cache.
type RedisStateStore struct {
	cache *RedisCache
}

// NewRedisStateStore creates a new Redis state store
func NewRedisStateStore(cache *RedisCache) *RedisStateStore {
	return &RedisStateStore{cache: cache}
}

// Set stores OAuth state
func (s *RedisStateStore) Set(ctx context.Context, state string, data interface{}, expiration time.Duration) error {
	return s.cache.Set(ctx, "oauth:state:"+state, data, expiration)
}

// Get retrieves OAuth state
func (s *RedisStateStore) Get(ctx context.Context, state string) (interface{}, error) {
	return s.cache.Get(ctx, "oauth:state:"+state)
}

// Delete removes OAuth state
func (s *RedisStateStore) Delete(ctx context.Context, state string) error {
	return s.cache.Delete(ctx, "oauth:state:"+state)
}
