// Package cache provides the rate-quote cache backing the rates engine,
// with a Redis implementation for distributed deployments and an
// in-memory fallback.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/domain/shipping"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisRateCache implements the rate-quote cache on Redis. Suitable for
// deployments where multiple instances should share quoted rates.
type RedisRateCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateCache creates a Redis-backed rate cache and verifies the
// connection
func NewRedisRateCache(cfg RedisConfig) (*RedisRateCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRateCache{
		client:    client,
		keyPrefix: "shipping:",
	}, nil
}

// NewRedisRateCacheWithClient creates a cache over an existing client
func NewRedisRateCacheWithClient(client *redis.Client, keyPrefix string) *RedisRateCache {
	if keyPrefix == "" {
		keyPrefix = "shipping:"
	}
	return &RedisRateCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get returns the cached quotes for a key, or false on a miss
func (c *RedisRateCache) Get(ctx context.Context, key string) ([]shipping.Rate, bool) {
	payload, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var rates []shipping.Rate
	if err := json.Unmarshal(payload, &rates); err != nil {
		return nil, false
	}
	return rates, true
}

// Set stores quotes under a key with a time-to-live
func (c *RedisRateCache) Set(ctx context.Context, key string, rates []shipping.Rate, ttl time.Duration) error {
	payload, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("failed to encode rate quotes: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rate quotes: %w", err)
	}
	return nil
}

// Invalidate drops the given keys
func (c *RedisRateCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.keyPrefix + key
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rate quotes: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

// Ensure RedisRateCache implements the rate cache
var _ labels.RateCache = (*RedisRateCache)(nil)
