// Package cache is a thin Redis wrapper for short-lived serving data,
// mainly recommendation responses. A nil *Cache is valid and disables
// caching, so callers never branch on configuration.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect dials Redis using REDIS_ADDR. An empty address returns
// (nil, nil): caching stays off and every lookup is a miss.
func Connect(ctx context.Context) (*Cache, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	ttl := 5 * time.Minute
	if raw := os.Getenv("CACHE_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			ttl = parsed
		}
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Get unmarshals the cached value for key into dest. Misses and a nil
// cache both return false.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

// Set stores value under key for the configured TTL. Failures are
// swallowed; the cache is advisory.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}

// Invalidate drops a key, typically after the learner's state changed.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c == nil {
		return
	}
	c.client.Del(ctx, key)
}

// RecommendationKey names the cached recommendation for a learner.
func RecommendationKey(learnerID int64) string {
	return fmt.Sprintf("recommendation:%d", learnerID)
}

// Close shuts the underlying client down.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
