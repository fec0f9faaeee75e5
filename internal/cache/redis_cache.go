// Package cache provides a Redis-backed read-through cache for
// vulnerability feed lookups, keyed by package name and version.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// VulnerabilityCache is a read-through cache in front of the
// vulnerability feed client and the database's vulnerability_cache
// table. A miss here falls through to the feed client; the caller is
// responsible for writing the result back with SetWithTTL.
type VulnerabilityCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewVulnerabilityCache dials Redis and verifies connectivity.
func NewVulnerabilityCache(addr, password string, db int, prefix string, ttl time.Duration) (*VulnerabilityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &VulnerabilityCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get retrieves a value from cache. The bool return is false on a
// cache miss (not an error) so callers can distinguish "not cached"
// from "cached as empty".
func (c *VulnerabilityCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

// Set stores a value using the cache's default TTL.
func (c *VulnerabilityCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL. Callers use a short
// TTL for negative (not-found) results and a longer one for positive
// hits, per the feed client's caching policy.
func (c *VulnerabilityCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (c *VulnerabilityCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.fullKey(key)).Err()
}

// Clear removes every entry under this cache's prefix. Used by tests
// and by the admin-only cache-flush path.
func (c *VulnerabilityCache) Clear(ctx context.Context) error {
	pattern := c.prefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()

	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}

	return iter.Err()
}

func (c *VulnerabilityCache) fullKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Close releases the underlying connection pool.
func (c *VulnerabilityCache) Close() error {
	return c.client.Close()
}

// Health pings Redis.
func (c *VulnerabilityCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
