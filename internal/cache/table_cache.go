// Package cache memoizes fetched metric tables in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/windsor"
)

const keyPrefix = "adinsights:table"

// TableCache stores tables under keys derived from the fetch parameters.
type TableCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New wraps an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *TableCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TableCache{redis: client, ttl: ttl}
}

// NewFromURL connects to Redis and verifies the connection.
func NewFromURL(redisURL string, ttl time.Duration) (*TableCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return New(client, ttl), nil
}

// Client returns the underlying Redis client.
func (c *TableCache) Client() *redis.Client { return c.redis }

// Key identifies a table by platform, dataset, range, account and field set.
// The field set is hashed so a catalog change never serves stale columns.
func Key(platform, dataset string, q windsor.Query, fields []string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, ",")))
	account := q.Account
	if account == "" {
		account = "_"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s",
		keyPrefix, platform, dataset, q.DateFrom, q.DateTo,
		hex.EncodeToString([]byte(account)), hex.EncodeToString(h[:8]))
}

// Get returns the cached table for key. A miss is (nil, false, nil).
func (c *TableCache) Get(ctx context.Context, key string) (*windsor.Table, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}

	var t windsor.Table
	if err := json.Unmarshal(data, &t); err != nil {
		// A corrupt entry is treated as a miss and replaced on the next Set.
		logger.Warn("cache: discarding unreadable entry", "key", key, "error", err)
		return nil, false, nil
	}
	return &t, true, nil
}

// Set stores t under key with the cache TTL.
func (c *TableCache) Set(ctx context.Context, key string, t *windsor.Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every cached table of a platform dataset.
func (c *TableCache) Invalidate(ctx context.Context, platform, dataset string) (int, error) {
	pattern := fmt.Sprintf("%s:%s:%s:*", keyPrefix, platform, dataset)
	removed := 0
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis DEL %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis SCAN %s: %w", pattern, err)
	}
	return removed, nil
}

// Ping checks connectivity.
func (c *TableCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *TableCache) Close() error {
	return c.redis.Close()
}
