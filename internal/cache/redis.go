package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"intake-assistant/internal/metrics"
	"intake-assistant/pkg"
)

const (
	// Redis key prefix for conversation snapshots
	keyPrefix = "conversation:"
	// Default TTL for snapshots
	defaultTTL = time.Hour
)

// RedisCache stores conversation memory snapshots in Redis as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed snapshot cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get returns nil, nil when the snapshot is missing or expired.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (*pkg.ConversationContext, error) {
	val, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheLookup(false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cc pkg.ConversationContext
	if err := json.Unmarshal(val, &cc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	metrics.RecordCacheLookup(true)
	return &cc, nil
}

// Set stores the snapshot under its session id with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, cc *pkg.ConversationContext) error {
	val, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key(cc.SessionID), val, c.ttl).Err()
}

// Delete drops the snapshot.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(sessionID string) string {
	return keyPrefix + sessionID
}
