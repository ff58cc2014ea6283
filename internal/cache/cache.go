// Package cache provides a read-through response cache for the weather and
// news proxy, backed by Redis when configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/pricepulse/internal/config"
	"github.com/rickgao/pricepulse/internal/metrics"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "pricepulse:"

// Cache stores JSON-encoded values with a TTL.
type Cache interface {
	// Get decodes the value at key into dst. Returns false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Ping(ctx context.Context) error
	Close() error
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

// RedisCache is a Cache on a go-redis client.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Open builds a Cache from config. An empty address yields a Noop cache. A
// Redis that does not answer PING is logged and replaced by Noop so the
// proxy keeps serving uncached.
func Open(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return Noop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, caching disabled", "addr", cfg.Addr, "error", err)
		client.Close()
		return Noop{}
	}

	logger.Info("redis cache connected", "addr", cfg.Addr, "ttl", cfg.TTL)
	return NewRedisCache(client, cfg.TTL)
}

// Get reads and decodes key.
func (r *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal cached %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value and stores it with the cache TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, KeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks Redis connection health.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// -----------------------------------------------------------------------------
// Noop
// -----------------------------------------------------------------------------

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Noop) Set(context.Context, string, any) error         { return nil }
func (Noop) Ping(context.Context) error                     { return nil }
func (Noop) Close() error                                   { return nil }

// -----------------------------------------------------------------------------
// Read-through
// -----------------------------------------------------------------------------

// Fetch returns the cached value for key, or calls load and caches its
// result. Cache failures are logged and never fail the call.
func Fetch[T any](ctx context.Context, c Cache, key string, logger *slog.Logger, load func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cached T
	hit, err := c.Get(ctx, key, &cached)
	switch {
	case err != nil:
		metrics.IncCache("error")
		logger.Warn("cache read failed", "key", key, "error", err)
	case hit:
		metrics.IncCache("hit")
		return cached, nil
	default:
		metrics.IncCache("miss")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v); err != nil {
		logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}
