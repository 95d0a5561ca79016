package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
)

const keyPrefix = "prophet:"

// Cache is what the clients need from a cache.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// TieredCache checks an in-process LRU before Redis. Entries are JSON
// envelopes carrying their own expiry so both tiers agree on staleness.
// Redis is optional.
type TieredCache struct {
	memory     *lru.Cache
	redis      *redis.Client
	defaultTTL time.Duration
	now        func() time.Time
	log        *logrus.Logger

	memoryHits atomic.Int64
	redisHits  atomic.Int64
	misses     atomic.Int64
	errs       atomic.Int64
}

// NewTieredCache builds the cache from config. An empty RedisURL keeps only
// the memory tier.
func NewTieredCache(cfg domain.CacheConfig, logger *logrus.Logger) (*TieredCache, error) {
	size := cfg.LRUSize
	if size <= 0 {
		size = 1000
	}
	memory, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}

	c := &TieredCache{
		memory:     memory,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
		log:        logger,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = 24 * time.Hour
	}

	if cfg.RedisURL == "" {
		return c, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	c.redis = client
	return c, nil
}

// Get decodes the cached value for key into dst. Corrupt or expired entries
// are evicted and reported as misses.
func (c *TieredCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	key = keyPrefix + key

	if raw, ok := c.memory.Get(key); ok {
		if env, ok := raw.(envelope); ok && c.now().Before(env.ExpiresAt) {
			if err := json.Unmarshal(env.Data, dst); err == nil {
				c.memoryHits.Add(1)
				return true, nil
			}
		}
		c.memory.Remove(key)
	}

	if c.redis == nil {
		c.misses.Add(1)
		return false, nil
	}

	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		c.errs.Add(1)
		return false, fmt.Errorf("reading redis cache: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(val, &env); err != nil || !c.now().Before(env.ExpiresAt) {
		c.redis.Del(ctx, key)
		c.misses.Add(1)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		c.redis.Del(ctx, key)
		c.misses.Add(1)
		return false, nil
	}

	c.memory.Add(key, env)
	c.redisHits.Add(1)
	return true, nil
}

// Set stores value in both tiers. A zero ttl uses the configured default.
func (c *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling cache value: %w", err)
	}

	now := c.now()
	env := envelope{Data: data, CachedAt: now, ExpiresAt: now.Add(ttl)}
	key = keyPrefix + key
	c.memory.Add(key, env)

	if c.redis == nil {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling cache envelope: %w", err)
	}
	if err := c.redis.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("writing redis cache: %w", err)
	}
	return nil
}

// Invalidate drops key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	key = keyPrefix + key
	c.memory.Remove(key)
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, key).Err()
}

// Stats returns hit and miss counters.
func (c *TieredCache) Stats() CacheStats {
	return CacheStats{
		MemoryHits: c.memoryHits.Load(),
		RedisHits:  c.redisHits.Load(),
		Misses:     c.misses.Load(),
		Errors:     c.errs.Load(),
	}
}

// Health pings Redis when it is configured.
func (c *TieredCache) Health(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *TieredCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
