package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by URLCache.Get when nothing is cached for a key.
var ErrCacheMiss = errors.New("cache miss")

// URLCache stores presigned URLs between requests.
type URLCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisURLCache is a URLCache backed by Redis.
type RedisURLCache struct {
	client *redis.Client
	prefix string
}

// NewRedisURLCache connects to the Redis instance described by redisURL
// (e.g. "redis://localhost:6379/0") and verifies it with a PING.
func NewRedisURLCache(ctx context.Context, redisURL string) (*RedisURLCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisURLCache{client: client, prefix: "presign:"}, nil
}

func (c *RedisURLCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("reading cached url %s: %w", key, err)
	}
	return v, nil
}

func (c *RedisURLCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("caching url %s: %w", key, err)
	}
	return nil
}

func (c *RedisURLCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("evicting cached url %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisURLCache) Close() error {
	return c.client.Close()
}

// CachedPresigner wraps a Storage so that PresignGet results are reused.
// A cached URL is kept for half of its validity, so callers always receive
// a URL with at least half of the requested lifetime left. Cache failures
// are logged and fall through to the wrapped Storage.
type CachedPresigner struct {
	Storage
	cache  URLCache
	expiry time.Duration // lifetime evicted on Delete
	logger *slog.Logger
}

// NewCachedPresigner wraps inner with cache. expiry is the signed-URL
// lifetime the application uses; its entry is evicted when an object is
// deleted.
func NewCachedPresigner(inner Storage, cache URLCache, expiry time.Duration, logger *slog.Logger) *CachedPresigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedPresigner{Storage: inner, cache: cache, expiry: expiry, logger: logger}
}

func (c *CachedPresigner) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	cacheKey := presignCacheKey(key, expiry)

	cached, err := c.cache.Get(ctx, cacheKey)
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("presign cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	signed, err := c.Storage.PresignGet(ctx, key, expiry)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, cacheKey, signed, expiry/2); err != nil {
		c.logger.Warn("presign cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return signed, nil
}

// Delete removes the object and evicts its cached URL.
func (c *CachedPresigner) Delete(ctx context.Context, key string) error {
	if err := c.Storage.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.cache.Del(ctx, presignCacheKey(key, c.expiry)); err != nil {
		c.logger.Warn("presign cache evict failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func presignCacheKey(key string, expiry time.Duration) string {
	return fmt.Sprintf("%d:%s", int64(expiry.Seconds()), key)
}
