package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// Cache stores encoded manifests by application URL.
type Cache interface {
	// Get returns the cached value, or found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const redisKeyPrefix = "ekaya-translator:manifest:"

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache on client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// CachedExtractor serves manifests from a Cache and falls back to the
// wrapped extractor on a miss. Cache failures are logged and bypassed.
type CachedExtractor struct {
	inner  Extractor
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedExtractor wraps inner with cache. Entries expire after ttl.
func NewCachedExtractor(inner Extractor, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedExtractor {
	return &CachedExtractor{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("manifest-cache"),
	}
}

var _ Extractor = (*CachedExtractor)(nil)

func (e *CachedExtractor) Extract(ctx context.Context, appURL string) (models.Manifest, error) {
	raw, found, err := e.cache.Get(ctx, appURL)
	switch {
	case err != nil:
		e.logger.Warn("Manifest cache read failed", zap.String("app_url", appURL), zap.Error(err))
	case found:
		m, err := Decode(raw)
		if err == nil {
			return m, nil
		}
		e.logger.Warn("Discarding undecodable cached manifest", zap.String("app_url", appURL), zap.Error(err))
	}

	m, err := e.inner.Extract(ctx, appURL)
	if err != nil {
		return nil, err
	}

	raw, err = Encode(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := e.cache.Set(ctx, appURL, raw, e.ttl); err != nil {
		e.logger.Warn("Manifest cache write failed", zap.String("app_url", appURL), zap.Error(err))
	}
	return m, nil
}

// Invalidate drops the cached manifest of appURL.
func (e *CachedExtractor) Invalidate(ctx context.Context, appURL string) error {
	return e.cache.Delete(ctx, appURL)
}
