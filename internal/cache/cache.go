// Package cache stores short code → original URL mappings in Redis so the
// redirect path can skip the database on repeat lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "miniurl:redirect:"

// ErrCacheMiss is returned when no mapping exists for the short code.
var ErrCacheMiss = errors.New("cache miss")

// client is the subset of the redis client used by the redirect cache.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedirectCache caches approved redirect targets with a bounded TTL.
type RedirectCache struct {
	rdb    client
	expiry time.Duration
}

func NewRedirectCache(rdb client, expiry time.Duration) *RedirectCache {
	return &RedirectCache{
		rdb:    rdb,
		expiry: expiry,
	}
}

func (c *RedirectCache) Get(ctx context.Context, shortCode string) (string, error) {
	const op = "cache.RedirectCache.Get"

	url, err := c.rdb.Get(ctx, keyPrefix+shortCode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, ErrCacheMiss)
		}

		return "", fmt.Errorf("%s: failed to get redirect url: %w", op, err)
	}

	return url, nil
}

func (c *RedirectCache) Save(ctx context.Context, shortCode, url string) error {
	const op = "cache.RedirectCache.Save"

	if err := c.rdb.Set(ctx, keyPrefix+shortCode, url, c.expiry).Err(); err != nil {
		return fmt.Errorf("%s: failed to save redirect url: %w", op, err)
	}

	return nil
}

func (c *RedirectCache) Remove(ctx context.Context, shortCode string) error {
	const op = "cache.RedirectCache.Remove"

	if err := c.rdb.Del(ctx, keyPrefix+shortCode).Err(); err != nil {
		return fmt.Errorf("%s: failed to remove redirect url: %w", op, err)
	}

	return nil
}
