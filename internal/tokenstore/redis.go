package tokenstore

import (
	"context"
	"strconv"
	"time"

	apperrors "apns-workers/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "apns:invalid:"

// RedisCache remembers recently invalidated tokens so sends can skip them
// without a database round trip.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(token string) string {
	return keyPrefix + token
}

// MarkInvalid records that token was reported invalid at the given time.
func (c *RedisCache) MarkInvalid(ctx context.Context, token string, at time.Time) error {
	err := c.client.Set(ctx, cacheKey(token), strconv.FormatInt(at.Unix(), 10), c.ttl).Err()
	if err != nil {
		return apperrors.NewTokenStoreFailedError("cache_mark_invalid", err)
	}
	return nil
}

// IsInvalid reports whether token is in the invalid set.
func (c *RedisCache) IsInvalid(ctx context.Context, token string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKey(token)).Result()
	if err != nil {
		return false, apperrors.NewTokenStoreFailedError("cache_is_invalid", err)
	}
	return n > 0, nil
}
