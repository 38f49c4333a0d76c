package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCredentialCache stores credentials in Redis with an absolute expiry
// (SET ... EXAT), so the store itself enforces freshness across processes.
type RedisCredentialCache struct {
	rdb redis.Cmdable
}

func NewRedisCredentialCache(rdb redis.Cmdable) *RedisCredentialCache {
	return &RedisCredentialCache{rdb: rdb}
}

func (c *RedisCredentialCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set deletes the key instead of writing when expiresAt has already passed.
func (c *RedisCredentialCache) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	if !time.Now().Before(expiresAt) {
		return c.Delete(ctx, key)
	}
	err := c.rdb.SetArgs(ctx, key, value, redis.SetArgs{ExpireAt: expiresAt}).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCredentialCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
