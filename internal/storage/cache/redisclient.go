package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the Redis server. URL, when set, wins over the
// discrete fields.
type RedisOptions struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// RedisClient wraps go-redis to satisfy the CacheClient interface and hands
// the raw client to the credential cache and token repository.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	var redisOpts *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}
	}
	rdb := redis.NewClient(redisOpts)

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{rdb: rdb}, nil
}

// NewRedisClientFrom wraps an existing client without pinging it.
func NewRedisClientFrom(rdb *redis.Client) *RedisClient {
	return &RedisClient{rdb: rdb}
}

// Raw exposes the underlying client for components that speak Redis natively.
func (c *RedisClient) Raw() *redis.Client {
	return c.rdb
}

func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err // redis.Nil is returned as error, matching our interface expectation
	}
	return json.Unmarshal(val, dest)
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, bytes, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
