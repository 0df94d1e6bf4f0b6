package redis

import (
	"context"
	"errors"
	"time"

	"jobwatch/common/cache"

	"github.com/redis/go-redis/v9"
)

// Cache is a cache.Cache backed by Redis. Its client can be shared with the
// Redis ledger store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(opts cache.Options) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	return NewWithClient(client, opts.TTL)
}

// NewWithClient wraps an existing client. ttl <= 0 uses the package default.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = cache.DefaultOptions().TTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Client exposes the underlying connection so other stores can share it.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if errors.Is(err, redis.ErrClosed) {
		return nil, cache.ErrClosed
	}
	return data, err
}

func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
