package memory

import (
	"context"
	"sync"
	"time"

	"jobwatch/common/cache"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Cache is a bounded in-process cache.Cache used when no Redis address is
// configured. Entries live for the shorter of their own ttl and Options.TTL.
type Cache struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

func New(opts cache.Options) *Cache {
	def := cache.DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	return &Cache{
		lru: expirable.NewLRU[string, entry](opts.Size, nil, opts.TTL),
		ttl: opts.TTL,
		now: time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, cache.ErrClosed
	}

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	if !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, cache.ErrNotFound
	}
	return e.data, nil
}

func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return cache.ErrClosed
	}
	c.lru.Add(key, entry{data: append([]byte(nil), data...), expires: c.now().Add(ttl)})
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.lru.Purge()
	return nil
}
