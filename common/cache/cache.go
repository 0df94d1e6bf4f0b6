// Package cache keeps short-lived fetch results so repeated searches inside
// the cache window reach the job service once.
package cache

import (
	"context"
	"encoding"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("cache: entry not found")
	ErrClosed     = errors.New("cache: closed")
	ErrInvalidKey = errors.New("cache: invalid key")
)

// Namespace prefixes every key so cache entries never collide with the
// ledger when both share one Redis database.
const Namespace = "jobwatch"

// Cache stores encoded entries under keys built with Key.
type Cache interface {
	// Get returns the entry under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key for ttl; ttl <= 0 uses the backend default.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Close() error
}

type Options struct {
	// TTL is the default lifetime and, for the memory backend, the upper bound.
	TTL time.Duration

	// Size bounds the number of in-process entries.
	Size int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func DefaultOptions() Options {
	return Options{
		TTL:  time.Hour,
		Size: 1024,
	}
}

// Key joins parts under Namespace, e.g. Key("fetch", d) is "jobwatch:fetch:<d>".
func Key(parts ...string) string {
	return Namespace + ":" + strings.Join(parts, ":")
}

// Load decodes the entry under key into v.
func Load(ctx context.Context, c Cache, key string, v encoding.BinaryUnmarshaler) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return v.UnmarshalBinary(data)
}

// Store encodes v and saves it under key.
func Store(ctx context.Context, c Cache, key string, v encoding.BinaryMarshaler, ttl time.Duration) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
