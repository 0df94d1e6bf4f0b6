package memory

import (
	"context"
	"testing"
	"time"

	"jobwatch/common/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listing struct{ title string }

func (l listing) MarshalBinary() ([]byte, error) { return []byte(l.title), nil }

func (l *listing) UnmarshalBinary(b []byte) error {
	l.title = string(b)
	return nil
}

func TestCache_SetGet(t *testing.T) {
	c := New(cache.DefaultOptions())
	ctx := context.Background()
	key := cache.Key("fetch", "abc")

	require.NoError(t, c.Set(ctx, key, []byte("v"), 0))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCache_LoadStore(t *testing.T) {
	c := New(cache.DefaultOptions())
	ctx := context.Background()
	key := cache.Key("fetch", "go")
	assert.Equal(t, "jobwatch:fetch:go", key)

	require.NoError(t, cache.Store(ctx, c, key, listing{title: "Go Developer"}, time.Minute))

	var got listing
	require.NoError(t, cache.Load(ctx, c, key, &got))
	assert.Equal(t, "Go Developer", got.title)

	assert.ErrorIs(t, cache.Load(ctx, c, cache.Key("fetch", "missing"), &got), cache.ErrNotFound)
}

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(cache.Options{TTL: time.Hour})
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "capped", []byte("v"), 2*time.Hour))

	now = now.Add(59 * time.Second)
	_, err := c.Get(ctx, "short")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = c.Get(ctx, "short")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	now = now.Add(time.Hour)
	_, err = c.Get(ctx, "capped")
	assert.ErrorIs(t, err, cache.ErrNotFound, "ttl is capped at Options.TTL")
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(cache.Options{TTL: time.Hour, Size: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	assert.Equal(t, 2, c.Len())
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestCache_Invalid(t *testing.T) {
	c := New(cache.DefaultOptions())
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", []byte("v"), 0), cache.ErrInvalidKey)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), 0), cache.ErrClosed)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrClosed)
}
