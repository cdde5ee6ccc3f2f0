package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetCachesUntilExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache := NewTTL[string](time.Minute, func() time.Time { return now })

	loads := 0
	load := func(context.Context, string) (string, error) {
		loads++
		return "value", nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		value, err := cache.Get(ctx, "key", load)
		require.NoError(t, err)
		require.Equal(t, "value", value)
	}
	require.Equal(t, 1, loads)

	now = now.Add(2 * time.Minute)
	_, err := cache.Get(ctx, "key", load)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	cache := NewTTL[int](time.Minute, nil)
	loads := 0
	failing := func(context.Context, string) (int, error) {
		loads++
		return 0, errors.New("backend down")
	}

	ctx := context.Background()
	_, err := cache.Get(ctx, "key", failing)
	require.Error(t, err)
	_, err = cache.Get(ctx, "key", failing)
	require.Error(t, err)
	require.Equal(t, 2, loads)

	value, err := cache.Get(ctx, "key", func(context.Context, string) (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	t.Parallel()

	cache := NewTTL[string](0, nil)
	loads := 0
	load := func(context.Context, string) (string, error) {
		loads++
		return "fresh", nil
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := cache.Get(ctx, "key", load)
		require.NoError(t, err)
	}
	require.Equal(t, 2, loads)
}

func TestInvalidateAndPurge(t *testing.T) {
	t.Parallel()

	cache := NewTTL[string](time.Hour, nil)
	loads := 0
	load := func(_ context.Context, key string) (string, error) {
		loads++
		return key, nil
	}

	ctx := context.Background()
	_, err := cache.Get(ctx, "a", load)
	require.NoError(t, err)
	_, err = cache.Get(ctx, "b", load)
	require.NoError(t, err)
	require.Equal(t, 2, loads)

	cache.Invalidate("a")
	_, err = cache.Get(ctx, "a", load)
	require.NoError(t, err)
	require.Equal(t, 3, loads)

	cache.Purge()
	_, err = cache.Get(ctx, "b", load)
	require.NoError(t, err)
	require.Equal(t, 4, loads)
}

func TestNilCacheFallsThrough(t *testing.T) {
	t.Parallel()

	var cache *TTL[string]
	value, err := cache.Get(context.Background(), "key", func(context.Context, string) (string, error) {
		return "direct", nil
	})
	require.NoError(t, err)
	require.Equal(t, "direct", value)
}
