package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRateCache(t *testing.T) {
	ctx := context.Background()
	quotes := []shipping.Rate{{RateID: "rate-1", ServiceID: "svc-priority"}}

	t.Run("set and get", func(t *testing.T) {
		cache := NewInMemoryRateCache()
		require.NoError(t, cache.Set(ctx, "key-1", quotes, time.Minute))

		got, ok := cache.Get(ctx, "key-1")
		require.True(t, ok)
		assert.Equal(t, quotes, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		cache := NewInMemoryRateCache()
		_, ok := cache.Get(ctx, "missing")
		assert.False(t, ok)
	})

	t.Run("expired entries are dropped on access", func(t *testing.T) {
		cache := NewInMemoryRateCache()
		require.NoError(t, cache.Set(ctx, "key-1", quotes, time.Nanosecond))
		time.Sleep(time.Millisecond)

		_, ok := cache.Get(ctx, "key-1")
		assert.False(t, ok)
		assert.Zero(t, cache.Len())
	})

	t.Run("invalidate drops only the given keys", func(t *testing.T) {
		cache := NewInMemoryRateCache()
		require.NoError(t, cache.Set(ctx, "key-1", quotes, time.Minute))
		require.NoError(t, cache.Set(ctx, "key-2", quotes, time.Minute))

		require.NoError(t, cache.Invalidate(ctx, "key-1", "never-existed"))

		_, ok := cache.Get(ctx, "key-1")
		assert.False(t, ok)
		_, ok = cache.Get(ctx, "key-2")
		assert.True(t, ok)
	})

	t.Run("set replaces an existing entry", func(t *testing.T) {
		cache := NewInMemoryRateCache()
		require.NoError(t, cache.Set(ctx, "key-1", quotes, time.Minute))
		fresh := []shipping.Rate{{RateID: "rate-2", ServiceID: "svc-ground"}}
		require.NoError(t, cache.Set(ctx, "key-1", fresh, time.Minute))

		got, ok := cache.Get(ctx, "key-1")
		require.True(t, ok)
		assert.Equal(t, fresh, got)
		assert.Equal(t, 1, cache.Len())
	})
}
