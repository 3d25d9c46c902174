package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheMissPopulates(t *testing.T) {
	cache, mr := newTestCache(t)
	var calls atomic.Int32
	loader := func(context.Context) (decimal.Decimal, error) {
		calls.Add(1)
		return dec("12.50"), nil
	}

	price, err := cache.ActivePrice(context.Background(), 5, loader)
	require.NoError(t, err)
	require.True(t, dec("12.50").Equal(price))
	require.Equal(t, int32(1), calls.Load())

	raw, err := mr.Get("pricing:active:5")
	require.NoError(t, err)
	require.Equal(t, "12.50", raw)

	// second read is served from the cache
	price, err = cache.ActivePrice(context.Background(), 5, loader)
	require.NoError(t, err)
	require.True(t, dec("12.50").Equal(price))
	require.Equal(t, int32(1), calls.Load())
}

func TestCacheConcurrentMissesCollapse(t *testing.T) {
	cache, _ := newTestCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (decimal.Decimal, error) {
		calls.Add(1)
		<-release
		return dec("9.99"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := cache.ActivePrice(context.Background(), 7, loader)
			require.NoError(t, err)
			require.True(t, dec("9.99").Equal(price))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	var calls atomic.Int32
	loader := func(context.Context) (decimal.Decimal, error) {
		calls.Add(1)
		return dec("20.00"), nil
	}

	_, err := cache.ActivePrice(context.Background(), 3, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background(), 3))
	_, err = cache.ActivePrice(context.Background(), 3, loader)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestCacheWarmSkipsLoader(t *testing.T) {
	cache, _ := newTestCache(t)
	require.NoError(t, cache.Warm(context.Background(), 4, dec("31.25")))

	price, err := cache.ActivePrice(context.Background(), 4, func(context.Context) (decimal.Decimal, error) {
		t.Fatal("loader should not run for a warmed key")
		return decimal.Zero, nil
	})
	require.NoError(t, err)
	require.True(t, dec("31.25").Equal(price))
}

func TestCacheNilClientUsesLoader(t *testing.T) {
	var cache *Cache
	price, err := cache.ActivePrice(context.Background(), 1, func(context.Context) (decimal.Decimal, error) {
		return dec("5.00"), nil
	})
	require.NoError(t, err)
	require.True(t, dec("5.00").Equal(price))
	require.NoError(t, cache.Invalidate(context.Background(), 1))
	require.NoError(t, cache.Warm(context.Background(), 1, dec("5.00")))
}
