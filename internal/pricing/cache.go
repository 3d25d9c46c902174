package pricing

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "pricing:active:"

// Cache serves active-price lookups from Redis. Concurrent misses for the
// same product collapse into one loader call via singleflight. A nil client
// degrades to calling the loader directly.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(productID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(productID, 10)
}

// ActivePrice returns the cached price or populates it using the loader.
func (c *Cache) ActivePrice(ctx context.Context, productID int64, loader func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := cacheKey(productID)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decimal.NewFromString(raw)
	}
	if err != redis.Nil {
		return decimal.Zero, err
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		price, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
			return nil, err
		}
		return price, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return value.(decimal.Decimal), nil
}

// Invalidate drops the cached price for a product.
func (c *Cache) Invalidate(ctx context.Context, productID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(productID)).Err()
}

// Warm stores a known price without going through a loader.
func (c *Cache) Warm(ctx context.Context, productID int64, price decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, cacheKey(productID), price.String(), c.ttl).Err()
}
