package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"grafsys/domain"
)

type backend interface {
	ListProducts(ctx context.Context) (map[string]domain.ProductEntity, error)
	ListCategories(ctx context.Context) (map[string]domain.CategoryEntity, error)
	ListSellerOrders(ctx context.Context, sellerID string) ([]domain.Order, error)
}

const (
	productsCacheKey   = "catalog:products"
	categoriesCacheKey = "catalog:categories"
)

func sellerOrdersCacheKey(sellerID string) string {
	return "seller-orders:" + sellerID
}

// Cache wraps a backend with Redis-backed caching for catalog and seller
// order reads.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListProducts(ctx context.Context) (map[string]domain.ProductEntity, error) {
	return readThrough(ctx, c, productsCacheKey, c.base.ListProducts)
}

func (c *Cache) ListCategories(ctx context.Context) (map[string]domain.CategoryEntity, error) {
	return readThrough(ctx, c, categoriesCacheKey, c.base.ListCategories)
}

func (c *Cache) ListSellerOrders(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return readThrough(ctx, c, sellerOrdersCacheKey(sellerID), func(ctx context.Context) ([]domain.Order, error) {
		return c.base.ListSellerOrders(ctx, sellerID)
	})
}

// EvictSeller drops the cached order list of each seller.
func (c *Cache) EvictSeller(ctx context.Context, sellerIDs ...string) {
	if c.redis == nil || len(sellerIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(sellerIDs))
	for _, id := range sellerIDs {
		if id != "" {
			keys = append(keys, sellerOrdersCacheKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func readThrough[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := loadFromCache[T](ctx, c, key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.store(ctx, key, v)
	return v, nil
}

func loadFromCache[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	if c.redis == nil {
		return v, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the table without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return v, false
	}
	if err := sonic.Unmarshal(data, &v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return v, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
