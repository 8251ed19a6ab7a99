package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/internal/domain"
)

const stockKeyPrefix = "posledger:stock:"

type RedisStockCache struct {
	client redis.UniversalClient
}

func NewRedisStockCache(client redis.UniversalClient) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Get(ctx context.Context, productID string) (*domain.StockLevel, bool, error) {
	val, err := c.client.Get(ctx, stockKeyPrefix+productID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var level domain.StockLevel
	if err := json.Unmarshal([]byte(val), &level); err != nil {
		return nil, false, err
	}
	return &level, true, nil
}

func (c *RedisStockCache) Set(ctx context.Context, level domain.StockLevel, ttl time.Duration) error {
	payload, err := json.Marshal(level)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockKeyPrefix+level.ProductID, payload, ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, stockKeyPrefix+id)
	}
	return c.client.Del(ctx, keys...).Err()
}
