package cache

import (
	"context"
	"time"

	"posledger/internal/domain"
)

// StockCache serves stock levels to read-only polling. Nothing that checks
// stock before a mutation reads from it.
type StockCache interface {
	Get(ctx context.Context, productID string) (*domain.StockLevel, bool, error)
	Set(ctx context.Context, level domain.StockLevel, ttl time.Duration) error
	Invalidate(ctx context.Context, productIDs ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) (*domain.StockLevel, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ domain.StockLevel, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
