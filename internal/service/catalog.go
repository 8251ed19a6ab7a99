package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i] = s.withStatus(products[i])
	}
	return products, nil
}

// CreateProduct adds a product, or restores a deleted one with the same id
// or barcode.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.PriceCents < 1 || req.CostCents < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidQuantity
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         req.ID,
		Name:       req.Name,
		Barcode:    req.Barcode,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		BaseStock:  req.InitialStock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.cache.Invalidate(ctx, created.ID); err != nil {
		s.logger.Warn("stock cache invalidation failed", zap.String("product_id", created.ID), zap.Error(err))
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,cost=%d,stock=%d", created.Name, created.PriceCents, created.CostCents, req.InitialStock))
	return s.withStatus(*created), nil
}

// DeleteProduct hides a product from the catalog. Its ledger history stays
// and reports keep resolving it.
func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return store.ErrInvalidTransaction
	}
	if err := s.repo.DeleteProduct(ctx, productID, s.now().UTC()); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.Warn("stock cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
	}
	s.logAudit(ctx, "product_delete", "product", productID, "")
	return nil
}

// Restock receives goods outside the sales ledger.
func (s *Service) Restock(ctx context.Context, productID string, req domain.RestockRequest) (domain.StockLevel, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.StockLevel{}, err
	}
	if req.Qty < 1 {
		return domain.StockLevel{}, store.ErrInvalidQuantity
	}

	move, err := s.repo.Restock(ctx, strings.TrimSpace(productID), req.Qty)
	if err != nil {
		return domain.StockLevel{}, err
	}
	s.afterCommit(ctx, "restock", s.now().UTC(), []store.StockMove{*move})
	s.logAudit(ctx, "product_restock", "product", move.ProductID, fmt.Sprintf("qty=%d,stock=%d", req.Qty, move.After))

	return domain.StockLevel{
		ProductID: move.ProductID,
		Stock:     move.After,
		Status:    domain.ClassifyStock(move.After, s.threshold),
	}, nil
}

// StockLevel serves UI polling from the cache when it can. Mutations never
// read this path.
func (s *Service) StockLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, store.ErrInvalidTransaction
	}

	cached, hit, err := s.cache.Get(ctx, productID)
	if err != nil {
		s.logger.Warn("stock cache read failed", zap.String("product_id", productID), zap.Error(err))
	}
	if hit {
		cached.Cached = true
		return *cached, nil
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	if !product.Active {
		return domain.StockLevel{}, store.ErrNotFound
	}
	level := domain.StockLevel{
		ProductID: product.ID,
		Stock:     product.Stock,
		Status:    domain.ClassifyStock(product.Stock, s.threshold),
	}
	if err := s.cache.Set(ctx, level, s.cacheTTL); err != nil {
		s.logger.Warn("stock cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return level, nil
}
