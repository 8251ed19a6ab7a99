package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"posledger/internal/domain"
	"posledger/internal/report"
)

// Summarize reconciles the ledger for the requested period. Data anomalies
// are logged and returned with the summary instead of failing it.
func (s *Service) Summarize(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.Summary{}, err
	}

	costs := make(map[string]int64, len(snap.Products))
	for _, p := range snap.Products {
		costs[p.ID] = p.CostCents
	}

	summary, err := report.Build(snap.Records, req, s.now(), report.Options{Location: s.location, Costs: costs})
	if err != nil {
		return domain.Summary{}, err
	}
	for _, anomaly := range summary.Anomalies {
		s.logger.Warn("ledger anomaly",
			zap.String("code", anomaly.Code),
			zap.String("ref_id", anomaly.RefID),
			zap.String("record_id", anomaly.RecordID),
			zap.String("detail", anomaly.Detail),
		)
	}
	return summary, nil
}

// VerifyStock recomputes every product's stock from its base stock and the
// ledger and reports products whose stored stock disagrees.
func (s *Service) VerifyStock(ctx context.Context) (domain.StockDriftReport, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.StockDriftReport{}, err
	}

	moved := make(map[string]int, len(snap.Products))
	for _, record := range snap.Records {
		moved[record.ProductID] += record.Quantity
	}

	out := domain.StockDriftReport{
		CheckedAt: s.now().UTC().Format(time.RFC3339),
		Products:  len(snap.Products),
		Drifts:    []domain.StockDrift{},
	}
	for _, p := range snap.Products {
		expected := p.BaseStock - moved[p.ID]
		if expected == p.Stock {
			continue
		}
		drift := domain.StockDrift{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Stock:         p.Stock,
			ExpectedStock: expected,
			Delta:         p.Stock - expected,
		}
		out.Drifts = append(out.Drifts, drift)
		s.logger.Error("stock drift detected",
			zap.String("product_id", p.ID),
			zap.Int("stock", p.Stock),
			zap.Int("expected", expected),
		)
	}
	return out, nil
}

// Dashboard gathers today's summary, products at or below the low threshold
// and open void requests concurrently.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	var (
		summary  domain.Summary
		lowStock []domain.Product
		pending  []domain.PendingVoid
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.Summarize(gctx, domain.SummaryRequest{Period: domain.PeriodDaily, Granularity: domain.GranularityDaily})
		return err
	})
	g.Go(func() error {
		products, err := s.ListProducts(gctx)
		if err != nil {
			return err
		}
		lowStock = make([]domain.Product, 0, len(products))
		for _, p := range products {
			if p.Status != domain.StockAvailable {
				lowStock = append(lowStock, p)
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		pending, err = s.repo.ListPendingVoids(gctx, domain.PendingVoidPending, 20)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{Summary: summary, LowStock: lowStock, PendingVoids: pending}, nil
}
