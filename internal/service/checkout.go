package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

// Checkout sells a cart as one unit. Every line is checked before anything
// moves; a short line fails the whole cart and names every short product.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	items, err := domain.NormalizeLineItems(req.Items)
	if err != nil {
		return domain.CheckoutResponse{}, lineItemError(err)
	}

	at := s.clock.Next()
	refID := ledger.FormatRef(ledger.KindCheckout, at)
	commit, err := s.repo.CommitCheckout(ctx, store.CheckoutCommand{RefID: refID, At: at, Lines: items})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	resp := domain.CheckoutResponse{
		TransactionNo: refID,
		Lines:         commit.Records,
		CreatedAt:     at.Format(time.RFC3339Nano),
	}
	for _, record := range commit.Records {
		resp.ItemCount += record.Quantity
		resp.TotalCents += record.TotalCents
	}
	resp.Summary = s.afterCommit(ctx, refID, at, commit.Moves)

	s.logger.Info("checkout committed",
		zap.String("ref_id", refID),
		zap.Int("lines", len(commit.Records)),
		zap.Int64("total_cents", resp.TotalCents),
	)
	s.logAudit(ctx, "checkout", "transaction", refID, fmt.Sprintf("lines=%d,items=%d,total=%d", len(commit.Records), resp.ItemCount, resp.TotalCents))

	return resp, nil
}
