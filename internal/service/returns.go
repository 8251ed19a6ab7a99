package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

// ReturnItem takes back part of one sale line and refunds it at the price it
// was sold for.
func (s *Service) ReturnItem(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	saleLineID := strings.TrimSpace(req.SaleLineID)
	if saleLineID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: sale line id is required", store.ErrInvalidTransaction)
	}
	if req.Quantity < 1 {
		return domain.ReturnResponse{}, fmt.Errorf("%w: return quantity must be at least 1", store.ErrInvalidQuantity)
	}

	at := s.clock.Next()
	refID := ledger.FormatRef(ledger.KindReturn, at)
	commit, err := s.repo.CommitReturn(ctx, store.ReturnCommand{
		SaleLineID: saleLineID,
		Quantity:   req.Quantity,
		Reason:     strings.TrimSpace(req.Reason),
		RefID:      refID,
		At:         at,
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if len(commit.Records) != 1 {
		return domain.ReturnResponse{}, fmt.Errorf("%w: return wrote %d records", store.ErrIntegrityViolation, len(commit.Records))
	}
	record := commit.Records[0]

	resp := domain.ReturnResponse{
		RefID:             refID,
		SaleLineID:        saleLineID,
		ProductID:         record.ProductID,
		Quantity:          req.Quantity,
		RefundAmountCents: -record.TotalCents,
		RemainingQty:      commit.Remaining,
		Record:            record,
	}
	resp.Summary = s.afterCommit(ctx, refID, at, commit.Moves)

	s.logger.Info("return committed",
		zap.String("ref_id", refID),
		zap.String("sale_line_id", saleLineID),
		zap.Int("qty", req.Quantity),
		zap.Int64("refund_cents", resp.RefundAmountCents),
	)
	s.logAudit(ctx, "item_return", "sale_line", saleLineID, fmt.Sprintf("qty=%d,refund=%d,reason=%s", req.Quantity, resp.RefundAmountCents, req.Reason))

	return resp, nil
}
