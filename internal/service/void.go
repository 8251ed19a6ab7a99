package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

// Void reverses a whole checkout. It refuses a second void of the same
// transaction and any transaction that already has returns.
func (s *Service) Void(ctx context.Context, req domain.VoidRequest) (domain.VoidResponse, error) {
	transactionNo := strings.TrimSpace(req.TransactionNo)
	if transactionNo == "" {
		return domain.VoidResponse{}, store.ErrInvalidTransaction
	}
	voidRef, err := ledger.VoidRefFor(transactionNo)
	if err != nil {
		return domain.VoidResponse{}, fmt.Errorf("%w: %s", store.ErrUnknownTransaction, transactionNo)
	}

	var lines []domain.LineItem
	if len(req.Lines) > 0 {
		lines, err = domain.NormalizeLineItems(req.Lines)
		if err != nil {
			return domain.VoidResponse{}, lineItemError(err)
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	at := s.clock.Next()
	commit, err := s.repo.CommitVoid(ctx, store.VoidCommand{
		TransactionNo: transactionNo,
		RefID:         voidRef,
		At:            at,
		Lines:         lines,
		Reason:        reason,
	})
	if err != nil {
		return domain.VoidResponse{}, err
	}

	resp := domain.VoidResponse{
		TransactionNo: transactionNo,
		VoidRefID:     voidRef,
		Lines:         commit.Records,
		VoidedAt:      at.Format(time.RFC3339Nano),
	}
	for _, record := range commit.Records {
		resp.AmountCents += -record.TotalCents
	}
	resp.Summary = s.afterCommit(ctx, voidRef, at, commit.Moves)

	s.logger.Info("void committed",
		zap.String("ref_id", voidRef),
		zap.String("transaction_no", transactionNo),
		zap.Int64("amount_cents", resp.AmountCents),
	)
	s.logAudit(ctx, "void_transaction", "transaction", transactionNo, reason)

	return resp, nil
}

// GetTransaction shows a checkout with what is still returnable per line.
func (s *Service) GetTransaction(ctx context.Context, transactionNo string) (domain.TransactionView, error) {
	transactionNo = strings.TrimSpace(transactionNo)
	if ledger.KindOf(transactionNo) != ledger.KindCheckout {
		return domain.TransactionView{}, fmt.Errorf("%w: %s", store.ErrUnknownTransaction, transactionNo)
	}

	related, err := s.repo.TransactionRecords(ctx, transactionNo)
	if err != nil {
		return domain.TransactionView{}, err
	}
	sale := ledger.SaleLines(transactionNo, related)
	if len(sale) == 0 {
		return domain.TransactionView{}, fmt.Errorf("%w: %s", store.ErrUnknownTransaction, transactionNo)
	}

	view := domain.TransactionView{
		TransactionNo: transactionNo,
		CreatedAt:     sale[0].CreatedAt,
		Lines:         make([]domain.TransactionLineView, 0, len(sale)),
	}
	view.VoidRefID, view.Voided = ledger.IsVoided(transactionNo, related)
	returned := ledger.ReturnedQty(related)
	for _, line := range sale {
		remaining := line.Quantity - returned[line.ID]
		if view.Voided || remaining < 0 {
			remaining = 0
		}
		view.TotalCents += line.TotalCents
		view.Lines = append(view.Lines, domain.TransactionLineView{
			LedgerRecord: line,
			ReturnedQty:  returned[line.ID],
			RemainingQty: remaining,
		})
	}
	return view, nil
}
