package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

// RequestVoid queues a void for remote approval. Nothing moves until the
// request is approved.
func (s *Service) RequestVoid(ctx context.Context, req domain.VoidRequestCreate) (domain.PendingVoid, error) {
	transactionNo := strings.TrimSpace(req.TransactionNo)
	if transactionNo == "" {
		return domain.PendingVoid{}, store.ErrInvalidTransaction
	}

	related, err := s.repo.TransactionRecords(ctx, transactionNo)
	if err != nil {
		return domain.PendingVoid{}, err
	}
	if _, err := ledger.PlanVoid(transactionNo, related, nil); err != nil {
		return domain.PendingVoid{}, err
	}

	requestedBy := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		requestedBy = actor.Username
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	created, err := s.repo.CreatePendingVoid(ctx, domain.PendingVoid{
		TransactionNo: transactionNo,
		Reason:        reason,
		RequestedBy:   requestedBy,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.PendingVoid{}, err
	}

	s.logAudit(ctx, "void_request", "void_request", created.ID, fmt.Sprintf("transaction=%s,reason=%s", transactionNo, reason))
	return *created, nil
}

// ResolveVoid approves or rejects a pending request. Approval runs the void
// first; the request only closes as approved once the void has committed.
// Approving a request whose transaction is already voided closes it as
// superseded.
func (s *Service) ResolveVoid(ctx context.Context, requestID string, req domain.VoidRequestResolve) (domain.PendingVoid, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.PendingVoid{}, err
	}
	actor, _ := ActorFromContext(ctx)

	pending, err := s.repo.GetPendingVoid(ctx, requestID)
	if err != nil {
		return domain.PendingVoid{}, err
	}
	if pending.Status != domain.PendingVoidPending {
		return domain.PendingVoid{}, fmt.Errorf("%w: void request is %s", store.ErrInvalidTransaction, pending.Status)
	}

	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	note := strings.TrimSpace(req.Note)
	switch decision {
	case domain.PendingVoidApproved:
		_, err := s.Void(ctx, domain.VoidRequest{TransactionNo: pending.TransactionNo, Reason: pending.Reason})
		switch {
		case errors.Is(err, store.ErrAlreadyVoided):
			decision = domain.PendingVoidSuperseded
			note = "transaction already voided"
		case err != nil:
			return domain.PendingVoid{}, err
		}
	case domain.PendingVoidRejected:
	default:
		return domain.PendingVoid{}, fmt.Errorf("%w: decision must be approved or rejected", store.ErrInvalidTransaction)
	}

	resolved, err := s.repo.ResolvePendingVoid(ctx, requestID, decision, actor.Username, note, s.now().UTC())
	if err != nil {
		if decision == domain.PendingVoidApproved {
			s.logger.Error("void applied but request could not be closed",
				zap.String("request_id", requestID),
				zap.String("transaction_no", pending.TransactionNo),
				zap.Error(err),
			)
		}
		return domain.PendingVoid{}, err
	}

	s.logAudit(ctx, "void_request_"+decision, "void_request", requestID, pending.TransactionNo)
	return *resolved, nil
}

// CancelVoidRequest withdraws a pending request. No stock was moved, so
// nothing needs compensating.
func (s *Service) CancelVoidRequest(ctx context.Context, requestID string) (domain.PendingVoid, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	pending, err := s.repo.GetPendingVoid(ctx, requestID)
	if err != nil {
		return domain.PendingVoid{}, err
	}
	if actor.Role != domain.RoleAdmin && pending.RequestedBy != actor.Username {
		return domain.PendingVoid{}, ErrForbidden
	}

	cancelled, err := s.repo.ResolvePendingVoid(ctx, requestID, domain.PendingVoidCancelled, actor.Username, "", s.now().UTC())
	if err != nil {
		return domain.PendingVoid{}, err
	}
	s.logAudit(ctx, "void_request_cancelled", "void_request", requestID, pending.TransactionNo)
	return *cancelled, nil
}

func (s *Service) ListVoidRequests(ctx context.Context, status string, limit int) ([]domain.PendingVoid, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.PendingVoidPending, domain.PendingVoidApproved, domain.PendingVoidRejected,
		domain.PendingVoidCancelled, domain.PendingVoidSuperseded:
	default:
		return nil, store.ErrInvalidTransaction
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListPendingVoids(ctx, status, limit)
}
