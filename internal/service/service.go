package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/internal/alert"
	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const notifyTimeout = 3 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// VoidApprover decides whether an actor may void a transaction right away.
// Callers consult it before Void; the service itself does not care how
// approval was obtained.
type VoidApprover interface {
	ApproveVoid(ctx context.Context, actor domain.Actor, req domain.VoidRequest) error
}

type Options struct {
	LowStockThreshold int
	StockCacheTTL     time.Duration
	Location          *time.Location
	Clock             *ledger.Clock
	Now               func() time.Time
	Logger            *zap.Logger
	Notifier          alert.Notifier
	Cache             cache.StockCache
}

type Service struct {
	repo      store.Repository
	clock     *ledger.Clock
	now       func() time.Time
	threshold int
	cacheTTL  time.Duration
	location  *time.Location
	logger    *zap.Logger
	notifier  alert.Notifier
	cache     cache.StockCache
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Clock == nil {
		opts.Clock = ledger.NewClock(opts.Now)
	}
	if opts.LowStockThreshold < 0 {
		opts.LowStockThreshold = 0
	}
	if opts.StockCacheTTL <= 0 {
		opts.StockCacheTTL = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.NoopNotifier{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopStockCache{}
	}

	return &Service{
		repo:      repo,
		clock:     opts.Clock,
		now:       opts.Now,
		threshold: opts.LowStockThreshold,
		cacheTTL:  opts.StockCacheTTL,
		location:  opts.Location,
		logger:    opts.Logger.Named("service"),
		notifier:  opts.Notifier,
		cache:     opts.Cache,
	}
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// lineItemError maps boundary validation failures onto the store taxonomy.
func lineItemError(err error) error {
	if errors.Is(err, domain.ErrInvalidLineQuantity) {
		return fmt.Errorf("%w: %w", store.ErrInvalidQuantity, err)
	}
	return fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
}

func (s *Service) withStatus(p domain.Product) domain.Product {
	p.Status = domain.ClassifyStock(p.Stock, s.threshold)
	return p
}

// afterCommit turns stock moves into threshold changes, drops cached levels
// for the touched products and fires alerts for every crossing. Nothing here
// can fail the committed operation.
func (s *Service) afterCommit(ctx context.Context, refID string, at time.Time, moves []store.StockMove) []domain.StockChange {
	ids := make([]string, 0, len(moves))
	changes := make([]domain.StockChange, 0, len(moves))
	for _, move := range moves {
		ids = append(ids, move.ProductID)
		before := domain.ClassifyStock(move.Before, s.threshold)
		after := domain.ClassifyStock(move.After, s.threshold)
		if before == after {
			continue
		}
		changes = append(changes, domain.StockChange{
			ProductID:        move.ProductID,
			ProductName:      move.ProductName,
			PreviousStock:    move.Before,
			NewStock:         move.After,
			Status:           after,
			CrossedThreshold: after,
		})
	}

	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("stock cache invalidation failed", zap.String("ref_id", refID), zap.Error(err))
	}

	for _, change := range changes {
		s.notify(ctx, domain.StockAlert{StockChange: change, RefID: refID, At: at})
	}
	return changes
}

func (s *Service) notify(ctx context.Context, event domain.StockAlert) {
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(notifyCtx, event); err != nil {
			s.logger.Warn("stock alert delivery failed",
				zap.String("product_id", event.ProductID),
				zap.String("ref_id", event.RefID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, s.location)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
