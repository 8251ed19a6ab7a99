package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"posledger/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrUnknownTransaction   = errors.New("unknown transaction")
	ErrAlreadyVoided        = errors.New("transaction already voided")
	ErrAlreadyFullyReturned = errors.New("sale line already fully returned")
	ErrReturnConflict       = errors.New("transaction has returns")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrIntegrityViolation   = errors.New("ledger integrity violation")
	ErrPersistence          = errors.New("persistence failure")
)

type Shortage struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// InsufficientStockError lists every line of a cart that cannot be served.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductName, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockMove is the before/after stock of one product touched by a commit.
type StockMove struct {
	ProductID   string
	ProductName string
	Before      int
	After       int
}

type CheckoutCommand struct {
	RefID string
	At    time.Time
	Lines []domain.LineItem
}

type VoidCommand struct {
	TransactionNo string
	RefID         string
	At            time.Time
	Lines         []domain.LineItem
	Reason        string
}

type ReturnCommand struct {
	SaleLineID string
	Quantity   int
	Reason     string
	RefID      string
	At         time.Time
}

// Commit is the result of one atomic ledger append.
type Commit struct {
	Records []domain.LedgerRecord
	Moves   []StockMove
	// Remaining is the quantity still returnable on the sale line after a
	// return commit.
	Remaining int
}

// Snapshot is a consistent read of the catalog and the full ledger.
type Snapshot struct {
	Products []domain.Product
	Records  []domain.LedgerRecord
}

type Repository interface {
	ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string, at time.Time) error
	Restock(ctx context.Context, id string, qty int) (*StockMove, error)

	CommitCheckout(ctx context.Context, cmd CheckoutCommand) (*Commit, error)
	CommitVoid(ctx context.Context, cmd VoidCommand) (*Commit, error)
	CommitReturn(ctx context.Context, cmd ReturnCommand) (*Commit, error)

	TransactionRecords(ctx context.Context, transactionNo string) ([]domain.LedgerRecord, error)
	Snapshot(ctx context.Context) (*Snapshot, error)

	CreatePendingVoid(ctx context.Context, request domain.PendingVoid) (*domain.PendingVoid, error)
	GetPendingVoid(ctx context.Context, id string) (*domain.PendingVoid, error)
	ResolvePendingVoid(ctx context.Context, id string, status string, resolvedBy string, note string, at time.Time) (*domain.PendingVoid, error)
	ListPendingVoids(ctx context.Context, status string, limit int) ([]domain.PendingVoid, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
