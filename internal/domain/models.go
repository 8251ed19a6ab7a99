package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockAvailable  StockStatus = "available"
	StockLow        StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
)

// ClassifyStock derives the status of an on-hand quantity. It is recomputed on
// every read and never persisted.
func ClassifyStock(stock int, lowThreshold int) StockStatus {
	switch {
	case stock <= 0:
		return StockOutOfStock
	case stock <= lowThreshold:
		return StockLow
	default:
		return StockAvailable
	}
}

type Product struct {
	ID         string      `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	Barcode    string      `json:"barcode" db:"barcode"`
	PriceCents int64       `json:"price_cents" db:"price_cents"`
	CostCents  int64       `json:"cost_cents" db:"cost_cents"`
	Stock      int         `json:"stock" db:"stock"`
	BaseStock  int         `json:"base_stock" db:"base_stock"`
	Active     bool        `json:"active" db:"active"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
	Status     StockStatus `json:"status" db:"-"`
}

type ProductCreateRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Barcode      string `json:"barcode"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

type StockLevel struct {
	ProductID string      `json:"product_id"`
	Stock     int         `json:"stock"`
	Status    StockStatus `json:"status"`
	Cached    bool        `json:"cached"`
}

// LineItem is one product line of a cart or of a void request.
type LineItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// LedgerRecord is one immutable ledger line. Quantity and TotalCents are
// positive for sales and negative for voids and returns. CostMissing marks a
// line whose unit cost was not captured when it was written; a captured cost
// of zero is a real cost.
type LedgerRecord struct {
	ID             string    `json:"id" db:"id"`
	ProductID      string    `json:"product_id" db:"product_id"`
	ProductName    string    `json:"product_name" db:"product_name"`
	Quantity       int       `json:"quantity" db:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents" db:"unit_price_cents"`
	UnitCostCents  int64     `json:"unit_cost_cents" db:"unit_cost_cents"`
	CostMissing    bool      `json:"cost_missing,omitempty" db:"cost_missing"`
	TotalCents     int64     `json:"total_cents" db:"total_cents"`
	RefID          string    `json:"ref_id" db:"ref_id"`
	VoidsRefID     string    `json:"voids_ref_id,omitempty" db:"voids_ref_id"`
	SaleLineID     string    `json:"sale_line_id,omitempty" db:"sale_line_id"`
	Reason         string    `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// StockChange describes the effect of one committed event on a product.
// CrossedThreshold is empty when the status did not change.
type StockChange struct {
	ProductID        string      `json:"product_id"`
	ProductName      string      `json:"product_name"`
	PreviousStock    int         `json:"previous_stock"`
	NewStock         int         `json:"new_stock"`
	Status           StockStatus `json:"status"`
	CrossedThreshold StockStatus `json:"crossed_threshold,omitempty"`
}

type StockAlert struct {
	StockChange
	RefID string    `json:"ref_id"`
	At    time.Time `json:"at"`
}

type CheckoutRequest struct {
	Items []LineItem `json:"items"`
}

type CheckoutResponse struct {
	TransactionNo string         `json:"transaction_no"`
	Lines         []LedgerRecord `json:"lines"`
	ItemCount     int            `json:"item_count"`
	TotalCents    int64          `json:"total_cents"`
	Summary       []StockChange  `json:"summary"`
	CreatedAt     string         `json:"created_at"`
}

type VoidRequest struct {
	TransactionNo string     `json:"transaction_no"`
	Lines         []LineItem `json:"lines,omitempty"`
	Reason        string     `json:"reason"`
	ManagerPIN    string     `json:"manager_pin,omitempty"`
}

type VoidResponse struct {
	TransactionNo string         `json:"transaction_no"`
	VoidRefID     string         `json:"void_ref_id"`
	Lines         []LedgerRecord `json:"lines"`
	AmountCents   int64          `json:"amount_cents"`
	Summary       []StockChange  `json:"summary"`
	VoidedAt      string         `json:"voided_at"`
}

type ReturnRequest struct {
	SaleLineID string `json:"sale_line_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type ReturnResponse struct {
	RefID             string        `json:"ref_id"`
	SaleLineID        string        `json:"sale_line_id"`
	ProductID         string        `json:"product_id"`
	Quantity          int           `json:"quantity"`
	RefundAmountCents int64         `json:"refund_amount_cents"`
	RemainingQty      int           `json:"remaining_qty"`
	Record            LedgerRecord  `json:"record"`
	Summary           []StockChange `json:"summary"`
}

type TransactionLineView struct {
	LedgerRecord
	ReturnedQty  int `json:"returned_qty"`
	RemainingQty int `json:"remaining_qty"`
}

type TransactionView struct {
	TransactionNo string                `json:"transaction_no"`
	CreatedAt     time.Time             `json:"created_at"`
	Voided        bool                  `json:"voided"`
	VoidRefID     string                `json:"void_ref_id,omitempty"`
	TotalCents    int64                 `json:"total_cents"`
	Lines         []TransactionLineView `json:"lines"`
}

type PendingVoid struct {
	ID            string     `json:"id" db:"id"`
	TransactionNo string     `json:"transaction_no" db:"transaction_no"`
	Reason        string     `json:"reason" db:"reason"`
	Status        string     `json:"status" db:"status"`
	RequestedBy   string     `json:"requested_by" db:"requested_by"`
	ResolvedBy    string     `json:"resolved_by,omitempty" db:"resolved_by"`
	Note          string     `json:"note,omitempty" db:"note"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

type VoidRequestCreate struct {
	TransactionNo string `json:"transaction_no"`
	Reason        string `json:"reason"`
}

type VoidRequestResolve struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

const (
	PendingVoidPending   = "pending"
	PendingVoidApproved  = "approved"
	PendingVoidRejected  = "rejected"
	PendingVoidCancelled = "cancelled"
	// PendingVoidSuperseded closes a request whose transaction was voided
	// by another path before approval.
	PendingVoidSuperseded = "superseded"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAll     Period = "all"
)

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

type SummaryRequest struct {
	Period      Period      `json:"period"`
	Granularity Granularity `json:"granularity"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
}

type TransactionCounts struct {
	Sales   int `json:"sales"`
	Voids   int `json:"voids"`
	Returns int `json:"returns"`
}

type PeriodSummary struct {
	Start            time.Time         `json:"start"`
	Label            string            `json:"label"`
	GrossSalesCents  int64             `json:"gross_sales_cents"`
	ReturnsCents     int64             `json:"returns_cents"`
	VoidsCents       int64             `json:"voids_cents"`
	NetSalesCents    int64             `json:"net_sales_cents"`
	COGSCents        int64             `json:"cogs_cents"`
	GrossProfitCents int64             `json:"gross_profit_cents"`
	Transactions     TransactionCounts `json:"transactions"`
}

// Anomaly is a data problem found while reconciling. Reports keep working and
// list anomalies instead of failing.
type Anomaly struct {
	Code     string `json:"code"`
	RefID    string `json:"ref_id"`
	RecordID string `json:"record_id,omitempty"`
	Detail   string `json:"detail"`
}

const (
	AnomalyOrphanVoid      = "orphan_void"
	AnomalyReturnOnVoided  = "return_on_voided_sale"
	AnomalyReturnUnknown   = "return_unknown_sale"
	AnomalyUnknownCost     = "unknown_cost"
	AnomalyMalformedRef    = "malformed_ref"
	AnomalyReturnOverLimit = "return_over_limit"
)

type Summary struct {
	Period                Period            `json:"period"`
	Granularity           Granularity       `json:"granularity"`
	From                  *time.Time        `json:"from,omitempty"`
	To                    *time.Time        `json:"to,omitempty"`
	GrossSalesCents       int64             `json:"gross_sales_cents"`
	ReturnsCents          int64             `json:"returns_cents"`
	VoidsCents            int64             `json:"voids_cents"`
	NetSalesCents         int64             `json:"net_sales_cents"`
	COGSCents             int64             `json:"cogs_cents"`
	GrossProfitCents      int64             `json:"gross_profit_cents"`
	GrossMarginPercent    decimal.Decimal   `json:"gross_margin_percent"`
	PreviousNetSalesCents *int64            `json:"previous_net_sales_cents,omitempty"`
	GrowthRatePercent     *decimal.Decimal  `json:"growth_rate_percent,omitempty"`
	Transactions          TransactionCounts `json:"transactions"`
	Periods               []PeriodSummary   `json:"periods"`
	Anomalies             []Anomaly         `json:"anomalies"`
}

type StockDrift struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Stock         int    `json:"stock"`
	ExpectedStock int    `json:"expected_stock"`
	Delta         int    `json:"delta"`
}

type StockDriftReport struct {
	CheckedAt string       `json:"checked_at"`
	Products  int          `json:"products"`
	Drifts    []StockDrift `json:"drifts"`
}

type Dashboard struct {
	Summary      Summary       `json:"summary"`
	LowStock     []Product     `json:"low_stock"`
	PendingVoids []PendingVoid `json:"pending_voids"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
