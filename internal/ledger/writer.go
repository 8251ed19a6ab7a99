package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// PricedLine is a validated cart line joined with the product it sells.
type PricedLine struct {
	Product domain.Product
	Qty     int
}

// SaleRecords builds one record per line, all sharing refID and at.
func SaleRecords(refID string, at time.Time, lines []PricedLine) []domain.LedgerRecord {
	records := make([]domain.LedgerRecord, 0, len(lines))
	for _, line := range lines {
		records = append(records, domain.LedgerRecord{
			ID:             xid.New("led"),
			ProductID:      line.Product.ID,
			ProductName:    line.Product.Name,
			Quantity:       line.Qty,
			UnitPriceCents: line.Product.PriceCents,
			UnitCostCents:  line.Product.CostCents,
			TotalCents:     int64(line.Qty) * line.Product.PriceCents,
			RefID:          refID,
			CreatedAt:      at,
		})
	}
	return records
}

// VoidRecords mirrors every sale line with a negated record.
func VoidRecords(refID string, at time.Time, sale []domain.LedgerRecord, reason string) []domain.LedgerRecord {
	records := make([]domain.LedgerRecord, 0, len(sale))
	for _, line := range sale {
		records = append(records, domain.LedgerRecord{
			ID:             xid.New("led"),
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       -line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			UnitCostCents:  line.UnitCostCents,
			CostMissing:    line.CostMissing,
			TotalCents:     -line.TotalCents,
			RefID:          refID,
			VoidsRefID:     line.RefID,
			Reason:         reason,
			CreatedAt:      at,
		})
	}
	return records
}

// ReturnRecord refunds qty units of a sale line at its original price.
func ReturnRecord(refID string, at time.Time, line domain.LedgerRecord, qty int, reason string) domain.LedgerRecord {
	return domain.LedgerRecord{
		ID:             xid.New("led"),
		ProductID:      line.ProductID,
		ProductName:    line.ProductName,
		Quantity:       -qty,
		UnitPriceCents: line.UnitPriceCents,
		UnitCostCents:  line.UnitCostCents,
		CostMissing:    line.CostMissing,
		TotalCents:     -int64(qty) * line.UnitPriceCents,
		RefID:          refID,
		SaleLineID:     line.ID,
		Reason:         reason,
		CreatedAt:      at,
	}
}

// SaleLines returns the positive lines of a checkout.
func SaleLines(transactionNo string, related []domain.LedgerRecord) []domain.LedgerRecord {
	lines := make([]domain.LedgerRecord, 0, len(related))
	for _, record := range related {
		if record.RefID == transactionNo && record.Quantity > 0 {
			lines = append(lines, record)
		}
	}
	return lines
}

// IsVoided reports whether related holds a void of transactionNo, either by
// explicit reference or by the correlated void ref id.
func IsVoided(transactionNo string, related []domain.LedgerRecord) (string, bool) {
	voidRef, _ := VoidRefFor(transactionNo)
	for _, record := range related {
		if record.VoidsRefID == transactionNo || (voidRef != "" && record.RefID == voidRef) {
			return record.RefID, true
		}
	}
	return "", false
}

// ReturnedQty sums returned units per sale line id.
func ReturnedQty(related []domain.LedgerRecord) map[string]int {
	returned := make(map[string]int)
	for _, record := range related {
		if record.SaleLineID == "" {
			continue
		}
		returned[record.SaleLineID] += -record.Quantity
	}
	return returned
}

// PlanVoid validates a void of transactionNo against every record related to
// it and returns the sale lines to reverse. An empty request voids all lines;
// otherwise the request must match the sale exactly.
func PlanVoid(transactionNo string, related []domain.LedgerRecord, requested []domain.LineItem) ([]domain.LedgerRecord, error) {
	if KindOf(transactionNo) != KindCheckout {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTransaction, transactionNo)
	}
	sale := SaleLines(transactionNo, related)
	if len(sale) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTransaction, transactionNo)
	}
	if _, voided := IsVoided(transactionNo, related); voided {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyVoided, transactionNo)
	}
	returned := ReturnedQty(related)
	for _, line := range sale {
		if returned[line.ID] > 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrReturnConflict, transactionNo)
		}
	}
	if len(requested) == 0 {
		return sale, nil
	}

	want := make(map[string]int, len(requested))
	for _, item := range requested {
		want[item.ProductID] += item.Qty
	}
	have := make(map[string]int, len(sale))
	for _, line := range sale {
		have[line.ProductID] += line.Quantity
	}
	if len(want) != len(have) {
		return nil, fmt.Errorf("%w: void lines must match the sale", store.ErrInvalidQuantity)
	}
	for productID, qty := range have {
		if want[productID] != qty {
			return nil, fmt.Errorf("%w: void lines must match the sale", store.ErrInvalidQuantity)
		}
	}
	return sale, nil
}

// PlanReturn validates returning qty units of line and returns the quantity
// left returnable afterwards. line is nil when the sale line does not exist.
func PlanReturn(line *domain.LedgerRecord, related []domain.LedgerRecord, qty int) (int, error) {
	if qty < 1 {
		return 0, fmt.Errorf("%w: return quantity must be at least 1", store.ErrInvalidQuantity)
	}
	if line == nil || line.Quantity <= 0 || KindOf(line.RefID) != KindCheckout {
		return 0, store.ErrUnknownTransaction
	}
	if _, voided := IsVoided(line.RefID, related); voided {
		return 0, fmt.Errorf("%w: %s", store.ErrAlreadyVoided, line.RefID)
	}
	remaining := line.Quantity - ReturnedQty(related)[line.ID]
	if remaining <= 0 {
		return 0, store.ErrAlreadyFullyReturned
	}
	if qty > remaining {
		return 0, fmt.Errorf("%w: only %d left to return", store.ErrInvalidQuantity, remaining)
	}
	return remaining - qty, nil
}

// SortRecords orders records by creation time then ref id then id.
func SortRecords(records []domain.LedgerRecord) {
	slices.SortStableFunc(records, func(a, b domain.LedgerRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.RefID, b.RefID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
