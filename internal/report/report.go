// Package report reconciles the ledger into financial summaries. It never
// mutates state and returns identical output for identical input.
package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/ledger"
)

type Options struct {
	// Location drives day, week and month boundaries. Defaults to UTC.
	Location *time.Location
	// Costs is a fallback unit cost by product id for records written
	// without a captured cost.
	Costs map[string]int64
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Result holds the totals of one window.
type Result struct {
	Totals    domain.PeriodSummary
	Periods   []domain.PeriodSummary
	Anomalies []domain.Anomaly
}

type bucket struct {
	summary domain.PeriodSummary
	sales   map[string]struct{}
	voids   map[string]struct{}
	returns map[string]struct{}
}

func newBucket(start time.Time, label string) *bucket {
	return &bucket{
		summary: domain.PeriodSummary{Start: start, Label: label},
		sales:   make(map[string]struct{}),
		voids:   make(map[string]struct{}),
		returns: make(map[string]struct{}),
	}
}

func (b *bucket) finish() domain.PeriodSummary {
	s := b.summary
	s.NetSalesCents = s.GrossSalesCents - s.ReturnsCents
	s.GrossProfitCents = s.NetSalesCents - s.COGSCents
	s.Transactions = domain.TransactionCounts{Sales: len(b.sales), Voids: len(b.voids), Returns: len(b.returns)}
	return s
}

// Summarize reconciles records inside window. Voided status is taken from
// every record passed in, so a sale inside the window that was voided after
// it is still excluded.
func Summarize(records []domain.LedgerRecord, window Window, granularity domain.Granularity, opts Options) Result {
	loc := opts.location()
	sorted := slices.Clone(records)
	ledger.SortRecords(sorted)

	var anomalies []domain.Anomaly
	flag := func(code string, record domain.LedgerRecord, detail string) {
		anomalies = append(anomalies, domain.Anomaly{Code: code, RefID: record.RefID, RecordID: record.ID, Detail: detail})
	}

	checkouts := make(map[string]struct{})
	saleLines := make(map[string]domain.LedgerRecord)
	for _, record := range sorted {
		if record.Quantity > 0 && ledger.KindOf(record.RefID) == ledger.KindCheckout {
			checkouts[record.RefID] = struct{}{}
			saleLines[record.ID] = record
		}
	}

	voided := make(map[string]struct{})
	orphans := make(map[string]struct{})
	for _, record := range sorted {
		if ledger.KindOf(record.RefID) != ledger.KindVoid {
			continue
		}
		target := record.VoidsRefID
		if target == "" {
			target, _ = ledger.CheckoutRefFor(record.RefID)
		}
		if _, ok := checkouts[target]; !ok {
			if _, seen := orphans[record.RefID]; !seen {
				orphans[record.RefID] = struct{}{}
				flag(domain.AnomalyOrphanVoid, record, fmt.Sprintf("no checkout %s for void", target))
			}
			continue
		}
		voided[target] = struct{}{}
	}

	// Only lines written without a cost fall back to the catalog.
	unitCost := func(record domain.LedgerRecord) int64 {
		if !record.CostMissing {
			return record.UnitCostCents
		}
		if cost, ok := opts.Costs[record.ProductID]; ok {
			return cost
		}
		flag(domain.AnomalyUnknownCost, record, fmt.Sprintf("no cost for product %s", record.ProductID))
		return 0
	}

	total := newBucket(time.Time{}, "total")
	buckets := make(map[time.Time]*bucket)
	bucketFor := func(t time.Time) *bucket {
		start := bucketStart(t, granularity, loc)
		b, ok := buckets[start]
		if !ok {
			b = newBucket(start, bucketLabel(start, granularity))
			buckets[start] = b
		}
		return b
	}

	for _, record := range sorted {
		if !window.Contains(record.CreatedAt) {
			continue
		}
		kind := ledger.KindOf(record.RefID)
		switch {
		case kind == "":
			flag(domain.AnomalyMalformedRef, record, "unrecognised ref id")

		case record.Quantity > 0 && kind == ledger.KindCheckout:
			if _, ok := voided[record.RefID]; ok {
				continue
			}
			cost := unitCost(record) * int64(record.Quantity)
			for _, b := range []*bucket{total, bucketFor(record.CreatedAt)} {
				b.summary.GrossSalesCents += record.TotalCents
				b.summary.COGSCents += cost
				b.sales[record.RefID] = struct{}{}
			}

		case record.Quantity < 0 && kind == ledger.KindVoid:
			if _, orphan := orphans[record.RefID]; orphan {
				continue
			}
			for _, b := range []*bucket{total, bucketFor(record.CreatedAt)} {
				b.summary.VoidsCents += -record.TotalCents
				b.voids[record.RefID] = struct{}{}
			}

		case record.Quantity < 0 && kind == ledger.KindReturn:
			line, known := saleLines[record.SaleLineID]
			if !known {
				flag(domain.AnomalyReturnUnknown, record, fmt.Sprintf("sale line %q not found", record.SaleLineID))
			} else if _, ok := voided[line.RefID]; ok {
				flag(domain.AnomalyReturnOnVoided, record, fmt.Sprintf("sale %s is voided", line.RefID))
				continue
			}
			cost := unitCost(record) * int64(-record.Quantity)
			for _, b := range []*bucket{total, bucketFor(record.CreatedAt)} {
				b.summary.ReturnsCents += -record.TotalCents
				b.summary.COGSCents -= cost
				b.returns[record.RefID] = struct{}{}
			}

		default:
			flag(domain.AnomalyMalformedRef, record, fmt.Sprintf("%s record with quantity %d", kind, record.Quantity))
		}
	}

	anomalies = append(anomalies, overReturns(sorted, saleLines)...)

	periods := make([]domain.PeriodSummary, 0, len(buckets))
	for _, b := range buckets {
		periods = append(periods, b.finish())
	}
	slices.SortFunc(periods, func(a, b domain.PeriodSummary) int {
		return a.Start.Compare(b.Start)
	})

	return Result{Totals: total.finish(), Periods: periods, Anomalies: anomalies}
}

// overReturns flags sale lines whose returns exceed the quantity sold.
func overReturns(sorted []domain.LedgerRecord, saleLines map[string]domain.LedgerRecord) []domain.Anomaly {
	returned := ledger.ReturnedQty(sorted)
	var out []domain.Anomaly
	for _, record := range sorted {
		line, ok := saleLines[record.ID]
		if !ok || returned[line.ID] <= line.Quantity {
			continue
		}
		out = append(out, domain.Anomaly{
			Code:     domain.AnomalyReturnOverLimit,
			RefID:    line.RefID,
			RecordID: line.ID,
			Detail:   fmt.Sprintf("returned %d of %d", returned[line.ID], line.Quantity),
		})
	}
	return out
}

// GrowthPercent compares current against previous. A previous value of zero
// yields +100 when current is positive, -100 when negative and 0 otherwise.
func GrowthPercent(current int64, previous int64) decimal.Decimal {
	if previous == 0 {
		switch {
		case current > 0:
			return decimal.NewFromInt(100)
		case current < 0:
			return decimal.NewFromInt(-100)
		default:
			return decimal.Zero
		}
	}
	delta := decimal.NewFromInt(current - previous)
	return delta.Div(decimal.NewFromInt(previous).Abs()).Mul(decimal.NewFromInt(100)).Round(2)
}

// MarginPercent is gross profit over net sales, 0 when there are no sales.
func MarginPercent(profit int64, net int64) decimal.Decimal {
	if net == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(profit).Div(decimal.NewFromInt(net)).Mul(decimal.NewFromInt(100)).Round(2)
}

// Build resolves the requested period, reconciles it and compares it with the
// previous period of the same length.
func Build(records []domain.LedgerRecord, req domain.SummaryRequest, now time.Time, opts Options) (domain.Summary, error) {
	period, err := ParsePeriod(string(req.Period))
	if err != nil {
		return domain.Summary{}, err
	}
	granularity, err := ParseGranularity(string(req.Granularity))
	if err != nil {
		return domain.Summary{}, err
	}

	current, previous, comparable := CurrentWindow(period, now, opts.location())
	if !req.From.IsZero() || !req.To.IsZero() {
		if req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To) {
			return domain.Summary{}, fmt.Errorf("%w: from must be before to", ErrInvalidPeriod)
		}
		current = Window{From: req.From, To: req.To}
		previous = PreviousWindow(current)
		comparable = true
	}

	result := Summarize(records, current, granularity, opts)
	totals := result.Totals
	summary := domain.Summary{
		Period:             period,
		Granularity:        granularity,
		GrossSalesCents:    totals.GrossSalesCents,
		ReturnsCents:       totals.ReturnsCents,
		VoidsCents:         totals.VoidsCents,
		NetSalesCents:      totals.NetSalesCents,
		COGSCents:          totals.COGSCents,
		GrossProfitCents:   totals.GrossProfitCents,
		GrossMarginPercent: MarginPercent(totals.GrossProfitCents, totals.NetSalesCents),
		Transactions:       totals.Transactions,
		Periods:            result.Periods,
		Anomalies:          result.Anomalies,
	}
	if current.Bounded() {
		from, to := current.From, current.To
		summary.From, summary.To = &from, &to
	}
	if comparable {
		prior := Summarize(records, previous, granularity, opts).Totals.NetSalesCents
		growth := GrowthPercent(totals.NetSalesCents, prior)
		summary.PreviousNetSalesCents = &prior
		summary.GrowthRatePercent = &growth
	}
	if summary.Anomalies == nil {
		summary.Anomalies = []domain.Anomaly{}
	}
	return summary, nil
}
