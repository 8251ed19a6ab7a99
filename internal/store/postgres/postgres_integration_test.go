package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedProduct(t *testing.T, s *Store, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	id := fmt.Sprintf("prd-it-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		ID:         id,
		Name:       "Produk IT",
		PriceCents: 6000,
		CostCents:  4000,
		BaseStock:  stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ledger_records WHERE product_id = $1 AND sale_line_id IS NOT NULL`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ledger_records WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	})
	return *product
}

func TestCheckoutVoidRestocksInventory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 10)

	at := time.Now().UTC().Truncate(time.Millisecond)
	checkoutRef := ledger.FormatRef(ledger.KindCheckout, at)
	sale, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		RefID: checkoutRef,
		At:    at,
		Lines: []domain.LineItem{{ProductID: product.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if sale.Moves[0].Before != 10 || sale.Moves[0].After != 8 {
		t.Fatalf("unexpected checkout move %+v", sale.Moves[0])
	}

	voidRef, _ := ledger.VoidRefFor(checkoutRef)
	if _, err := s.CommitVoid(ctx, store.VoidCommand{
		TransactionNo: checkoutRef,
		RefID:         voidRef,
		At:            at.Add(time.Second),
		Reason:        "integration test void",
	}); err != nil {
		t.Fatalf("void: %v", err)
	}

	current, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if current.Stock != 10 {
		t.Fatalf("expected stock 10 after void, got %d", current.Stock)
	}

	_, err = s.CommitVoid(ctx, store.VoidCommand{TransactionNo: checkoutRef, RefID: voidRef, At: at.Add(2 * time.Second)})
	if !errors.Is(err, store.ErrAlreadyVoided) {
		t.Fatalf("expected second void to be rejected, got %v", err)
	}
}

func TestCheckoutRejectsOverdrawAndReturnsBounded(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 3)

	at := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		RefID: ledger.FormatRef(ledger.KindCheckout, at),
		At:    at,
		Lines: []domain.LineItem{{ProductID: product.ID, Qty: 4}},
	})
	var shortage *store.InsufficientStockError
	if !errors.As(err, &shortage) || shortage.Shortages[0].Available != 3 {
		t.Fatalf("expected insufficient stock with available 3, got %v", err)
	}

	at = at.Add(time.Millisecond)
	sale, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		RefID: ledger.FormatRef(ledger.KindCheckout, at),
		At:    at,
		Lines: []domain.LineItem{{ProductID: product.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	returnAt := at.Add(time.Second)
	ret, err := s.CommitReturn(ctx, store.ReturnCommand{
		SaleLineID: sale.Records[0].ID,
		Quantity:   2,
		RefID:      ledger.FormatRef(ledger.KindReturn, returnAt),
		At:         returnAt,
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if ret.Remaining != 1 || ret.Moves[0].After != 2 {
		t.Fatalf("unexpected return commit %+v", ret)
	}

	returnAt = returnAt.Add(time.Millisecond)
	_, err = s.CommitReturn(ctx, store.ReturnCommand{
		SaleLineID: sale.Records[0].ID,
		Quantity:   2,
		RefID:      ledger.FormatRef(ledger.KindReturn, returnAt),
		At:         returnAt,
	})
	if !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected over-return to be rejected, got %v", err)
	}

	related, err := s.TransactionRecords(ctx, sale.Records[0].RefID)
	if err != nil {
		t.Fatalf("transaction records: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("expected sale line and return, got %d records", len(related))
	}
}

func TestConcurrentCheckoutsNeverOverdraw(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 10)

	base := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	var succeeded, short atomic.Int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		at := base.Add(time.Duration(i) * time.Millisecond)
		g.Go(func() error {
			_, err := s.CommitCheckout(ctx, store.CheckoutCommand{
				RefID: ledger.FormatRef(ledger.KindCheckout, at),
				At:    at,
				Lines: []domain.LineItem{{ProductID: product.ID, Qty: 1}},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, store.ErrInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected checkout error: %v", err)
	}
	if succeeded.Load() != 10 || short.Load() != 15 {
		t.Fatalf("expected 10 successes and 15 shortages, got %d/%d", succeeded.Load(), short.Load())
	}

	current, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if current.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", current.Stock)
	}
}

func TestConcurrentVoidsApplyOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 10)

	at := time.Now().UTC().Add(2 * time.Minute).Truncate(time.Millisecond)
	checkoutRef := ledger.FormatRef(ledger.KindCheckout, at)
	if _, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		RefID: checkoutRef,
		At:    at,
		Lines: []domain.LineItem{{ProductID: product.ID, Qty: 4}},
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	voidRef, _ := ledger.VoidRefFor(checkoutRef)

	var applied, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := s.CommitVoid(ctx, store.VoidCommand{TransactionNo: checkoutRef, RefID: voidRef, At: at.Add(time.Second)})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, store.ErrAlreadyVoided):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected void error: %v", err)
	}
	if applied.Load() != 1 || rejected.Load() != 5 {
		t.Fatalf("expected one void and 5 rejections, got %d/%d", applied.Load(), rejected.Load())
	}

	current, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if current.Stock != 10 {
		t.Fatalf("expected stock 10 after one void, got %d", current.Stock)
	}
}
