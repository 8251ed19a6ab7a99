package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"posledger/internal/store"
)

func TestRetryableErrors(t *testing.T) {
	conflict := persistence(&pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"})
	if !isRetryable(conflict) || !errors.Is(conflict, store.ErrPersistence) {
		t.Fatalf("expected serialization failure to be retryable persistence error, got %v", conflict)
	}
	if !isRetryable(persistence(&pgconn.PgError{Code: "40P01"})) {
		t.Fatalf("expected deadlock to be retryable")
	}

	duplicate := fmt.Errorf("%w: duplicate record: %w", store.ErrIntegrityViolation, &pgconn.PgError{Code: "23505"})
	if !isRetryable(duplicate) || !errors.Is(duplicate, store.ErrIntegrityViolation) {
		t.Fatalf("expected concurrent duplicate key to be retryable, got %v", duplicate)
	}

	for _, err := range []error{
		store.ErrAlreadyVoided,
		&store.InsufficientStockError{Shortages: []store.Shortage{{ProductID: "prd-a"}}},
		persistence(&pgconn.PgError{Code: "23503"}),
		fmt.Errorf("%w: duplicate ref", store.ErrIntegrityViolation),
	} {
		if isRetryable(err) {
			t.Fatalf("expected %v not to be retried", err)
		}
	}
}
