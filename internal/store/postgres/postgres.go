package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/xid"
)

//go:embed schema.sql
var schema string

const (
	commitAttempts = 4
	commitBackoff  = 15 * time.Millisecond
)

const productColumns = `id, name, COALESCE(barcode, '') AS barcode, price_cents, cost_cents, stock, base_stock, active, deleted_at`

const recordColumns = `id, product_id, product_name, quantity, unit_price_cents, unit_cost_cents, cost_missing, total_cents,
	ref_id, COALESCE(voids_ref_id, '') AS voids_ref_id, COALESCE(sale_line_id, '') AS sale_line_id, reason, created_at`

const pendingVoidColumns = `id, transaction_no, reason, status, requested_by,
	COALESCE(resolved_by, '') AS resolved_by, COALESCE(note, '') AS note, created_at, resolved_at`

// Store persists the catalog and the ledger in PostgreSQL. Each commit unit
// is one transaction that locks the touched sale lines and product rows in
// id order.
type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return persistence(err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeDeleted {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name, id`

	products := make([]domain.Product, 0, 64)
	if err := s.db.SelectContext(ctx, &products, query); err != nil {
		return nil, persistence(err)
	}
	for i := range products {
		products[i].DeletedAt = utcPtr(products[i].DeletedAt)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	product.DeletedAt = utcPtr(product.DeletedAt)
	return &product, nil
}

// CreateProduct inserts a product. A soft-deleted product with the same id or
// barcode is restored in place and keeps its ledger history.
func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.CostCents < 0 || product.BaseStock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing domain.Product
	err = tx.GetContext(ctx, &existing, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 <> '' AND id = $1) OR ($2 <> '' AND barcode = $2)
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, product.ID, product.Barcode)
	switch {
	case err == nil && existing.Active:
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, existing.ID)
	case err == nil:
		if err := tx.GetContext(ctx, &existing, `
			UPDATE products
			SET name = $2, barcode = $3, price_cents = $4, cost_cents = $5,
				stock = stock + $6, base_stock = base_stock + $6,
				active = true, deleted_at = NULL, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns,
			existing.ID, product.Name, nullIfEmpty(product.Barcode), product.PriceCents, product.CostCents, product.BaseStock,
		); err != nil {
			return nil, persistence(err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if product.ID == "" {
			product.ID = xid.New("prd")
		}
		if err := tx.GetContext(ctx, &existing, `
			INSERT INTO products (id, name, barcode, price_cents, cost_cents, stock, base_stock, active)
			VALUES ($1, $2, $3, $4, $5, $6, $6, true)
			RETURNING `+productColumns,
			product.ID, product.Name, nullIfEmpty(product.Barcode), product.PriceCents, product.CostCents, product.BaseStock,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, product.ID)
			}
			return nil, persistence(err)
		}
	default:
		return nil, persistence(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	return &existing, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET active = false, deleted_at = $2, updated_at = now()
		WHERE id = $1 AND active = true
	`, id, at)
	if err != nil {
		return persistence(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Restock(ctx context.Context, id string, qty int) (*store.StockMove, error) {
	if qty < 1 {
		return nil, store.ErrInvalidQuantity
	}

	var row struct {
		Name  string `db:"name"`
		Stock int    `db:"stock"`
	}
	err := s.db.GetContext(ctx, &row, `
		UPDATE products
		SET stock = stock + $2, base_stock = base_stock + $2, updated_at = now()
		WHERE id = $1 AND active = true
		RETURNING name, stock
	`, id, qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	return &store.StockMove{ProductID: id, ProductName: row.Name, Before: row.Stock - qty, After: row.Stock}, nil
}

func (s *Store) CommitCheckout(ctx context.Context, cmd store.CheckoutCommand) (*store.Commit, error) {
	if cmd.RefID == "" || len(cmd.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	for _, line := range cmd.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidQuantity
		}
	}

	return s.commitUnit(ctx, func(tx *sqlx.Tx) (*store.Commit, error) {
		return checkoutTx(ctx, tx, cmd)
	})
}

func checkoutTx(ctx context.Context, tx *sqlx.Tx, cmd store.CheckoutCommand) (*store.Commit, error) {
	if err := ensureRefFree(ctx, tx, cmd.RefID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		ids = append(ids, line.ProductID)
	}
	locked, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	priced := make([]ledger.PricedLine, 0, len(cmd.Lines))
	var shortages []store.Shortage
	for _, line := range cmd.Lines {
		product, exists := locked[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if product.Stock < line.Qty {
			shortages = append(shortages, store.Shortage{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   line.Qty,
				Available:   product.Stock,
			})
			continue
		}
		priced = append(priced, ledger.PricedLine{Product: product, Qty: line.Qty})
	}
	if len(shortages) > 0 {
		return nil, &store.InsufficientStockError{Shortages: shortages}
	}

	return applyRecords(ctx, tx, locked, ledger.SaleRecords(cmd.RefID, cmd.At, priced))
}

func (s *Store) CommitVoid(ctx context.Context, cmd store.VoidCommand) (*store.Commit, error) {
	return s.commitUnit(ctx, func(tx *sqlx.Tx) (*store.Commit, error) {
		return voidTx(ctx, tx, cmd)
	})
}

func voidTx(ctx context.Context, tx *sqlx.Tx, cmd store.VoidCommand) (*store.Commit, error) {
	related, err := lockedTransactionRecords(ctx, tx, cmd.TransactionNo)
	if err != nil {
		return nil, err
	}
	sale, err := ledger.PlanVoid(cmd.TransactionNo, related, cmd.Lines)
	if err != nil {
		return nil, err
	}
	if err := ensureRefFree(ctx, tx, cmd.RefID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sale))
	for _, line := range sale {
		ids = append(ids, line.ProductID)
	}
	locked, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	return applyRecords(ctx, tx, locked, ledger.VoidRecords(cmd.RefID, cmd.At, sale, cmd.Reason))
}

func (s *Store) CommitReturn(ctx context.Context, cmd store.ReturnCommand) (*store.Commit, error) {
	return s.commitUnit(ctx, func(tx *sqlx.Tx) (*store.Commit, error) {
		return returnTx(ctx, tx, cmd)
	})
}

func returnTx(ctx context.Context, tx *sqlx.Tx, cmd store.ReturnCommand) (*store.Commit, error) {
	var line *domain.LedgerRecord
	var related []domain.LedgerRecord
	var found domain.LedgerRecord
	err := tx.GetContext(ctx, &found, `SELECT `+recordColumns+` FROM ledger_records WHERE id = $1`, cmd.SaleLineID)
	switch {
	case err == nil:
		found.CreatedAt = found.CreatedAt.UTC()
		line = &found
		related, err = lockedTransactionRecords(ctx, tx, found.RefID)
		if err != nil {
			return nil, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, persistence(err)
	}

	remaining, err := ledger.PlanReturn(line, related, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	if err := ensureRefFree(ctx, tx, cmd.RefID); err != nil {
		return nil, err
	}
	locked, err := lockProducts(ctx, tx, []string{line.ProductID})
	if err != nil {
		return nil, err
	}

	record := ledger.ReturnRecord(cmd.RefID, cmd.At, *line, cmd.Quantity, cmd.Reason)
	commit, err := applyRecords(ctx, tx, locked, []domain.LedgerRecord{record})
	if err != nil {
		return nil, err
	}
	commit.Remaining = remaining
	return commit, nil
}

// commitUnit runs fn in one READ COMMITTED transaction and reruns it when
// Postgres aborts it on a serialization failure, a deadlock or a key
// inserted by a concurrent commit. Row locks taken by fn order competing
// units; each statement after a lock wait sees what the winner committed.
func (s *Store) commitUnit(ctx context.Context, fn func(tx *sqlx.Tx) (*store.Commit, error)) (*store.Commit, error) {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		var commit *store.Commit
		commit, err = s.commitOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return commit, err
		}
		select {
		case <-ctx.Done():
			return nil, persistence(ctx.Err())
		case <-time.After(time.Duration(attempt) * commitBackoff):
		}
	}
	return nil, err
}

func (s *Store) commitOnce(ctx context.Context, fn func(tx *sqlx.Tx) (*store.Commit, error)) (*store.Commit, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	commit, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence(err)
	}
	return commit, nil
}

func ensureRefFree(ctx context.Context, tx *sqlx.Tx, refID string) error {
	var taken bool
	if err := tx.GetContext(ctx, &taken, `SELECT EXISTS (SELECT 1 FROM ledger_records WHERE ref_id = $1)`, refID); err != nil {
		return persistence(err)
	}
	if taken {
		return fmt.Errorf("%w: duplicate ref %s", store.ErrIntegrityViolation, refID)
	}
	return nil
}

// lockProducts takes row locks in id order so concurrent commits touching
// overlapping carts queue instead of deadlocking.
func lockProducts(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]domain.Product, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	rows := make([]domain.Product, 0, len(ids))
	if err := tx.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids); err != nil {
		return nil, persistence(err)
	}

	locked := make(map[string]domain.Product, len(rows))
	for _, p := range rows {
		locked[p.ID] = p
	}
	return locked, nil
}

// applyRecords inserts the records and moves stock by their negated
// quantities inside the caller's transaction.
func applyRecords(ctx context.Context, tx *sqlx.Tx, locked map[string]domain.Product, records []domain.LedgerRecord) (*store.Commit, error) {
	commit := &store.Commit{
		Records: make([]domain.LedgerRecord, 0, len(records)),
		Moves:   make([]store.StockMove, 0, len(records)),
	}
	for _, record := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_records (
				id, product_id, product_name, quantity, unit_price_cents, unit_cost_cents,
				cost_missing, total_cents, ref_id, voids_ref_id, sale_line_id, reason, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			record.ID, record.ProductID, record.ProductName, record.Quantity, record.UnitPriceCents, record.UnitCostCents,
			record.CostMissing, record.TotalCents, record.RefID, nullIfEmpty(record.VoidsRefID), nullIfEmpty(record.SaleLineID), record.Reason, record.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: duplicate record for %s/%s: %w", store.ErrIntegrityViolation, record.RefID, record.ProductID, err)
			}
			return nil, persistence(err)
		}

		product, ok := locked[record.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s not locked", store.ErrIntegrityViolation, record.ProductID)
		}
		var after int
		if err := tx.GetContext(ctx, &after, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
			RETURNING stock
		`, record.ProductID, record.Quantity); err != nil {
			return nil, persistence(err)
		}
		commit.Moves = append(commit.Moves, store.StockMove{
			ProductID:   product.ID,
			ProductName: product.Name,
			Before:      product.Stock,
			After:       after,
		})
		product.Stock = after
		locked[product.ID] = product
		commit.Records = append(commit.Records, record)
	}
	return commit, nil
}

// lockedTransactionRecords locks the sale lines of transactionNo and returns
// them together with its void records and every return against them.
func lockedTransactionRecords(ctx context.Context, tx *sqlx.Tx, transactionNo string) ([]domain.LedgerRecord, error) {
	var saleIDs []string
	if err := tx.SelectContext(ctx, &saleIDs, `
		SELECT id FROM ledger_records WHERE ref_id = $1 ORDER BY id FOR UPDATE
	`, transactionNo); err != nil {
		return nil, persistence(err)
	}
	if len(saleIDs) == 0 {
		return []domain.LedgerRecord{}, nil
	}
	return transactionRecords(ctx, tx, transactionNo)
}

func transactionRecords(ctx context.Context, q sqlx.QueryerContext, transactionNo string) ([]domain.LedgerRecord, error) {
	voidRef, _ := ledger.VoidRefFor(transactionNo)
	records := make([]domain.LedgerRecord, 0, 8)
	if err := sqlx.SelectContext(ctx, q, &records, `
		SELECT `+recordColumns+`
		FROM ledger_records
		WHERE ref_id = $1
			OR ($2 <> '' AND ref_id = $2)
			OR voids_ref_id = $1
			OR sale_line_id IN (SELECT id FROM ledger_records WHERE ref_id = $1)
	`, transactionNo, voidRef); err != nil {
		return nil, persistence(err)
	}

	hasSale := false
	for i := range records {
		records[i].CreatedAt = records[i].CreatedAt.UTC()
		if records[i].RefID == transactionNo {
			hasSale = true
		}
	}
	if !hasSale {
		return []domain.LedgerRecord{}, nil
	}
	ledger.SortRecords(records)
	return records, nil
}

func listRecords(ctx context.Context, tx *sqlx.Tx) ([]domain.LedgerRecord, error) {
	records := make([]domain.LedgerRecord, 0, 256)
	if err := tx.SelectContext(ctx, &records, `
		SELECT `+recordColumns+`
		FROM ledger_records
		ORDER BY created_at, ref_id, id
	`); err != nil {
		return nil, persistence(err)
	}
	for i := range records {
		records[i].CreatedAt = records[i].CreatedAt.UTC()
	}
	ledger.SortRecords(records)
	return records, nil
}

func (s *Store) TransactionRecords(ctx context.Context, transactionNo string) ([]domain.LedgerRecord, error) {
	return transactionRecords(ctx, s.db, transactionNo)
}

// Snapshot reads the catalog and the ledger from one REPEATABLE READ
// transaction so both sides agree.
func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &store.Snapshot{Products: make([]domain.Product, 0, 64)}
	if err := tx.SelectContext(ctx, &snap.Products, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
		return nil, persistence(err)
	}
	for i := range snap.Products {
		snap.Products[i].DeletedAt = utcPtr(snap.Products[i].DeletedAt)
	}
	snap.Records, err = listRecords(ctx, tx)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) CreatePendingVoid(ctx context.Context, request domain.PendingVoid) (*domain.PendingVoid, error) {
	if strings.TrimSpace(request.TransactionNo) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if request.ID == "" {
		request.ID = xid.New("vreq")
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.Status = domain.PendingVoidPending

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pending_voids (id, transaction_no, reason, status, requested_by, created_at)
		VALUES (:id, :transaction_no, :reason, :status, :requested_by, :created_at)
	`, request)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: void request already pending for %s", store.ErrInvalidTransaction, request.TransactionNo)
		}
		return nil, persistence(err)
	}
	return &request, nil
}

func (s *Store) GetPendingVoid(ctx context.Context, id string) (*domain.PendingVoid, error) {
	var request domain.PendingVoid
	err := s.db.GetContext(ctx, &request, `SELECT `+pendingVoidColumns+` FROM pending_voids WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, persistence(err)
	}
	normalizePendingVoid(&request)
	return &request, nil
}

// ResolvePendingVoid moves a request out of pending. Only pending requests
// can be resolved.
func (s *Store) ResolvePendingVoid(ctx context.Context, id string, status string, resolvedBy string, note string, at time.Time) (*domain.PendingVoid, error) {
	var request domain.PendingVoid
	err := s.db.GetContext(ctx, &request, `
		UPDATE pending_voids
		SET status = $2, resolved_by = $3, note = $4, resolved_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+pendingVoidColumns,
		id, status, resolvedBy, nullIfEmpty(note), at,
	)
	if err == nil {
		normalizePendingVoid(&request)
		return &request, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence(err)
	}

	current, getErr := s.GetPendingVoid(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: void request is %s", store.ErrInvalidTransaction, current.Status)
}

func (s *Store) ListPendingVoids(ctx context.Context, status string, limit int) ([]domain.PendingVoid, error) {
	if limit < 1 {
		limit = 100
	}
	result := make([]domain.PendingVoid, 0, 16)
	if err := s.db.SelectContext(ctx, &result, `
		SELECT `+pendingVoidColumns+`
		FROM pending_voids
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, status, limit); err != nil {
		return nil, persistence(err)
	}
	for i := range result {
		normalizePendingVoid(&result[i])
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	if err != nil {
		return persistence(err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	logs := make([]domain.AuditLog, 0, 64)
	if err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit); err != nil {
		return nil, persistence(err)
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

// CreateUser inserts an account. It is used to bootstrap the first admin on
// an empty database.
func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, active, created_at, updated_at)
		VALUES (:username, :password_hash, :role, :active, :created_at, now())
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return persistence(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`); err != nil {
		return nil, persistence(err)
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return persistence(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// persistence wraps a driver failure so callers can match ErrPersistence
// while the cause stays inspectable.
func persistence(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: concurrent update, retry: %w", store.ErrPersistence, err)
	}
	return fmt.Errorf("%w: %w", store.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryable(err error) bool {
	return isSerializationFailure(err) || isUniqueViolation(err)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func normalizePendingVoid(request *domain.PendingVoid) {
	request.CreatedAt = request.CreatedAt.UTC()
	request.ResolvedAt = utcPtr(request.ResolvedAt)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
