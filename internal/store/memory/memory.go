package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// Store keeps the catalog and the ledger in process. Every commit unit runs
// under the write lock, so stock checks and ledger appends never interleave.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	records         []domain.LedgerRecord
	recordByID      map[string]int
	recordsByRef    map[string][]int
	pendingVoids    map[string]domain.PendingVoid
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with the seeded user accounts.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		records:         make([]domain.LedgerRecord, 0, 256),
		recordByID:      make(map[string]int),
		recordsByRef:    make(map[string][]int),
		pendingVoids:    make(map[string]domain.PendingVoid),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prd-mie", Name: "Mie Goreng Instan", Barcode: "8990001000011", PriceCents: 3500, CostCents: 2700, BaseStock: 120},
		{ID: "prd-telur", Name: "Telur 10 Butir", Barcode: "8990001000028", PriceCents: 26500, CostCents: 23000, BaseStock: 40},
		{ID: "prd-susu", Name: "Susu UHT 1L", Barcode: "8990001000035", PriceCents: 18900, CostCents: 13600, BaseStock: 60},
		{ID: "prd-roti", Name: "Roti Tawar", Barcode: "8990001000042", PriceCents: 17800, CostCents: 12400, BaseStock: 25},
		{ID: "prd-kopi", Name: "Kopi Sachet", Barcode: "8990001000059", PriceCents: 2600, CostCents: 1700, BaseStock: 200},
		{ID: "prd-gula", Name: "Gula 1kg", Barcode: "8990001000066", PriceCents: 17400, CostCents: 15300, BaseStock: 8},
		{ID: "prd-air", Name: "Air Mineral 600ml", Barcode: "8990001000073", PriceCents: 3900, CostCents: 3200, BaseStock: 150},
		{ID: "prd-sabun", Name: "Sabun Mandi", Barcode: "8990001000080", PriceCents: 7400, CostCents: 5000, BaseStock: 3},
	}
	for _, p := range products {
		p.Stock = p.BaseStock
		p.Active = true
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, includeDeleted bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeDeleted {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

// CreateProduct inserts a product. A soft-deleted product with the same id or
// barcode is restored in place and keeps its ledger history.
func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.CostCents < 0 || product.BaseStock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	existing, found := s.findProductLocked(product.ID, product.Barcode)
	if found && existing.Active {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, existing.ID)
	}
	if found {
		existing.Name = product.Name
		existing.Barcode = product.Barcode
		existing.PriceCents = product.PriceCents
		existing.CostCents = product.CostCents
		existing.BaseStock += product.BaseStock
		existing.Stock += product.BaseStock
		existing.Active = true
		existing.DeletedAt = nil
		s.products[existing.ID] = existing
		restored := existing
		return &restored, nil
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Stock = product.BaseStock
	product.Active = true
	product.DeletedAt = nil
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) findProductLocked(id string, barcode string) (domain.Product, bool) {
	if id != "" {
		if p, ok := s.products[id]; ok {
			return p, true
		}
	}
	if barcode == "" {
		return domain.Product{}, false
	}
	for _, p := range s.products {
		if p.Barcode == barcode {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (s *Store) DeleteProduct(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists || !product.Active {
		return store.ErrNotFound
	}
	product.Active = false
	product.DeletedAt = &at
	s.products[id] = product
	return nil
}

func (s *Store) Restock(_ context.Context, id string, qty int) (*store.StockMove, error) {
	if qty < 1 {
		return nil, store.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists || !product.Active {
		return nil, store.ErrNotFound
	}
	move := store.StockMove{ProductID: id, ProductName: product.Name, Before: product.Stock}
	product.Stock += qty
	product.BaseStock += qty
	s.products[id] = product
	move.After = product.Stock
	return &move, nil
}

func (s *Store) CommitCheckout(_ context.Context, cmd store.CheckoutCommand) (*store.Commit, error) {
	if cmd.RefID == "" || len(cmd.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.recordsByRef[cmd.RefID]; taken {
		return nil, fmt.Errorf("%w: duplicate ref %s", store.ErrIntegrityViolation, cmd.RefID)
	}

	priced := make([]ledger.PricedLine, 0, len(cmd.Lines))
	var shortages []store.Shortage
	for _, line := range cmd.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidQuantity
		}
		product, exists := s.products[line.ProductID]
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

	records := ledger.SaleRecords(cmd.RefID, cmd.At, priced)
	return s.applyLocked(records), nil
}

func (s *Store) CommitVoid(_ context.Context, cmd store.VoidCommand) (*store.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	related := s.transactionRecordsLocked(cmd.TransactionNo)
	sale, err := ledger.PlanVoid(cmd.TransactionNo, related, cmd.Lines)
	if err != nil {
		return nil, err
	}
	if _, taken := s.recordsByRef[cmd.RefID]; taken {
		return nil, fmt.Errorf("%w: duplicate ref %s", store.ErrIntegrityViolation, cmd.RefID)
	}

	records := ledger.VoidRecords(cmd.RefID, cmd.At, sale, cmd.Reason)
	return s.applyLocked(records), nil
}

func (s *Store) CommitReturn(_ context.Context, cmd store.ReturnCommand) (*store.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var line *domain.LedgerRecord
	var related []domain.LedgerRecord
	if idx, ok := s.recordByID[cmd.SaleLineID]; ok {
		found := s.records[idx]
		line = &found
		related = s.transactionRecordsLocked(found.RefID)
	}
	remaining, err := ledger.PlanReturn(line, related, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	if _, taken := s.recordsByRef[cmd.RefID]; taken {
		return nil, fmt.Errorf("%w: duplicate ref %s", store.ErrIntegrityViolation, cmd.RefID)
	}

	record := ledger.ReturnRecord(cmd.RefID, cmd.At, *line, cmd.Quantity, cmd.Reason)
	commit := s.applyLocked([]domain.LedgerRecord{record})
	commit.Remaining = remaining
	return commit, nil
}

// applyLocked appends records and moves stock by the negated quantities. A
// product that no longer exists in the catalog is skipped for stock but its
// record is still kept.
func (s *Store) applyLocked(records []domain.LedgerRecord) *store.Commit {
	commit := &store.Commit{
		Records: make([]domain.LedgerRecord, 0, len(records)),
		Moves:   make([]store.StockMove, 0, len(records)),
	}
	for _, record := range records {
		if product, ok := s.products[record.ProductID]; ok {
			move := store.StockMove{ProductID: product.ID, ProductName: product.Name, Before: product.Stock}
			product.Stock -= record.Quantity
			s.products[product.ID] = product
			move.After = product.Stock
			commit.Moves = append(commit.Moves, move)
		}

		s.recordByID[record.ID] = len(s.records)
		s.recordsByRef[record.RefID] = append(s.recordsByRef[record.RefID], len(s.records))
		s.records = append(s.records, record)
		commit.Records = append(commit.Records, record)
	}
	return commit
}

// transactionRecordsLocked collects the sale lines of transactionNo, its void
// records and every return against its lines.
func (s *Store) transactionRecordsLocked(transactionNo string) []domain.LedgerRecord {
	related := make([]domain.LedgerRecord, 0, 8)
	saleIDs := make(map[string]bool)
	for _, idx := range s.recordsByRef[transactionNo] {
		record := s.records[idx]
		related = append(related, record)
		saleIDs[record.ID] = true
	}
	if len(related) == 0 {
		return related
	}
	voidRef, _ := ledger.VoidRefFor(transactionNo)
	for _, idx := range s.recordsByRef[voidRef] {
		related = append(related, s.records[idx])
	}
	for _, record := range s.records {
		if record.RefID == voidRef {
			continue
		}
		if record.VoidsRefID == transactionNo || (record.SaleLineID != "" && saleIDs[record.SaleLineID]) {
			related = append(related, record)
		}
	}
	return related
}

func (s *Store) TransactionRecords(_ context.Context, transactionNo string) ([]domain.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	related := s.transactionRecordsLocked(transactionNo)
	ledger.SortRecords(related)
	return related, nil
}

func (s *Store) Snapshot(_ context.Context) (*store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &store.Snapshot{
		Products: make([]domain.Product, 0, len(s.products)),
		Records:  slices.Clone(s.records),
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	slices.SortFunc(snap.Products, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	ledger.SortRecords(snap.Records)
	return snap, nil
}

func (s *Store) CreatePendingVoid(_ context.Context, request domain.PendingVoid) (*domain.PendingVoid, error) {
	if strings.TrimSpace(request.TransactionNo) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pendingVoids {
		if existing.TransactionNo == request.TransactionNo && existing.Status == domain.PendingVoidPending {
			return nil, fmt.Errorf("%w: void request already pending for %s", store.ErrInvalidTransaction, request.TransactionNo)
		}
	}
	if request.ID == "" {
		request.ID = xid.New("vreq")
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.Status = domain.PendingVoidPending
	s.pendingVoids[request.ID] = request
	created := request
	return &created, nil
}

func (s *Store) GetPendingVoid(_ context.Context, id string) (*domain.PendingVoid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.pendingVoids[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &request, nil
}

// ResolvePendingVoid moves a request out of pending. Only pending requests
// can be resolved.
func (s *Store) ResolvePendingVoid(_ context.Context, id string, status string, resolvedBy string, note string, at time.Time) (*domain.PendingVoid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.pendingVoids[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if request.Status != domain.PendingVoidPending {
		return nil, fmt.Errorf("%w: void request is %s", store.ErrInvalidTransaction, request.Status)
	}
	request.Status = status
	request.ResolvedBy = resolvedBy
	request.Note = note
	request.ResolvedAt = &at
	s.pendingVoids[id] = request
	resolved := request
	return &resolved, nil
}

func (s *Store) ListPendingVoids(_ context.Context, status string, limit int) ([]domain.PendingVoid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingVoid, 0, len(s.pendingVoids))
	for _, request := range s.pendingVoids {
		if status != "" && request.Status != status {
			continue
		}
		result = append(result, request)
	}
	slices.SortFunc(result, func(a, b domain.PendingVoid) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
