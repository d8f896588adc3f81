package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
	"github.com/iamapinan/farmaroi-stock/internal/store"
	"github.com/iamapinan/farmaroi-stock/internal/xid"
)

// Store is an in-memory Repository used by tests and DATABASE_URL-less dev
// runs. All methods are safe for concurrent use.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	branches         map[string]domain.Branch
	thresholds       map[string]float64           // branchID_productID -> minStock
	stockLevels      map[string]domain.StockLevel // branchID_productID
	checksByID       map[string]domain.DailyCheck
	transactionsByID map[string]domain.StockTransaction
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		branches:         make(map[string]domain.Branch),
		thresholds:       make(map[string]float64),
		stockLevels:      make(map[string]domain.StockLevel),
		checksByID:       make(map[string]domain.DailyCheck),
		transactionsByID: make(map[string]domain.StockTransaction),
	}
}

// NewSeeded returns a store pre-loaded with a small product catalog and two
// branches, enough to click through every staff screen in dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	branches := []domain.Branch{
		{ID: "branch-central", Name: "Central Market", CreatedAt: now},
		{ID: "branch-riverside", Name: "Riverside", CreatedAt: now},
	}
	products := []domain.Product{
		{ID: "prd-holy-basil", Name: "Holy Basil", Category: "Vegetables", Unit: "kg", Source: "Morning Market", MinStock: 3},
		{ID: "prd-chicken-breast", Name: "Chicken Breast", Category: "Meat", Unit: "kg", Source: "CP Supplier", MinStock: 10},
		{ID: "prd-jasmine-rice", Name: "Jasmine Rice", Category: "Dry Goods", Unit: "sack", Source: "Wholesale", MinStock: 2},
		{ID: "prd-fish-sauce", Name: "Fish Sauce", Category: "Seasoning", Unit: "bottle", Source: "Wholesale", MinStock: 6},
		{ID: "prd-egg-tray", Name: "Eggs (tray of 30)", Category: "Dry Goods", Unit: "tray", Source: "CP Supplier", MinStock: 4},
		{ID: "prd-lime", Name: "Lime", Category: "Vegetables", Unit: "kg", Source: "Morning Market", MinStock: 2},
		{ID: "prd-cooking-oil", Name: "Cooking Oil", Category: "Dry Goods", Unit: "can", Source: "Wholesale", MinStock: 3},
		{ID: "prd-gas-tank", Name: "Cooking Gas", Category: "Supplies", Unit: "tank", Source: "Gas Shop", MinStock: 1, DisableStockCheck: true},
	}

	for _, b := range branches {
		s.branches[b.ID] = b
	}
	for _, p := range products {
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	for _, p := range products {
		s.stockLevels[levelKey("branch-central", p.ID)] = domain.StockLevel{
			BranchID:    "branch-central",
			ProductID:   p.ID,
			ProductName: p.Name,
			Amount:      p.MinStock + 2,
			UpdatedAt:   now,
		}
	}
	s.thresholds[levelKey("branch-central", "prd-chicken-breast")] = 12

	return s
}

func levelKey(branchID string, productID string) string {
	return branchID + "_" + productID
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category != products[j].Category {
			return products[i].Category < products[j].Category
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New(xid.Product)
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if branch.ID == "" {
		branch.ID = xid.New(xid.Branch)
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[branch.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.branches[branch.ID] = branch
	created := branch
	return &created, nil
}

func (s *Store) ThresholdsByBranch(_ context.Context, branchID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := branchID + "_"
	out := make(map[string]float64)
	for key, minStock := range s.thresholds {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = minStock
		}
	}
	return out, nil
}

func (s *Store) UpsertThreshold(_ context.Context, threshold domain.BranchThreshold) error {
	if threshold.BranchID == "" || threshold.ProductID == "" || threshold.MinStock < 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.thresholds[levelKey(threshold.BranchID, threshold.ProductID)] = threshold.MinStock
	return nil
}

func (s *Store) StockLevelsByBranch(_ context.Context, branchID string) (map[string]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.StockLevel)
	for _, level := range s.stockLevels {
		if level.BranchID == branchID {
			out[level.ProductID] = level
		}
	}
	return out, nil
}

func (s *Store) SetStockCount(_ context.Context, branchID string, productID string, productName string, amount float64) error {
	if branchID == "" || productID == "" || amount < 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := levelKey(branchID, productID)
	level := s.stockLevels[key]
	level.BranchID = branchID
	level.ProductID = productID
	if productName != "" {
		level.ProductName = productName
	}
	level.Amount = amount
	level.UpdatedAt = time.Now().UTC()
	s.stockLevels[key] = level
	return nil
}

func (s *Store) IncrementStock(_ context.Context, branchID string, productID string, productName string, delta float64) error {
	if branchID == "" || productID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := levelKey(branchID, productID)
	level := s.stockLevels[key]
	level.BranchID = branchID
	level.ProductID = productID
	if productName != "" {
		level.ProductName = productName
	}
	level.Amount += delta
	level.UpdatedAt = time.Now().UTC()
	s.stockLevels[key] = level
	return nil
}

func (s *Store) CreateCheck(_ context.Context, check domain.DailyCheck) (*domain.DailyCheck, error) {
	if check.BranchID == "" {
		return nil, store.ErrInvalidInput
	}
	if check.ID == "" {
		check.ID = xid.New(xid.Check)
	}
	if check.Status == "" {
		check.Status = domain.CheckStatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checksByID[check.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.checksByID[check.ID] = cloneCheck(check)
	created := cloneCheck(check)
	return &created, nil
}

func (s *Store) UpdateCheck(_ context.Context, check domain.DailyCheck) (*domain.DailyCheck, error) {
	if check.ID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.checksByID[check.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// An edit overwrites items, date and user; status transitions go
	// through SetCheckStatus only.
	existing.Items = cloneItems(check.Items)
	existing.Date = check.Date
	existing.User = check.User
	s.checksByID[check.ID] = existing
	updated := cloneCheck(existing)
	return &updated, nil
}

func (s *Store) GetCheck(_ context.Context, id string) (*domain.DailyCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	check, ok := s.checksByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneCheck(check)
	return &out, nil
}

func (s *Store) ListChecksByBranch(_ context.Context, branchID string, limit int) ([]domain.DailyCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checks := make([]domain.DailyCheck, 0)
	for _, check := range s.checksByID {
		if check.BranchID == branchID {
			checks = append(checks, cloneCheck(check))
		}
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Date.After(checks[j].Date) })
	if limit > 0 && len(checks) > limit {
		checks = checks[:limit]
	}
	return checks, nil
}

func (s *Store) FindCheckByBranchDay(_ context.Context, branchID string, day time.Time) (*domain.DailyCheck, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, check := range s.checksByID {
		if check.BranchID != branchID {
			continue
		}
		if !check.Date.Before(dayStart) && check.Date.Before(dayEnd) {
			out := cloneCheck(check)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetCheckStatus(_ context.Context, id string, status string) error {
	if status != domain.CheckStatusPending && status != domain.CheckStatusCompleted {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	check, ok := s.checksByID[id]
	if !ok {
		return store.ErrNotFound
	}
	check.Status = status
	s.checksByID[id] = check
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, txn domain.StockTransaction) (*domain.StockTransaction, error) {
	if txn.BranchID == "" || len(txn.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if txn.ID == "" {
		txn.ID = xid.New(xid.Transaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[txn.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.transactionsByID[txn.ID] = cloneTransaction(txn)
	created := cloneTransaction(txn)
	return &created, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneTransaction(txn)
	return &out, nil
}

func (s *Store) ListTransactionsByBranch(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := make([]domain.StockTransaction, 0)
	for _, txn := range s.transactionsByID {
		if txn.BranchID != branchID {
			continue
		}
		if !from.IsZero() && txn.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !txn.Date.Before(to) {
			continue
		}
		txns = append(txns, cloneTransaction(txn))
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].Date.After(txns[j].Date) })
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *Store) UpdateTransactionItems(_ context.Context, id string, items []domain.TransactionLine, totalCost float64, editedAt time.Time, editedBy string) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactionsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	txn.Items = cloneLines(items)
	txn.TotalCost = totalCost
	at := editedAt
	txn.EditedAt = &at
	txn.EditedBy = editedBy
	s.transactionsByID[id] = txn
	return nil
}

func cloneCheck(check domain.DailyCheck) domain.DailyCheck {
	check.Items = cloneItems(check.Items)
	return check
}

func cloneItems(items []domain.CheckItem) []domain.CheckItem {
	out := make([]domain.CheckItem, len(items))
	copy(out, items)
	for i := range out {
		if items[i].SavedCurrentStock != nil {
			v := *items[i].SavedCurrentStock
			out[i].SavedCurrentStock = &v
		}
	}
	return out
}

func cloneTransaction(txn domain.StockTransaction) domain.StockTransaction {
	txn.Items = cloneLines(txn.Items)
	if txn.EditedAt != nil {
		at := *txn.EditedAt
		txn.EditedAt = &at
	}
	return txn
}

func cloneLines(lines []domain.TransactionLine) []domain.TransactionLine {
	out := make([]domain.TransactionLine, len(lines))
	copy(out, lines)
	return out
}
