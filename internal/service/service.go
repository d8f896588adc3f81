package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
	"github.com/iamapinan/farmaroi-stock/internal/draft"
	"github.com/iamapinan/farmaroi-stock/internal/store"
	"github.com/iamapinan/farmaroi-stock/internal/threshold"
	"github.com/iamapinan/farmaroi-stock/internal/xid"
)

type userContextKey struct{}

// WithUser stamps the acting user onto the context. The stamp travels into
// every record the request writes; it carries no authorization meaning.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userContextKey{}).(string)
	return user, ok && user != ""
}

// StepError marks which step of a multi-write sequence failed, so an
// operator can tell a clean rejection from a half-applied one.
type StepError struct {
	Step          string
	TransactionID string
	ProductID     string
	Err           error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Step)
	if e.TransactionID != "" {
		msg += " (transaction " + e.TransactionID
		if e.ProductID != "" {
			msg += ", product " + e.ProductID
		}
		msg += ")"
	} else if e.ProductID != "" {
		msg += " (product " + e.ProductID + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Service struct {
	repo            store.Repository
	drafts          draft.Store
	policy          threshold.Policy
	defaultBranchID string
	log             zerolog.Logger
}

func New(repo store.Repository, drafts draft.Store, policy threshold.Policy, defaultBranchID string, log zerolog.Logger) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "main-branch"
	}

	return &Service{
		repo:            repo,
		drafts:          drafts,
		policy:          policy,
		defaultBranchID: defaultBranchID,
		log:             log.With().Str("component", "service").Logger(),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	req.Source = strings.TrimSpace(req.Source)

	if req.Name == "" || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:                xid.New(xid.Product),
		Name:              req.Name,
		Category:          req.Category,
		Unit:              req.Unit,
		Source:            req.Source,
		MinStock:          req.MinStock,
		DisableStockCheck: req.DisableStockCheck,
		CreatedAt:         time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductCreateRequest) (domain.Product, error) {
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	updated := *existing
	updated.Name = req.Name
	updated.Category = strings.TrimSpace(req.Category)
	updated.Unit = strings.TrimSpace(req.Unit)
	updated.Source = strings.TrimSpace(req.Source)
	updated.MinStock = req.MinStock
	updated.DisableStockCheck = req.DisableStockCheck

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	if id == "" {
		id = s.defaultBranchID
	}
	branch, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

func (s *Service) CreateBranch(ctx context.Context, name string) (domain.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Branch{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New(xid.Branch),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Branch{}, err
	}
	return *created, nil
}

// BranchBalance joins master data, per-branch thresholds and the ledger into
// the balance screen rows. Products flagged DisableStockCheck are excluded.
func (s *Service) BranchBalance(ctx context.Context, branchID string) ([]domain.BalanceRow, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := s.repo.ThresholdsByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	levels, err := s.repo.StockLevelsByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.BalanceRow, 0, len(products))
	for _, product := range products {
		if product.DisableStockCheck {
			continue
		}

		minStock := product.MinStock
		if override, ok := thresholds[product.ID]; ok {
			minStock = override
		}

		current := 0.0
		var updatedAt *time.Time
		if level, ok := levels[product.ID]; ok {
			current = level.Amount
			at := level.UpdatedAt
			updatedAt = &at
		}

		rows = append(rows, domain.BalanceRow{
			ProductID:    product.ID,
			ProductName:  product.Name,
			Category:     product.Category,
			Unit:         product.Unit,
			Source:       product.Source,
			MinStock:     minStock,
			CurrentStock: current,
			ToOrder:      s.policy.ToOrder(current, minStock),
			IsLow:        threshold.IsLow(current, minStock),
			UpdatedAt:    updatedAt,
		})
	}

	return rows, nil
}

func (s *Service) SetStockCount(ctx context.Context, branchID string, productID string, amount float64) error {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if productID == "" || amount < 0 {
		return store.ErrInvalidInput
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	return s.repo.SetStockCount(ctx, branchID, product.ID, product.Name, amount)
}

func (s *Service) UpsertMinStock(ctx context.Context, t domain.BranchThreshold) error {
	if t.BranchID == "" {
		t.BranchID = s.defaultBranchID
	}
	if t.ProductID == "" || t.MinStock < 0 {
		return store.ErrInvalidInput
	}
	return s.repo.UpsertThreshold(ctx, t)
}

// FindTodayCheck is the duplicate-day guard: a branch has at most one check
// per UTC day, and clients resolve today's before opening a new count.
func (s *Service) FindTodayCheck(ctx context.Context, branchID string) (*domain.DailyCheck, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.FindCheckByBranchDay(ctx, branchID, time.Now().UTC())
}

// SubmitCheck turns a finished count into a pending order. Only entries with
// toOrder > 0 become order items; every entry the operator actually counted
// this session writes the ledger as an absolute count, untouched entries are
// left alone. The branch-day draft is cleared once the check is durable.
func (s *Service) SubmitCheck(ctx context.Context, req domain.SubmitCheckRequest) (*domain.DailyCheck, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if len(req.Entries) == 0 {
		return nil, store.ErrInvalidInput
	}

	user, _ := UserFromContext(ctx)
	now := time.Now().UTC()

	// One check per branch-day: an unreferenced same-day submission edits
	// the existing check instead of duplicating it.
	if req.CheckID == "" {
		if existing, err := s.repo.FindCheckByBranchDay(ctx, req.BranchID, now); err == nil {
			req.CheckID = existing.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	// Validate every entry before the first write so a bad line cannot
	// leave earlier lines half-applied.
	items := make([]domain.CheckItem, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if entry.ProductID == "" || entry.ToOrder < 0 {
			return nil, store.ErrInvalidInput
		}
		if entry.CurrentStock != nil && *entry.CurrentStock < 0 {
			return nil, store.ErrInvalidInput
		}
		if entry.ToOrder == 0 {
			continue
		}

		item := domain.CheckItem{
			ProductID:   entry.ProductID,
			ProductName: entry.ProductName,
			Unit:        entry.Unit,
			Source:      entry.Source,
			ToOrder:     entry.ToOrder,
		}
		if entry.CurrentStock != nil {
			saved := *entry.CurrentStock
			item.SavedCurrentStock = &saved
		}
		items = append(items, item)
	}

	// The check record is written before any ledger count, so a failure
	// between the two leaves a findable check rather than orphaned
	// ledger mutations.
	var saved *domain.DailyCheck
	if req.CheckID == "" {
		created, err := s.repo.CreateCheck(ctx, domain.DailyCheck{
			ID:       xid.New(xid.Check),
			BranchID: req.BranchID,
			Date:     now,
			User:     user,
			Status:   domain.CheckStatusPending,
			Items:    items,
		})
		if err != nil {
			return nil, err
		}
		saved = created
	} else {
		existing, err := s.repo.GetCheck(ctx, req.CheckID)
		if err != nil {
			return nil, err
		}
		if existing.Status == domain.CheckStatusCompleted {
			return nil, store.ErrCheckCompleted
		}

		updated, err := s.repo.UpdateCheck(ctx, domain.DailyCheck{
			ID:       existing.ID,
			BranchID: existing.BranchID,
			Date:     now,
			User:     user,
			Status:   existing.Status,
			Items:    items,
		})
		if err != nil {
			return nil, err
		}
		saved = updated
	}

	for _, entry := range req.Entries {
		if entry.CurrentStock == nil {
			continue
		}
		if err := s.repo.SetStockCount(ctx, req.BranchID, entry.ProductID, entry.ProductName, *entry.CurrentStock); err != nil {
			s.log.Error().Err(err).
				Str("check_id", saved.ID).
				Str("product_id", entry.ProductID).
				Msg("check written but stock count failed")
			return nil, &StepError{Step: "set stock count", ProductID: entry.ProductID, Err: err}
		}
	}

	if err := s.drafts.Clear(ctx, req.BranchID, draft.DayKey(now)); err != nil {
		s.log.Warn().Err(err).
			Str("branch_id", req.BranchID).
			Str("check_id", saved.ID).
			Msg("failed to clear draft after submit")
	}

	return saved, nil
}

// LoadCheckForEdit rehydrates a pending check into editable rows. Items
// written before counted stock was snapshotted get a derived current stock
// and are flagged so the client can ask for a recount.
func (s *Service) LoadCheckForEdit(ctx context.Context, checkID string) (*domain.CheckEditState, error) {
	check, err := s.repo.GetCheck(ctx, checkID)
	if err != nil {
		return nil, err
	}

	thresholds, err := s.repo.ThresholdsByBranch(ctx, check.BranchID)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	productByID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	items := make([]domain.CheckEditItem, 0, len(check.Items))
	for _, item := range check.Items {
		minStock := 0.0
		if p, ok := productByID[item.ProductID]; ok {
			minStock = p.MinStock
		}
		if override, ok := thresholds[item.ProductID]; ok {
			minStock = override
		}

		edit := domain.CheckEditItem{
			CheckItem: item,
			MinStock:  minStock,
		}
		if item.SavedCurrentStock != nil {
			edit.CurrentStock = *item.SavedCurrentStock
		} else {
			current := minStock - item.ToOrder
			if current < 0 {
				current = 0
			}
			edit.CurrentStock = current
			edit.Reconstructed = true
		}
		items = append(items, edit)
	}

	return &domain.CheckEditState{Check: *check, Items: items}, nil
}

func (s *Service) GetCheck(ctx context.Context, id string) (*domain.DailyCheck, error) {
	return s.repo.GetCheck(ctx, id)
}

func (s *Service) ListChecks(ctx context.Context, branchID string, limit int) ([]domain.DailyCheck, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.ListChecksByBranch(ctx, branchID, limit)
}

// ReceiveOrder posts goods arriving against a pending order: it writes the
// costed "in" transaction first, applies ledger increments, and flips the
// order to completed last. The transaction is durable before any increment
// runs, so a mid-sequence failure leaves an orphan that names its own
// transaction rather than a lost write.
func (s *Service) ReceiveOrder(ctx context.Context, req domain.ReceiveRequest) (*domain.ReceiveSummary, error) {
	if req.OrderID == "" {
		return nil, store.ErrInvalidInput
	}

	order, err := s.repo.GetCheck(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.CheckStatusCompleted {
		return nil, store.ErrCheckCompleted
	}

	lines, err := s.resolveInboundLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	txn, err := s.postInbound(ctx, order.BranchID, order.ID, lines)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetCheckStatus(ctx, order.ID, domain.CheckStatusCompleted); err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", txn.ID).
			Str("check_id", order.ID).
			Msg("received goods but failed to complete order")
		return nil, &StepError{Step: "complete order", TransactionID: txn.ID, Err: err}
	}

	summary := summarize(txn)
	return &summary, nil
}

// RecordStockIn posts a costed "in" transaction with no originating order.
func (s *Service) RecordStockIn(ctx context.Context, req domain.StockInRequest) (*domain.ReceiveSummary, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}

	lines, err := s.resolveInboundLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	txn, err := s.postInbound(ctx, req.BranchID, "", lines)
	if err != nil {
		return nil, err
	}

	summary := summarize(txn)
	return &summary, nil
}

// resolveInboundLines creates ad-hoc products, then drops lines with no
// received quantity. Product creation happens before the filter: a product
// added during receiving exists afterwards even if nothing arrived for it.
func (s *Service) resolveInboundLines(ctx context.Context, lines []domain.ReceiveLine) ([]domain.TransactionLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	resolved := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		if line.ReceiveQty < 0 || line.TotalPrice < 0 {
			return nil, store.ErrInvalidInput
		}

		if line.NewProduct != nil {
			created, err := s.CreateProduct(ctx, domain.ProductCreateRequest{
				Name:     line.NewProduct.Name,
				Category: line.NewProduct.Category,
				Unit:     line.NewProduct.Unit,
				Source:   line.NewProduct.Source,
				MinStock: line.NewProduct.MinStock,
			})
			if err != nil {
				return nil, err
			}
			line.ProductID = created.ID
			line.ProductName = created.Name
			if line.Unit == "" {
				line.Unit = created.Unit
			}
		}

		if line.ProductID == "" {
			return nil, store.ErrInvalidInput
		}
		if line.ReceiveQty == 0 {
			continue
		}

		resolved = append(resolved, domain.TransactionLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Qty:         line.ReceiveQty,
			Price:       line.TotalPrice,
			Unit:        line.Unit,
		})
	}

	if len(resolved) == 0 {
		return nil, store.ErrNothingToReceive
	}
	return resolved, nil
}

func (s *Service) postInbound(ctx context.Context, branchID string, refPO string, lines []domain.TransactionLine) (*domain.StockTransaction, error) {
	user, _ := UserFromContext(ctx)

	totalCost := 0.0
	for _, line := range lines {
		totalCost += line.Price
	}

	txn, err := s.repo.CreateTransaction(ctx, domain.StockTransaction{
		ID:        xid.New(xid.Transaction),
		BranchID:  branchID,
		Date:      time.Now().UTC(),
		User:      user,
		Type:      domain.TransactionTypeIn,
		RefPO:     refPO,
		Items:     lines,
		TotalCost: totalCost,
	})
	if err != nil {
		return nil, &StepError{Step: "create transaction", Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, line := range txn.Items {
		g.Go(func() error {
			if err := s.repo.IncrementStock(gctx, branchID, line.ProductID, line.ProductName, line.Qty); err != nil {
				return &StepError{Step: "increment stock", TransactionID: txn.ID, ProductID: line.ProductID, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", txn.ID).
			Msg("transaction written but ledger increment failed")
		return nil, err
	}

	return txn, nil
}

func summarize(txn *domain.StockTransaction) domain.ReceiveSummary {
	lines := make([]domain.SummaryLine, 0, len(txn.Items))
	for _, item := range txn.Items {
		lines = append(lines, domain.SummaryLine{
			ProductName: item.ProductName,
			Qty:         item.Qty,
			Unit:        item.Unit,
			LineTotal:   item.Price,
		})
	}

	return domain.ReceiveSummary{
		TransactionID: txn.ID,
		BranchID:      txn.BranchID,
		RefPO:         txn.RefPO,
		Date:          txn.Date,
		User:          txn.User,
		Lines:         lines,
		GrandTotal:    txn.TotalCost,
	}
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.StockTransaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.ListTransactionsByBranch(ctx, branchID, from, to, limit)
}

// EditTransaction replaces a posted transaction's lines. The ledger is
// reconciled by net delta per product (new minus old quantity), so a
// quantity corrected from 5 to 8 moves the ledger by exactly +3 and an
// unchanged line does not touch the ledger at all.
func (s *Service) EditTransaction(ctx context.Context, id string, items []domain.TransactionLine) (*domain.StockTransaction, error) {
	if id == "" || len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	oldQty := make(map[string]float64, len(existing.Items))
	names := make(map[string]string, len(existing.Items))
	for _, item := range existing.Items {
		oldQty[item.ProductID] += item.Qty
		names[item.ProductID] = item.ProductName
	}

	newQty := make(map[string]float64, len(items))
	totalCost := 0.0
	for _, item := range items {
		if item.ProductID == "" || item.Qty < 0 || item.Price < 0 {
			return nil, store.ErrInvalidInput
		}
		newQty[item.ProductID] += item.Qty
		names[item.ProductID] = item.ProductName
		totalCost += item.Price
	}

	for productID, qty := range newQty {
		delta := qty - oldQty[productID]
		if delta == 0 {
			continue
		}
		if err := s.repo.IncrementStock(ctx, existing.BranchID, productID, names[productID], delta); err != nil {
			return nil, &StepError{Step: "reconcile stock", TransactionID: id, ProductID: productID, Err: err}
		}
	}
	for productID, qty := range oldQty {
		if _, still := newQty[productID]; still {
			continue
		}
		if err := s.repo.IncrementStock(ctx, existing.BranchID, productID, names[productID], -qty); err != nil {
			return nil, &StepError{Step: "reconcile stock", TransactionID: id, ProductID: productID, Err: err}
		}
	}

	user, _ := UserFromContext(ctx)
	if err := s.repo.UpdateTransactionItems(ctx, id, items, totalCost, time.Now().UTC(), user); err != nil {
		return nil, &StepError{Step: "update transaction", TransactionID: id, Err: err}
	}

	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) DraftSnapshot(ctx context.Context, branchID string, day string) (draft.Snapshot, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if day == "" {
		day = draft.DayKey(time.Now())
	}
	return s.drafts.Snapshot(ctx, branchID, day)
}

func (s *Service) WriteDraftField(ctx context.Context, branchID string, day string, productID string, update draft.FieldUpdate) error {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if day == "" {
		day = draft.DayKey(time.Now())
	}
	if productID == "" {
		return store.ErrInvalidInput
	}

	user, _ := UserFromContext(ctx)
	return s.drafts.WriteFields(ctx, branchID, day, productID, update, user)
}

func (s *Service) ClearDraft(ctx context.Context, branchID string, day string) error {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if day == "" {
		day = draft.DayKey(time.Now())
	}
	return s.drafts.Clear(ctx, branchID, day)
}

func (s *Service) SubscribeDraft(ctx context.Context, branchID string, day string) (<-chan draft.Snapshot, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if day == "" {
		day = draft.DayKey(time.Now())
	}
	return s.drafts.Subscribe(ctx, branchID, day)
}
