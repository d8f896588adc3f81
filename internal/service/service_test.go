package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
	"github.com/iamapinan/farmaroi-stock/internal/draft"
	"github.com/iamapinan/farmaroi-stock/internal/store"
	"github.com/iamapinan/farmaroi-stock/internal/store/memory"
	"github.com/iamapinan/farmaroi-stock/internal/threshold"
)

func newTestService() (*Service, *memory.Store, *draft.Memory) {
	repo := memory.NewSeeded()
	drafts := draft.NewMemory()
	svc := New(repo, drafts, threshold.Policy{}, "branch-central", zerolog.Nop())
	return svc, repo, drafts
}

func userCtx(user string) context.Context {
	return WithUser(context.Background(), user)
}

func f64(v float64) *float64 {
	return &v
}

func branchStock(t *testing.T, repo *memory.Store, branchID string, productID string) float64 {
	t.Helper()
	levels, err := repo.StockLevelsByBranch(context.Background(), branchID)
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	return levels[productID].Amount
}

func TestBranchBalanceAppliesThresholdOverrideAndSkipsDisabled(t *testing.T) {
	svc, _, _ := newTestService()

	rows, err := svc.BranchBalance(context.Background(), "branch-central")
	if err != nil {
		t.Fatalf("branch balance: %v", err)
	}

	byID := make(map[string]domain.BalanceRow, len(rows))
	for _, row := range rows {
		byID[row.ProductID] = row
	}

	if _, ok := byID["prd-gas-tank"]; ok {
		t.Fatalf("expected disabled product to be excluded from balance")
	}

	// Seeded at minStock+2 = 12, branch override raises minStock to 12.
	chicken, ok := byID["prd-chicken-breast"]
	if !ok {
		t.Fatalf("expected chicken breast row")
	}
	if chicken.MinStock != 12 {
		t.Fatalf("expected branch override min stock 12, got %v", chicken.MinStock)
	}
	if chicken.ToOrder != 0 {
		t.Fatalf("current equals min, expected to-order 0, got %v", chicken.ToOrder)
	}
	if chicken.IsLow {
		t.Fatalf("current equals min, expected not low")
	}
}

func TestSubmitCheckDropsZeroOrderLinesAndWritesOnlyTouchedCounts(t *testing.T) {
	svc, repo, drafts := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	before := branchStock(t, repo, "branch-central", "prd-jasmine-rice")

	check, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries: []domain.CountEntry{
			{ProductID: "prd-holy-basil", ProductName: "Holy Basil", Unit: "kg", CurrentStock: f64(1), ToOrder: 2},
			{ProductID: "prd-lime", ProductName: "Lime", Unit: "kg", CurrentStock: f64(5), ToOrder: 0},
			{ProductID: "prd-jasmine-rice", ProductName: "Jasmine Rice", Unit: "sack", ToOrder: 0},
		},
	})
	if err != nil {
		t.Fatalf("submit check: %v", err)
	}

	if len(check.Items) != 1 {
		t.Fatalf("expected only to-order lines on the check, got %d", len(check.Items))
	}
	if check.Items[0].ProductID != "prd-holy-basil" || check.Items[0].ToOrder != 2 {
		t.Fatalf("unexpected check item: %+v", check.Items[0])
	}
	if check.Items[0].SavedCurrentStock == nil || *check.Items[0].SavedCurrentStock != 1 {
		t.Fatalf("expected counted stock snapshot 1, got %+v", check.Items[0].SavedCurrentStock)
	}
	if check.Status != domain.CheckStatusPending {
		t.Fatalf("expected pending status, got %s", check.Status)
	}
	if check.User != "fah@farmaroi.th" {
		t.Fatalf("expected user stamp, got %q", check.User)
	}

	// Touched counts become absolute ledger writes; untouched rows stay put.
	if got := branchStock(t, repo, "branch-central", "prd-holy-basil"); got != 1 {
		t.Fatalf("expected basil ledger 1, got %v", got)
	}
	if got := branchStock(t, repo, "branch-central", "prd-lime"); got != 5 {
		t.Fatalf("expected lime ledger 5, got %v", got)
	}
	if got := branchStock(t, repo, "branch-central", "prd-jasmine-rice"); got != before {
		t.Fatalf("expected untouched rice ledger %v, got %v", before, got)
	}

	snap, err := drafts.Snapshot(context.Background(), "branch-central", draft.DayKey(check.Date))
	if err != nil {
		t.Fatalf("draft snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected draft cleared after submit, got %d entries", len(snap))
	}
}

func TestSubmitCheckSameDayEditsExistingInsteadOfDuplicating(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	first, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries:  []domain.CountEntry{{ProductID: "prd-holy-basil", ProductName: "Holy Basil", ToOrder: 2}},
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second, err := svc.SubmitCheck(userCtx("nok@farmaroi.th"), domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries:  []domain.CountEntry{{ProductID: "prd-lime", ProductName: "Lime", ToOrder: 1}},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected same-day submit to edit the existing check")
	}
	if len(second.Items) != 1 || second.Items[0].ProductID != "prd-lime" {
		t.Fatalf("expected items overwritten, got %+v", second.Items)
	}
	if second.User != "nok@farmaroi.th" {
		t.Fatalf("expected user stamp refreshed, got %q", second.User)
	}

	checks, err := svc.ListChecks(context.Background(), "branch-central", 10)
	if err != nil {
		t.Fatalf("list checks: %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("expected exactly one check for the day, got %d", len(checks))
	}
}

func TestLoadCheckForEditReconstructsMissingSnapshot(t *testing.T) {
	svc, repo, _ := newTestService()

	created, err := repo.CreateCheck(context.Background(), domain.DailyCheck{
		BranchID: "branch-central",
		User:     "fah@farmaroi.th",
		Items: []domain.CheckItem{
			{ProductID: "prd-holy-basil", ProductName: "Holy Basil", ToOrder: 2},
			{ProductID: "prd-fish-sauce", ProductName: "Fish Sauce", ToOrder: 1, SavedCurrentStock: f64(5)},
		},
	})
	if err != nil {
		t.Fatalf("create check: %v", err)
	}

	state, err := svc.LoadCheckForEdit(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load for edit: %v", err)
	}
	if len(state.Items) != 2 {
		t.Fatalf("expected 2 edit rows, got %d", len(state.Items))
	}

	// Basil has min stock 3 and no snapshot: derived current is 3-2=1.
	basil := state.Items[0]
	if !basil.Reconstructed {
		t.Fatalf("expected reconstructed flag on snapshot-less item")
	}
	if basil.CurrentStock != 1 {
		t.Fatalf("expected derived current 1, got %v", basil.CurrentStock)
	}

	sauce := state.Items[1]
	if sauce.Reconstructed {
		t.Fatalf("expected snapshot item not reconstructed")
	}
	if sauce.CurrentStock != 5 {
		t.Fatalf("expected snapshot current 5, got %v", sauce.CurrentStock)
	}
}

func TestReceiveOrderIncrementsLedgerAndCompletesOrder(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	check, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries: []domain.CountEntry{
			{ProductID: "prd-chicken-breast", ProductName: "Chicken Breast", Unit: "kg", CurrentStock: f64(10), ToOrder: 5},
		},
	})
	if err != nil {
		t.Fatalf("submit check: %v", err)
	}

	summary, err := svc.ReceiveOrder(ctx, domain.ReceiveRequest{
		OrderID: check.ID,
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-chicken-breast", ProductName: "Chicken Breast", Unit: "kg", ReceiveQty: 5, TotalPrice: 450},
		},
	})
	if err != nil {
		t.Fatalf("receive order: %v", err)
	}

	if got := branchStock(t, repo, "branch-central", "prd-chicken-breast"); got != 15 {
		t.Fatalf("expected ledger 15 after receive, got %v", got)
	}
	if summary.GrandTotal != 450 {
		t.Fatalf("expected grand total 450, got %v", summary.GrandTotal)
	}
	if summary.RefPO != check.ID {
		t.Fatalf("expected summary ref to order id")
	}

	after, err := svc.GetCheck(context.Background(), check.ID)
	if err != nil {
		t.Fatalf("get check: %v", err)
	}
	if after.Status != domain.CheckStatusCompleted {
		t.Fatalf("expected completed order, got %s", after.Status)
	}

	txn, err := svc.GetTransaction(context.Background(), summary.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.Type != domain.TransactionTypeIn || txn.RefPO != check.ID {
		t.Fatalf("unexpected transaction: type=%s ref=%s", txn.Type, txn.RefPO)
	}
	if txn.TotalCost != 450 {
		t.Fatalf("expected total cost 450, got %v", txn.TotalCost)
	}

	// A completed order refuses a second receive.
	if _, err := svc.ReceiveOrder(ctx, domain.ReceiveRequest{
		OrderID: check.ID,
		Lines:   []domain.ReceiveLine{{ProductID: "prd-chicken-breast", ReceiveQty: 1}},
	}); !errors.Is(err, store.ErrCheckCompleted) {
		t.Fatalf("expected ErrCheckCompleted, got %v", err)
	}
}

func TestReceiveOrderAllZeroQuantitiesWritesNothing(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	check, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries:  []domain.CountEntry{{ProductID: "prd-lime", ProductName: "Lime", ToOrder: 2}},
	})
	if err != nil {
		t.Fatalf("submit check: %v", err)
	}

	before := branchStock(t, repo, "branch-central", "prd-lime")

	_, err = svc.ReceiveOrder(ctx, domain.ReceiveRequest{
		OrderID: check.ID,
		Lines:   []domain.ReceiveLine{{ProductID: "prd-lime", ProductName: "Lime", ReceiveQty: 0}},
	})
	if !errors.Is(err, store.ErrNothingToReceive) {
		t.Fatalf("expected ErrNothingToReceive, got %v", err)
	}

	if got := branchStock(t, repo, "branch-central", "prd-lime"); got != before {
		t.Fatalf("expected ledger unchanged, got %v", got)
	}
	after, err := svc.GetCheck(context.Background(), check.ID)
	if err != nil {
		t.Fatalf("get check: %v", err)
	}
	if after.Status != domain.CheckStatusPending {
		t.Fatalf("expected order still pending, got %s", after.Status)
	}
	txns, err := svc.ListTransactions(context.Background(), "branch-central", time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 0 {
		t.Fatalf("expected no transaction written, got %d", len(txns))
	}
}

func TestReceiveOrderCreatesAdHocProduct(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	check, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries:  []domain.CountEntry{{ProductID: "prd-lime", ProductName: "Lime", ToOrder: 2}},
	})
	if err != nil {
		t.Fatalf("submit check: %v", err)
	}

	summary, err := svc.ReceiveOrder(ctx, domain.ReceiveRequest{
		OrderID: check.ID,
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-lime", ProductName: "Lime", Unit: "kg", ReceiveQty: 2, TotalPrice: 60},
			{ProductName: "Galangal", ReceiveQty: 1, TotalPrice: 40, NewProduct: &domain.AdHocProduct{
				Name: "Galangal", Category: "Vegetables", Unit: "kg", Source: "Morning Market", MinStock: 1,
			}},
		},
	})
	if err != nil {
		t.Fatalf("receive order: %v", err)
	}
	if summary.GrandTotal != 100 {
		t.Fatalf("expected grand total 100, got %v", summary.GrandTotal)
	}

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	var galangal *domain.Product
	for i := range products {
		if products[i].Name == "Galangal" {
			galangal = &products[i]
		}
	}
	if galangal == nil {
		t.Fatalf("expected ad-hoc product created")
	}
	if galangal.MinStock != 1 || galangal.Unit != "kg" {
		t.Fatalf("unexpected ad-hoc product: %+v", galangal)
	}
	if got := branchStock(t, repo, "branch-central", galangal.ID); got != 1 {
		t.Fatalf("expected ad-hoc ledger 1, got %v", got)
	}
}

func TestRecordStockInPostsWithoutOrder(t *testing.T) {
	svc, repo, _ := newTestService()

	summary, err := svc.RecordStockIn(userCtx("nok@farmaroi.th"), domain.StockInRequest{
		BranchID: "branch-riverside",
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-cooking-oil", ProductName: "Cooking Oil", Unit: "can", ReceiveQty: 4, TotalPrice: 720},
		},
	})
	if err != nil {
		t.Fatalf("record stock in: %v", err)
	}
	if summary.RefPO != "" {
		t.Fatalf("expected no order ref, got %q", summary.RefPO)
	}

	// Riverside had no ledger rows; the increment creates one.
	if got := branchStock(t, repo, "branch-riverside", "prd-cooking-oil"); got != 4 {
		t.Fatalf("expected ledger 4, got %v", got)
	}
}

func TestEditTransactionAppliesNetDelta(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	summary, err := svc.RecordStockIn(ctx, domain.StockInRequest{
		BranchID: "branch-central",
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-fish-sauce", ProductName: "Fish Sauce", Unit: "bottle", ReceiveQty: 5, TotalPrice: 250},
			{ProductID: "prd-egg-tray", ProductName: "Eggs (tray of 30)", Unit: "tray", ReceiveQty: 2, TotalPrice: 240},
		},
	})
	if err != nil {
		t.Fatalf("record stock in: %v", err)
	}

	sauceBefore := branchStock(t, repo, "branch-central", "prd-fish-sauce")
	eggsBefore := branchStock(t, repo, "branch-central", "prd-egg-tray")

	edited, err := svc.EditTransaction(userCtx("manager@farmaroi.th"), summary.TransactionID, []domain.TransactionLine{
		{ProductID: "prd-fish-sauce", ProductName: "Fish Sauce", Unit: "bottle", Qty: 8, Price: 400},
		{ProductID: "prd-egg-tray", ProductName: "Eggs (tray of 30)", Unit: "tray", Qty: 2, Price: 240},
	})
	if err != nil {
		t.Fatalf("edit transaction: %v", err)
	}

	// 5 corrected to 8 nets +3; the unchanged line does not move the ledger.
	if got := branchStock(t, repo, "branch-central", "prd-fish-sauce"); got != sauceBefore+3 {
		t.Fatalf("expected sauce ledger %v, got %v", sauceBefore+3, got)
	}
	if got := branchStock(t, repo, "branch-central", "prd-egg-tray"); got != eggsBefore {
		t.Fatalf("expected eggs ledger unchanged, got %v", got)
	}

	if edited.TotalCost != 640 {
		t.Fatalf("expected total cost 640, got %v", edited.TotalCost)
	}
	if edited.EditedAt == nil || edited.EditedBy != "manager@farmaroi.th" {
		t.Fatalf("expected edit stamp, got at=%v by=%q", edited.EditedAt, edited.EditedBy)
	}
}

func TestEditTransactionRevertsRemovedLines(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	summary, err := svc.RecordStockIn(ctx, domain.StockInRequest{
		BranchID: "branch-central",
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-fish-sauce", ProductName: "Fish Sauce", Unit: "bottle", ReceiveQty: 5, TotalPrice: 250},
			{ProductID: "prd-egg-tray", ProductName: "Eggs (tray of 30)", Unit: "tray", ReceiveQty: 2, TotalPrice: 240},
		},
	})
	if err != nil {
		t.Fatalf("record stock in: %v", err)
	}

	eggsBefore := branchStock(t, repo, "branch-central", "prd-egg-tray")

	_, err = svc.EditTransaction(ctx, summary.TransactionID, []domain.TransactionLine{
		{ProductID: "prd-fish-sauce", ProductName: "Fish Sauce", Unit: "bottle", Qty: 5, Price: 250},
	})
	if err != nil {
		t.Fatalf("edit transaction: %v", err)
	}

	if got := branchStock(t, repo, "branch-central", "prd-egg-tray"); got != eggsBefore-2 {
		t.Fatalf("expected removed line reverted to %v, got %v", eggsBefore-2, got)
	}
}

func TestSetStockCountIsIdempotentUnlikeIncrement(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetStockCount(ctx, "branch-central", "prd-lime", 7); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := svc.SetStockCount(ctx, "branch-central", "prd-lime", 7); err != nil {
		t.Fatalf("set count replay: %v", err)
	}
	if got := branchStock(t, repo, "branch-central", "prd-lime"); got != 7 {
		t.Fatalf("expected absolute count 7 after replay, got %v", got)
	}

	if err := repo.IncrementStock(ctx, "branch-central", "prd-lime", "Lime", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := repo.IncrementStock(ctx, "branch-central", "prd-lime", "Lime", 2); err != nil {
		t.Fatalf("increment replay: %v", err)
	}
	if got := branchStock(t, repo, "branch-central", "prd-lime"); got != 11 {
		t.Fatalf("expected 11 after two increments, got %v", got)
	}
}

func TestWriteDraftFieldStampsUser(t *testing.T) {
	svc, _, drafts := newTestService()
	day := draft.DayKey(time.Now())

	stock := "3"
	if err := svc.WriteDraftField(userCtx("fah@farmaroi.th"), "branch-central", day, "prd-lime", draft.FieldUpdate{CurrentStock: &stock}); err != nil {
		t.Fatalf("write draft field: %v", err)
	}

	snap, err := drafts.Snapshot(context.Background(), "branch-central", day)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	entry, ok := snap["prd-lime"]
	if !ok {
		t.Fatalf("expected draft entry")
	}
	if entry.CurrentStock != "3" || entry.UpdatedBy != "fah@farmaroi.th" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

// unreliableRepo wraps the memory store and fails selected writes, so tests
// can observe what a half-finished sequence leaves behind.
type unreliableRepo struct {
	store.Repository
	failSetCount     bool
	failIncrementFor string
}

func (r *unreliableRepo) SetStockCount(ctx context.Context, branchID string, productID string, productName string, amount float64) error {
	if r.failSetCount {
		return errors.New("connection reset")
	}
	return r.Repository.SetStockCount(ctx, branchID, productID, productName, amount)
}

func (r *unreliableRepo) IncrementStock(ctx context.Context, branchID string, productID string, productName string, delta float64) error {
	if r.failIncrementFor == productID {
		return errors.New("connection reset")
	}
	return r.Repository.IncrementStock(ctx, branchID, productID, productName, delta)
}

func TestSubmitCheckRejectsNegativeCountBeforeAnyWrite(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := userCtx("fah@farmaroi.th")

	before := branchStock(t, repo, "branch-central", "prd-holy-basil")

	_, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries: []domain.CountEntry{
			{ProductID: "prd-holy-basil", ProductName: "Holy Basil", ToOrder: 2, CurrentStock: f64(1)},
			{ProductID: "prd-lime", ProductName: "Lime", ToOrder: 1, CurrentStock: f64(-4)},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if got := branchStock(t, repo, "branch-central", "prd-holy-basil"); got != before {
		t.Fatalf("rejected submit touched the ledger: basil was %v, now %v", before, got)
	}
	if _, err := repo.FindCheckByBranchDay(context.Background(), "branch-central", time.Now().UTC()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected submit left a check behind: %v", err)
	}
}

func TestSubmitCheckWritesCheckBeforeLedgerCounts(t *testing.T) {
	inner := memory.NewSeeded()
	repo := &unreliableRepo{Repository: inner, failSetCount: true}
	svc := New(repo, draft.NewMemory(), threshold.Policy{}, "branch-central", zerolog.Nop())
	ctx := userCtx("fah@farmaroi.th")

	_, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries: []domain.CountEntry{
			{ProductID: "prd-holy-basil", ProductName: "Holy Basil", ToOrder: 2, CurrentStock: f64(1)},
		},
	})
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "set stock count" || stepErr.ProductID != "prd-holy-basil" {
		t.Fatalf("unexpected step error: %+v", stepErr)
	}

	// The check was written first, so the half-finished submit is findable.
	check, err := inner.FindCheckByBranchDay(context.Background(), "branch-central", time.Now().UTC())
	if err != nil {
		t.Fatalf("expected the check record to survive the count failure: %v", err)
	}
	if len(check.Items) != 1 || check.Items[0].ProductID != "prd-holy-basil" {
		t.Fatalf("unexpected check items: %+v", check.Items)
	}
}

func TestReceiveOrderIncrementFailureNamesStepAndLeavesOrphanTransaction(t *testing.T) {
	inner := memory.NewSeeded()
	repo := &unreliableRepo{Repository: inner, failIncrementFor: "prd-lime"}
	svc := New(repo, draft.NewMemory(), threshold.Policy{}, "branch-central", zerolog.Nop())
	ctx := userCtx("fah@farmaroi.th")

	check, err := svc.SubmitCheck(ctx, domain.SubmitCheckRequest{
		BranchID: "branch-central",
		Entries: []domain.CountEntry{
			{ProductID: "prd-lime", ProductName: "Lime", ToOrder: 3},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = svc.ReceiveOrder(ctx, domain.ReceiveRequest{
		OrderID: check.ID,
		Lines: []domain.ReceiveLine{
			{ProductID: "prd-lime", ProductName: "Lime", ReceiveQty: 3, TotalPrice: 60},
		},
	})
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "increment stock" || stepErr.ProductID != "prd-lime" || stepErr.TransactionID == "" {
		t.Fatalf("step error must name the step, product and transaction: %+v", stepErr)
	}

	// The transaction was durable before the increment ran, so the failure
	// leaves a named orphan rather than a lost write.
	txn, err := inner.GetTransaction(context.Background(), stepErr.TransactionID)
	if err != nil {
		t.Fatalf("orphan transaction %s not found: %v", stepErr.TransactionID, err)
	}
	if txn.TotalCost != 60 {
		t.Fatalf("unexpected orphan total: %v", txn.TotalCost)
	}

	after, err := inner.GetCheck(context.Background(), check.ID)
	if err != nil {
		t.Fatalf("get check: %v", err)
	}
	if after.Status != domain.CheckStatusPending {
		t.Fatalf("order must stay pending after a failed receive, got %q", after.Status)
	}
}
