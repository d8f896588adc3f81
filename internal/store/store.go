package store

import (
	"context"
	"errors"
	"time"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNothingToReceive = errors.New("nothing to receive")
	ErrCheckCompleted   = errors.New("check already completed")
)

// Repository is the persistence boundary of the stock engine. No
// multi-record atomic transaction is assumed across methods; the service
// layer sequences calls so that a mid-sequence failure leaves a detectable
// state rather than a silently lost write.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)

	ThresholdsByBranch(ctx context.Context, branchID string) (map[string]float64, error)
	UpsertThreshold(ctx context.Context, threshold domain.BranchThreshold) error

	// StockLevelsByBranch returns the full ledger snapshot for one branch,
	// keyed by product id. Products never counted are absent.
	StockLevelsByBranch(ctx context.Context, branchID string) (map[string]domain.StockLevel, error)

	// SetStockCount is an absolute merge-write: it creates the record if
	// absent and always stamps UpdatedAt. Idempotent by replay.
	SetStockCount(ctx context.Context, branchID string, productID string, productName string, amount float64) error

	// IncrementStock adds delta (negative on revert) to the current amount,
	// creating the record at delta if absent. Not idempotent; callers must
	// guarantee at-most-once application. Each call is atomic: the ledger
	// either reflects the whole delta or none of it.
	IncrementStock(ctx context.Context, branchID string, productID string, productName string, delta float64) error

	CreateCheck(ctx context.Context, check domain.DailyCheck) (*domain.DailyCheck, error)
	UpdateCheck(ctx context.Context, check domain.DailyCheck) (*domain.DailyCheck, error)
	GetCheck(ctx context.Context, id string) (*domain.DailyCheck, error)
	ListChecksByBranch(ctx context.Context, branchID string, limit int) ([]domain.DailyCheck, error)

	// FindCheckByBranchDay returns the check submitted on the given UTC
	// calendar day for a branch, or ErrNotFound. A branch has at most one
	// check per day; this lookup is the duplicate guard.
	FindCheckByBranchDay(ctx context.Context, branchID string, day time.Time) (*domain.DailyCheck, error)

	SetCheckStatus(ctx context.Context, id string, status string) error

	CreateTransaction(ctx context.Context, txn domain.StockTransaction) (*domain.StockTransaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.StockTransaction, error)
	ListTransactionsByBranch(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error)

	// UpdateTransactionItems overwrites a transaction's lines and total in
	// place, stamping the edit. The caller is responsible for reconciling
	// the ledger first.
	UpdateTransactionItems(ctx context.Context, id string, items []domain.TransactionLine, totalCost float64, editedAt time.Time, editedBy string) error
}
