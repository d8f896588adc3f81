package domain

import "time"

// Product is a master-data item counted and ordered by branches. Identity is
// immutable once the ledger or a transaction references it.
type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Unit              string    `json:"unit"`
	Source            string    `json:"source"`
	MinStock          float64   `json:"min_stock"`
	DisableStockCheck bool      `json:"disable_stock_check"`
	CreatedAt         time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Unit              string  `json:"unit"`
	Source            string  `json:"source"`
	MinStock          float64 `json:"min_stock"`
	DisableStockCheck bool    `json:"disable_stock_check"`
}

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BranchThreshold overrides Product.MinStock for one branch. Absence means
// "use the product default, else 0".
type BranchThreshold struct {
	BranchID  string  `json:"branch_id"`
	ProductID string  `json:"product_id"`
	MinStock  float64 `json:"min_stock"`
}

// StockLevel is the ledger's durable state for one (branch, product) pair.
// Never deleted; a missing record reads as amount 0.
type StockLevel struct {
	BranchID    string    `json:"branch_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Amount      float64   `json:"amount"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	CheckStatusPending   = "pending"
	CheckStatusCompleted = "completed"
)

// CheckItem is one ordered line of a daily check. SavedCurrentStock is the
// counted quantity at submission time; nil on records written before the
// snapshot field existed.
type CheckItem struct {
	ProductID         string   `json:"product_id"`
	ProductName       string   `json:"product_name"`
	Unit              string   `json:"unit"`
	Source            string   `json:"source"`
	ToOrder           float64  `json:"to_order"`
	SavedCurrentStock *float64 `json:"saved_current_stock,omitempty"`
}

// DailyCheck is one branch-day count that turned into a purchase order.
// Date is the submission timestamp and is refreshed on every edit.
type DailyCheck struct {
	ID       string      `json:"id"`
	BranchID string      `json:"branch_id"`
	Date     time.Time   `json:"date"`
	User     string      `json:"user"`
	Status   string      `json:"status"`
	Items    []CheckItem `json:"items"`
}

// CountEntry is one product row of a submit request. CurrentStock is nil
// for rows the operator did not touch this session; those rows never write
// the ledger, so concurrent updates from other flows are not clobbered.
type CountEntry struct {
	ProductID    string   `json:"product_id"`
	ProductName  string   `json:"product_name"`
	Unit         string   `json:"unit"`
	Source       string   `json:"source"`
	CurrentStock *float64 `json:"current_stock,omitempty"`
	ToOrder      float64  `json:"to_order"`
}

// SubmitCheckRequest creates a new pending check (CheckID empty) or
// overwrites an existing pending one in place.
type SubmitCheckRequest struct {
	BranchID string       `json:"branch_id"`
	CheckID  string       `json:"check_id,omitempty"`
	Entries  []CountEntry `json:"entries"`
}

// CheckEditState is a pending check reloaded for editing. Reconstructed is
// set on items whose current stock had to be derived from toOrder because
// the stored record predates the snapshot field.
type CheckEditState struct {
	Check DailyCheck      `json:"check"`
	Items []CheckEditItem `json:"items"`
}

type CheckEditItem struct {
	CheckItem
	CurrentStock  float64 `json:"current_stock"`
	MinStock      float64 `json:"min_stock"`
	Reconstructed bool    `json:"reconstructed,omitempty"`
}

const TransactionTypeIn = "in"

// TransactionLine is one received line. Price is the monetary total for the
// whole line, not a unit price; goods are often invoiced at a lump sum.
type TransactionLine struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	Unit        string  `json:"unit"`
}

// StockTransaction is a posted receive. Immutable except for the single
// supported edit path, which reconciles the ledger before overwriting
// items and total cost in place.
type StockTransaction struct {
	ID        string            `json:"id"`
	BranchID  string            `json:"branch_id"`
	Date      time.Time         `json:"date"`
	User      string            `json:"user"`
	Type      string            `json:"type"`
	RefPO     string            `json:"ref_po,omitempty"`
	Items     []TransactionLine `json:"items"`
	TotalCost float64           `json:"total_cost"`
	EditedAt  *time.Time        `json:"edited_at,omitempty"`
	EditedBy  string            `json:"edited_by,omitempty"`
}

// AdHocProduct defines a product injected during a receive that was not on
// the original order.
type AdHocProduct struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Unit     string  `json:"unit"`
	Source   string  `json:"source"`
	MinStock float64 `json:"min_stock"`
}

// ReceiveLine is one line of a receive confirmation. Either ProductID refers
// to an existing product, or NewProduct describes one to create first.
type ReceiveLine struct {
	ProductID   string        `json:"product_id,omitempty"`
	ProductName string        `json:"product_name"`
	Unit        string        `json:"unit"`
	ReceiveQty  float64       `json:"receive_qty"`
	TotalPrice  float64       `json:"total_price"`
	NewProduct  *AdHocProduct `json:"new_product,omitempty"`
}

type ReceiveRequest struct {
	OrderID string        `json:"order_id"`
	Lines   []ReceiveLine `json:"lines"`
}

// StockInRequest posts a costed "in" transaction with no originating order.
type StockInRequest struct {
	BranchID string        `json:"branch_id"`
	Lines    []ReceiveLine `json:"lines"`
}

// ReceiveSummary is the costed result of a posted receive, derived purely
// from the just-written transaction. Plain data for the printing layer.
type ReceiveSummary struct {
	TransactionID string        `json:"transaction_id"`
	BranchID      string        `json:"branch_id"`
	RefPO         string        `json:"ref_po,omitempty"`
	Date          time.Time     `json:"date"`
	User          string        `json:"user"`
	Lines         []SummaryLine `json:"lines"`
	GrandTotal    float64       `json:"grand_total"`
}

type SummaryLine struct {
	ProductName string  `json:"product_name"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	LineTotal   float64 `json:"line_total"`
}

// BalanceRow is one product on the branch balance screen.
type BalanceRow struct {
	ProductID    string     `json:"product_id"`
	ProductName  string     `json:"product_name"`
	Category     string     `json:"category"`
	Unit         string     `json:"unit"`
	Source       string     `json:"source"`
	MinStock     float64    `json:"min_stock"`
	CurrentStock float64    `json:"current_stock"`
	ToOrder      float64    `json:"to_order"`
	IsLow        bool       `json:"is_low"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}
