package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
	"github.com/iamapinan/farmaroi-stock/internal/store"
	"github.com/iamapinan/farmaroi-stock/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
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

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit, source, min_stock, disable_stock_check, created_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Source, &p.MinStock, &p.DisableStockCheck, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit, source, min_stock, disable_stock_check, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Source, &p.MinStock, &p.DisableStockCheck, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New(xid.Product)
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit, source, min_stock, disable_stock_check, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Category, product.Unit, product.Source, product.MinStock, product.DisableStockCheck, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit = $4, source = $5, min_stock = $6, disable_stock_check = $7
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Unit, product.Source, product.MinStock, product.DisableStockCheck)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM branches
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 16)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return branches, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if branch.ID == "" {
		branch.ID = xid.New(xid.Branch)
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, created_at)
		VALUES ($1,$2,$3)
	`, branch.ID, branch.Name, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) ThresholdsByBranch(ctx context.Context, branchID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, min_stock
		FROM branch_thresholds
		WHERE branch_id = $1
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var productID string
		var minStock float64
		if err := rows.Scan(&productID, &minStock); err != nil {
			return nil, err
		}
		out[productID] = minStock
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) UpsertThreshold(ctx context.Context, threshold domain.BranchThreshold) error {
	if threshold.BranchID == "" || threshold.ProductID == "" || threshold.MinStock < 0 {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_thresholds (branch_id, product_id, min_stock)
		VALUES ($1,$2,$3)
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET min_stock = EXCLUDED.min_stock
	`, threshold.BranchID, threshold.ProductID, threshold.MinStock)
	return err
}

func (s *Store) StockLevelsByBranch(ctx context.Context, branchID string) (map[string]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, product_id, product_name, amount, updated_at
		FROM stock_levels
		WHERE branch_id = $1
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.StockLevel)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.BranchID, &level.ProductID, &level.ProductName, &level.Amount, &level.UpdatedAt); err != nil {
			return nil, err
		}
		out[level.ProductID] = level
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) SetStockCount(ctx context.Context, branchID string, productID string, productName string, amount float64) error {
	if branchID == "" || productID == "" || amount < 0 {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (branch_id, product_id, product_name, amount, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET
			amount = EXCLUDED.amount,
			product_name = CASE WHEN EXCLUDED.product_name <> '' THEN EXCLUDED.product_name ELSE stock_levels.product_name END,
			updated_at = now()
	`, branchID, productID, productName, amount)
	return err
}

func (s *Store) IncrementStock(ctx context.Context, branchID string, productID string, productName string, delta float64) error {
	if branchID == "" || productID == "" {
		return store.ErrInvalidInput
	}

	// Single-statement upsert: the whole delta applies or the statement
	// fails. Concurrent increments compose because the addition runs
	// inside the database.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (branch_id, product_id, product_name, amount, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET
			amount = stock_levels.amount + EXCLUDED.amount,
			product_name = CASE WHEN EXCLUDED.product_name <> '' THEN EXCLUDED.product_name ELSE stock_levels.product_name END,
			updated_at = now()
	`, branchID, productID, productName, delta)
	return err
}

func (s *Store) CreateCheck(ctx context.Context, check domain.DailyCheck) (*domain.DailyCheck, error) {
	if check.BranchID == "" {
		return nil, store.ErrInvalidInput
	}
	if check.ID == "" {
		check.ID = xid.New(xid.Check)
	}
	if check.Status == "" {
		check.Status = domain.CheckStatusPending
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_checks (id, branch_id, date, "user", status)
		VALUES ($1,$2,$3,$4,$5)
	`, check.ID, check.BranchID, check.Date, check.User, check.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	if err := insertCheckItems(ctx, tx, check.ID, check.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := check
	return &created, nil
}

func (s *Store) UpdateCheck(ctx context.Context, check domain.DailyCheck) (*domain.DailyCheck, error) {
	if check.ID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE daily_checks
		SET date = $2, "user" = $3
		WHERE id = $1
	`, check.ID, check.Date, check.User)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_check_items WHERE check_id = $1`, check.ID); err != nil {
		return nil, err
	}
	if err := insertCheckItems(ctx, tx, check.ID, check.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := check
	return &updated, nil
}

func insertCheckItems(ctx context.Context, tx *sql.Tx, checkID string, items []domain.CheckItem) error {
	for pos, item := range items {
		var saved any
		if item.SavedCurrentStock != nil {
			saved = *item.SavedCurrentStock
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_check_items (check_id, position, product_id, product_name, unit, source, to_order, saved_current_stock)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, checkID, pos, item.ProductID, item.ProductName, item.Unit, item.Source, item.ToOrder, saved)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetCheck(ctx context.Context, id string) (*domain.DailyCheck, error) {
	var check domain.DailyCheck
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, date, "user", status
		FROM daily_checks
		WHERE id = $1
	`, id).Scan(&check.ID, &check.BranchID, &check.Date, &check.User, &check.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.checkItems(ctx, check.ID)
	if err != nil {
		return nil, err
	}
	check.Items = items
	return &check, nil
}

func (s *Store) checkItems(ctx context.Context, checkID string) ([]domain.CheckItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, unit, source, to_order, saved_current_stock
		FROM daily_check_items
		WHERE check_id = $1
		ORDER BY position
	`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CheckItem, 0, 32)
	for rows.Next() {
		var item domain.CheckItem
		var saved sql.NullFloat64
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Unit, &item.Source, &item.ToOrder, &saved); err != nil {
			return nil, err
		}
		if saved.Valid {
			v := saved.Float64
			item.SavedCurrentStock = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) ListChecksByBranch(ctx context.Context, branchID string, limit int) ([]domain.DailyCheck, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, date, "user", status
		FROM daily_checks
		WHERE branch_id = $1
		ORDER BY date DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := make([]domain.DailyCheck, 0, limit)
	for rows.Next() {
		var check domain.DailyCheck
		if err := rows.Scan(&check.ID, &check.BranchID, &check.Date, &check.User, &check.Status); err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range checks {
		items, err := s.checkItems(ctx, checks[i].ID)
		if err != nil {
			return nil, err
		}
		checks[i].Items = items
	}

	return checks, nil
}

func (s *Store) FindCheckByBranchDay(ctx context.Context, branchID string, day time.Time) (*domain.DailyCheck, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM daily_checks
		WHERE branch_id = $1 AND date >= $2 AND date < $3
		ORDER BY date DESC
		LIMIT 1
	`, branchID, dayStart, dayEnd).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return s.GetCheck(ctx, id)
}

func (s *Store) SetCheckStatus(ctx context.Context, id string, status string) error {
	if status != domain.CheckStatusPending && status != domain.CheckStatusCompleted {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_checks
		SET status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, txn domain.StockTransaction) (*domain.StockTransaction, error) {
	if txn.BranchID == "" || len(txn.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if txn.ID == "" {
		txn.ID = xid.New(xid.Transaction)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_transactions (id, branch_id, date, "user", type, ref_po, total_cost)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, txn.ID, txn.BranchID, txn.Date, txn.User, txn.Type, nullIfEmpty(txn.RefPO), txn.TotalCost)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	if err := insertTransactionItems(ctx, tx, txn.ID, txn.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := txn
	return &created, nil
}

func insertTransactionItems(ctx context.Context, tx *sql.Tx, txnID string, items []domain.TransactionLine) error {
	for pos, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_transaction_items (transaction_id, position, product_id, product_name, qty, price, unit)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, txnID, pos, item.ProductID, item.ProductName, item.Qty, item.Price, item.Unit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.StockTransaction, error) {
	var txn domain.StockTransaction
	var refPO sql.NullString
	var editedAt sql.NullTime
	var editedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, date, "user", type, ref_po, total_cost, edited_at, edited_by
		FROM stock_transactions
		WHERE id = $1
	`, id).Scan(&txn.ID, &txn.BranchID, &txn.Date, &txn.User, &txn.Type, &refPO, &txn.TotalCost, &editedAt, &editedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	txn.RefPO = refPO.String
	if editedAt.Valid {
		at := editedAt.Time
		txn.EditedAt = &at
	}
	txn.EditedBy = editedBy.String

	items, err := s.transactionItems(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	txn.Items = items
	return &txn, nil
}

func (s *Store) transactionItems(ctx context.Context, txnID string) ([]domain.TransactionLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, price, unit
		FROM stock_transaction_items
		WHERE transaction_id = $1
		ORDER BY position
	`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionLine, 0, 16)
	for rows.Next() {
		var item domain.TransactionLine
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Qty, &item.Price, &item.Unit); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) ListTransactionsByBranch(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, date, "user", type, ref_po, total_cost, edited_at, edited_by
		FROM stock_transactions
		WHERE branch_id = $1 AND date >= $2 AND date < $3
		ORDER BY date DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.StockTransaction, 0, limit)
	for rows.Next() {
		var txn domain.StockTransaction
		var refPO sql.NullString
		var editedAt sql.NullTime
		var editedBy sql.NullString
		if err := rows.Scan(&txn.ID, &txn.BranchID, &txn.Date, &txn.User, &txn.Type, &refPO, &txn.TotalCost, &editedAt, &editedBy); err != nil {
			return nil, err
		}
		txn.RefPO = refPO.String
		if editedAt.Valid {
			at := editedAt.Time
			txn.EditedAt = &at
		}
		txn.EditedBy = editedBy.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txns {
		items, err := s.transactionItems(ctx, txns[i].ID)
		if err != nil {
			return nil, err
		}
		txns[i].Items = items
	}

	return txns, nil
}

func (s *Store) UpdateTransactionItems(ctx context.Context, id string, items []domain.TransactionLine, totalCost float64, editedAt time.Time, editedBy string) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_transactions
		SET total_cost = $2, edited_at = $3, edited_by = $4
		WHERE id = $1
	`, id, totalCost, editedAt, editedBy)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_transaction_items WHERE transaction_id = $1`, id); err != nil {
		return err
	}
	if err := insertTransactionItems(ctx, tx, id, items); err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
