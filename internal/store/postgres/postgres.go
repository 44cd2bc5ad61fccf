package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/davinic7/tienda2-sub000/internal/domain"
	"github.com/davinic7/tienda2-sub000/internal/store"
	"github.com/davinic7/tienda2-sub000/internal/xid"
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
		SELECT id, name, price, active
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, locationID string, initialStock, minThreshold int) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Active = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
	`, product.ID, product.Name, product.Price, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}

	if initialStock > 0 || minThreshold > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_levels (location_id, product_id, qty, min_threshold, updated_at)
			VALUES ($1,$2,$3,$4,now())
		`, locationID, product.ID, initialStock, minThreshold)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, active = $4, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Price, product.Active)
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

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var location domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active
		FROM locations
		WHERE id = $1
	`, id).Scan(&location.ID, &location.Name, &location.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &location, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active
		FROM locations
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 8)
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Active); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return locations, nil
}

func (s *Store) GetStockLevels(ctx context.Context, locationID string, productIDs []string) (map[string]domain.StockEntry, error) {
	query := `
		SELECT product_id, location_id, qty, min_threshold
		FROM stock_levels
		WHERE location_id = $1
	`
	args := []any{locationID}
	if len(productIDs) > 0 {
		query += ` AND product_id = ANY($2)`
		args = append(args, productIDs)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make(map[string]domain.StockEntry, len(productIDs))
	for rows.Next() {
		var entry domain.StockEntry
		if err := rows.Scan(&entry.ProductID, &entry.LocationID, &entry.Quantity, &entry.MinThreshold); err != nil {
			return nil, err
		}
		levels[entry.ProductID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return levels, nil
}

func (s *Store) AdjustStock(ctx context.Context, locationID string, productID string, qty int, mode string) (*domain.StockEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, &store.UnknownProductError{ProductID: productID}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_levels (location_id, product_id, qty, min_threshold, updated_at)
		VALUES ($1,$2,0,0,now())
		ON CONFLICT (location_id, product_id) DO NOTHING
	`, locationID, productID)
	if err != nil {
		return nil, err
	}

	var entry domain.StockEntry
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, location_id, qty, min_threshold
		FROM stock_levels
		WHERE location_id = $1 AND product_id = $2
		FOR UPDATE
	`, locationID, productID).Scan(&entry.ProductID, &entry.LocationID, &entry.Quantity, &entry.MinThreshold)
	if err != nil {
		return nil, err
	}

	switch mode {
	case domain.AdjustModeAdd:
		entry.Quantity += qty
	case domain.AdjustModeSubtract:
		// Manual corrections floor at zero; only the sale path is strict.
		entry.Quantity -= qty
		if entry.Quantity < 0 {
			entry.Quantity = 0
		}
	case domain.AdjustModeSet:
		entry.Quantity = qty
	default:
		return nil, store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET qty = $3, updated_at = now()
		WHERE location_id = $1 AND product_id = $2
	`, locationID, productID, entry.Quantity)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	adjusted := entry
	return &adjusted, nil
}

func (s *Store) SetStockThreshold(ctx context.Context, locationID string, productID string, minThreshold int) (*domain.StockEntry, error) {
	var entry domain.StockEntry
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stock_levels (location_id, product_id, qty, min_threshold, updated_at)
		VALUES ($1,$2,0,$3,now())
		ON CONFLICT (location_id, product_id)
		DO UPDATE SET min_threshold = EXCLUDED.min_threshold, updated_at = now()
		RETURNING product_id, location_id, qty, min_threshold
	`, locationID, productID, minThreshold).Scan(&entry.ProductID, &entry.LocationID, &entry.Quantity, &entry.MinThreshold)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, &store.UnknownProductError{ProductID: productID}
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, credit_balance, created_at)
		VALUES ($1,$2,$3,$4)
	`, customer.ID, customer.Name, customer.CreditBalance, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, credit_balance, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.CreditBalance, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) CreditCustomer(ctx context.Context, id string, amount decimal.Decimal) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET credit_balance = credit_balance + $2
		WHERE id = $1
		RETURNING id, name, credit_balance, created_at
	`, id, amount).Scan(&customer.ID, &customer.Name, &customer.CreditBalance, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

// CreateSale commits the sale atomically: stock rows are locked and checked
// line by line in request order, the credit debit is guarded against the
// balance, and the sale with its lines is inserted in the same transaction.
// Any failure rolls everything back.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.SaleCommit, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var locationActive bool
	err = tx.QueryRowContext(ctx, `SELECT active FROM locations WHERE id = $1`, sale.LocationID).Scan(&locationActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !locationActive {
		return nil, store.ErrLocationInactive
	}

	ids := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		ids = append(ids, line.ProductID)
	}

	stockRows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty, min_threshold
		FROM stock_levels
		WHERE location_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, sale.LocationID, ids)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[string]domain.StockEntry, len(ids))
	for stockRows.Next() {
		var entry domain.StockEntry
		if err := stockRows.Scan(&entry.ProductID, &entry.Quantity, &entry.MinThreshold); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		entry.LocationID = sale.LocationID
		stockMap[entry.ProductID] = entry
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, line := range sale.Lines {
		entry := stockMap[line.ProductID]
		if entry.Quantity < line.Quantity {
			return nil, &store.StockShortageError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: entry.Quantity,
			}
		}
	}

	for _, line := range sale.Lines {
		entry := stockMap[line.ProductID]
		before := entry.Quantity
		entry.Quantity -= line.Quantity
		stockMap[line.ProductID] = entry

		res, err := tx.ExecContext(ctx, `
			UPDATE stock_levels
			SET qty = qty - $1, updated_at = now()
			WHERE location_id = $2 AND product_id = $3 AND qty >= $1
		`, line.Quantity, sale.LocationID, line.ProductID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, &store.StockShortageError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: before,
			}
		}
	}

	// One event per product whose resulting quantity sits at or below its
	// threshold, already-low products included.
	var lowStock []domain.StockEntry
	reported := make(map[string]bool, len(sale.Lines))
	for _, line := range sale.Lines {
		if reported[line.ProductID] {
			continue
		}
		reported[line.ProductID] = true
		entry := stockMap[line.ProductID]
		if entry.Quantity <= entry.MinThreshold {
			lowStock = append(lowStock, entry)
		}
	}

	if sale.CreditApplied.IsPositive() {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET credit_balance = credit_balance - $1
			WHERE id = $2 AND credit_balance >= $1
		`, sale.CreditApplied, sale.CustomerID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var balance decimal.Decimal
			err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM customers WHERE id = $1`, sale.CustomerID).Scan(&balance)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
			return nil, &store.CreditShortageError{
				CustomerID: sale.CustomerID,
				Requested:  sale.CreditApplied,
				Available:  balance,
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, location_id, seller_id, customer_id, shift_id, payment_method,
			credit_applied, cash_tendered, total, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.LocationID, sale.SellerID, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.ShiftID),
		sale.PaymentMethod, sale.CreditApplied, sale.CashTendered, sale.Total, sale.Status, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	committed := sale
	return &domain.SaleCommit{Sale: committed, LowStock: lowStock}, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, location_id, seller_id, COALESCE(customer_id,''), COALESCE(shift_id,''),
			payment_method, credit_applied, cash_tendered, total, status, created_at, cancelled_at
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	lines, err := s.saleLines(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return sale, nil
}

func (s *Store) saleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// CancelSale restores the stock consumed by the sale and refunds any applied
// credit, then flips the status. Only completed sales can be cancelled.
func (s *Store) CancelSale(ctx context.Context, id string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := scanSale(tx.QueryRowContext(ctx, `
		SELECT id, location_id, seller_id, COALESCE(customer_id,''), COALESCE(shift_id,''),
			payment_method, credit_applied, cash_tendered, total, status, created_at, cancelled_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrSaleNotCancellable
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.SaleLine, 0, 8)
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	for _, line := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_levels (location_id, product_id, qty, min_threshold, updated_at)
			VALUES ($1,$2,$3,0,now())
			ON CONFLICT (location_id, product_id)
			DO UPDATE SET qty = stock_levels.qty + EXCLUDED.qty, updated_at = now()
		`, sale.LocationID, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if sale.CreditApplied.IsPositive() {
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET credit_balance = credit_balance + $1
			WHERE id = $2
		`, sale.CreditApplied, sale.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancelled_at = $3
		WHERE id = $1
	`, id, domain.SaleStatusCancelled, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	cancelledAt := at
	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &cancelledAt
	sale.Lines = lines
	return sale, nil
}

func (s *Store) ListSalesByShift(ctx context.Context, shiftID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_id, seller_id, COALESCE(customer_id,''), COALESCE(shift_id,''),
			payment_method, credit_applied, cash_tendered, total, status, created_at, cancelled_at
		FROM sales
		WHERE shift_id = $1
		ORDER BY created_at ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	location, err := s.GetLocation(ctx, shift.LocationID)
	if err != nil {
		return nil, err
	}
	if !location.Active {
		return nil, store.ErrLocationInactive
	}

	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen

	// shifts carries a partial unique index on (seller_id) WHERE status = 'open',
	// so a concurrent second open surfaces here as a unique violation.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, seller_id, location_id, status, opening_float, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, shift.ID, shift.SellerID, shift.LocationID, shift.Status, shift.OpeningFloat, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyOpen
		}
		return nil, err
	}

	created := shift
	return &created, nil
}

// CloseShift locks the shift row, recomputes the expected drawer from the
// completed sales attributed to the shift, and records the declared count
// with the variance.
func (s *Store) CloseShift(ctx context.Context, shiftID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var shift domain.Shift
	err = tx.QueryRowContext(ctx, `
		SELECT id, seller_id, location_id, status, opening_float, opened_at
		FROM shifts
		WHERE id = $1
		FOR UPDATE
	`, shiftID).Scan(&shift.ID, &shift.SellerID, &shift.LocationID, &shift.Status, &shift.OpeningFloat, &shift.OpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	var cashTaken decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE payment_method
				WHEN 'cash' THEN total
				WHEN 'mixed' THEN total - credit_applied
				ELSE 0
			END
		), 0)
		FROM sales
		WHERE shift_id = $1 AND status = $2
	`, shiftID, domain.SaleStatusCompleted).Scan(&cashTaken)
	if err != nil {
		return nil, err
	}

	expected := shift.OpeningFloat.Add(cashTaken)
	variance := closingCash.Sub(expected)

	_, err = tx.ExecContext(ctx, `
		UPDATE shifts
		SET status = $2, closing_cash = $3, expected_cash = $4, variance = $5, notes = $6, closed_at = $7
		WHERE id = $1
	`, shiftID, domain.ShiftStatusClosed, closingCash, expected, variance, nullIfEmpty(notes), closedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	at := closedAt
	closing := closingCash
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCash = &closing
	shift.ExpectedCash = &expected
	shift.Variance = &variance
	shift.Notes = notes
	shift.ClosedAt = &at
	shift.OpenedAt = shift.OpenedAt.UTC()
	return &shift, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, location_id, status, opening_float, opened_at,
			closing_cash, expected_cash, variance, COALESCE(notes,''), closed_at
		FROM shifts
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetActiveShiftBySeller(ctx context.Context, sellerID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, location_id, status, opening_float, opened_at,
			closing_cash, expected_cash, variance, COALESCE(notes,''), closed_at
		FROM shifts
		WHERE seller_id = $1 AND status = $2
	`, sellerID, domain.ShiftStatusOpen))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNoOpenShift
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var cancelledAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.LocationID,
		&sale.SellerID,
		&sale.CustomerID,
		&sale.ShiftID,
		&sale.PaymentMethod,
		&sale.CreditApplied,
		&sale.CashTendered,
		&sale.Total,
		&sale.Status,
		&sale.CreatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	return &sale, nil
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closingCash, expectedCash, variance decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(
		&shift.ID,
		&shift.SellerID,
		&shift.LocationID,
		&shift.Status,
		&shift.OpeningFloat,
		&shift.OpenedAt,
		&closingCash,
		&expectedCash,
		&variance,
		&shift.Notes,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closingCash.Valid {
		shift.ClosingCash = &closingCash.Decimal
	}
	if expectedCash.Valid {
		shift.ExpectedCash = &expectedCash.Decimal
	}
	if variance.Valid {
		shift.Variance = &variance.Decimal
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func nullIfEmpty(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
