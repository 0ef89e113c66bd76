package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

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

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

const productColumns = `
	p.id, p.name, p.stock, p.price, p.fuel_type_id, ft.name, p.created_at
`

const productFrom = `
	FROM products p
	LEFT JOIN fuel_types ft ON ft.id = p.fuel_type_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p            domain.Product
		fuelTypeID   sql.NullInt64
		fuelTypeName sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &fuelTypeID, &fuelTypeName, &p.CreatedAt); err != nil {
		return nil, err
	}
	if fuelTypeID.Valid {
		id := fuelTypeID.Int64
		p.FuelTypeID = &id
	}
	if fuelTypeName.Valid {
		name := fuelTypeName.String
		p.FuelTypeName = &name
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListFuelTypes(ctx context.Context) ([]domain.FuelType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM fuel_types
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fuelTypes := make([]domain.FuelType, 0, 8)
	for rows.Next() {
		ft, err := scanFuelType(rows)
		if err != nil {
			return nil, err
		}
		fuelTypes = append(fuelTypes, *ft)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fuelTypes, nil
}

func scanFuelType(row rowScanner) (*domain.FuelType, error) {
	var (
		ft          domain.FuelType
		description sql.NullString
	)
	if err := row.Scan(&ft.ID, &ft.Name, &description, &ft.CreatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		d := description.String
		ft.Description = &d
	}
	ft.CreatedAt = ft.CreatedAt.UTC()
	return &ft, nil
}

func (s *Store) GetFuelType(ctx context.Context, id int64) (*domain.FuelType, error) {
	ft, err := scanFuelType(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at
		FROM fuel_types
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return ft, nil
}

func (s *Store) CreateFuelType(ctx context.Context, fuelType domain.FuelType) (*domain.FuelType, error) {
	if strings.TrimSpace(fuelType.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	created, err := scanFuelType(s.db.QueryRowContext(ctx, `
		INSERT INTO fuel_types (name, description, created_at)
		VALUES ($1, $2, now())
		RETURNING id, name, description, created_at
	`, fuelType.Name, nullString(fuelType.Description)))
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.FuelOnly {
		where = append(where, "ft.id IS NOT NULL")
	}
	if q := strings.TrimSpace(filter.NameQuery); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		where = append(where, "p.name ILIKE $1")
	}

	query := "SELECT " + productColumns + productFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getProduct(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, "SELECT "+productColumns+productFrom+" WHERE p.id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Stock.IsNegative() || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, stock, price, fuel_type_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, product.Name, product.Stock.Round(domain.QuantityPlaces), product.Price, nullInt64(product.FuelTypeID)).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if patch.Name != nil {
		sets = append(sets, "name = "+arg(*patch.Name))
	}
	if patch.Stock != nil {
		if patch.Stock.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		sets = append(sets, "stock = "+arg(patch.Stock.Round(domain.QuantityPlaces)))
	}
	if patch.Price != nil {
		if !patch.Price.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		sets = append(sets, "price = "+arg(*patch.Price))
	}
	if patch.FuelTypeID.Set {
		sets = append(sets, "fuel_type_id = "+arg(nullInt64(patch.FuelTypeID.Value)))
	}
	if len(sets) == 0 {
		return s.GetProduct(ctx, id)
	}

	query := "UPDATE products SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(id)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Quantity.IsPositive() || !sale.TotalPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	qty := sale.Quantity.Round(domain.QuantityPlaces)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND stock >= $1
	`, qty, sale.ProductID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, sale.ProductID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInsufficientStock
	}

	created := domain.Sale{ProductID: sale.ProductID, Quantity: qty, TotalPrice: sale.TotalPrice}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO sales (product_id, quantity, total_price, sale_date)
		VALUES ($1, $2, $3, now())
		RETURNING id, sale_date
	`, created.ProductID, created.Quantity, created.TotalPrice).Scan(&created.ID, &created.SaleDate); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created.SaleDate = created.SaleDate.UTC()
	return &created, nil
}

func (s *Store) AddStock(ctx context.Context, productID int64, amount decimal.Decimal, capacity decimal.Decimal) (*domain.Product, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	amount = amount.Round(domain.QuantityPlaces)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1
		WHERE id = $2 AND fuel_type_id IS NOT NULL AND stock + $1 <= $3
	`, amount, productID, capacity)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	product, err := s.getProduct(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if !product.IsFuel() {
			return nil, store.ErrNotFuelProduct
		}
		return product, store.ErrCapacityExceeded
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdatePrice(ctx context.Context, productID int64, newPrice decimal.Decimal) (*domain.FuelPriceHistory, error) {
	if !newPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var oldPrice decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT price
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&oldPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	entry := domain.FuelPriceHistory{ProductID: productID, OldPrice: oldPrice, NewPrice: newPrice}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO fuel_price_history (product_id, old_price, new_price, change_date)
		VALUES ($1, $2, $3, now())
		RETURNING id, change_date
	`, productID, oldPrice, newPrice).Scan(&entry.ID, &entry.ChangeDate); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE products SET price = $1 WHERE id = $2`, newPrice, productID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	entry.ChangeDate = entry.ChangeDate.UTC()
	return &entry, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, productID int64) ([]domain.FuelPriceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, old_price, new_price, change_date
		FROM fuel_price_history
		WHERE product_id = $1
		ORDER BY change_date DESC, id DESC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.FuelPriceHistory, 0, 16)
	for rows.Next() {
		var entry domain.FuelPriceHistory
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.OldPrice, &entry.NewPrice, &entry.ChangeDate); err != nil {
			return nil, err
		}
		entry.ChangeDate = entry.ChangeDate.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT id, product_id, quantity, total_price, sale_date
		FROM sales
		ORDER BY id
	`)
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT id, product_id, quantity, total_price, sale_date
		FROM sales
		WHERE sale_date >= $1 AND sale_date < $2
		ORDER BY sale_date DESC, id DESC
	`, from.UTC(), to.UTC())
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.Quantity, &sale.TotalPrice, &sale.SaleDate); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.product_id, s.quantity, s.total_price, s.sale_date, p.name, p.price
		FROM sales s
		JOIN products p ON p.id = s.product_id
		ORDER BY s.sale_date DESC, s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.RecentSale, 0, limit)
	for rows.Next() {
		var r domain.RecentSale
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Quantity, &r.TotalPrice, &r.SaleDate, &r.ProductName, &r.ProductPrice); err != nil {
			return nil, err
		}
		r.SaleDate = r.SaleDate.UTC()
		sales = append(sales, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) MonthlySales(ctx context.Context, from time.Time, to time.Time) ([]domain.MonthlySalesRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, SUM(s.quantity), SUM(s.total_price)
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.sale_date >= $1 AND s.sale_date < $2
		GROUP BY p.id, p.name
		ORDER BY p.name, p.id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := make([]domain.MonthlySalesRow, 0, 16)
	for rows.Next() {
		var row domain.MonthlySalesRow
		if err := rows.Scan(&row.ProductID, &row.Name, &row.TotalQuantity, &row.TotalRevenue); err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// escapeLike quotes LIKE wildcards so a search for "50%" matches literally.
func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
