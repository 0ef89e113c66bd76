package mysql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/store"
)

type fuelTypeRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"type:varchar(100);not null"`
	Description *string   `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (fuelTypeRow) TableName() string { return "fuel_types" }

type productRow struct {
	ID         int64           `gorm:"primaryKey;autoIncrement"`
	Name       string          `gorm:"type:varchar(100);not null;index"`
	Stock      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	Price      decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	FuelTypeID *int64          `gorm:"index"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (productRow) TableName() string { return "products" }

type saleRow struct {
	ID         int64           `gorm:"primaryKey;autoIncrement"`
	ProductID  int64           `gorm:"not null;index"`
	Quantity   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	SaleDate   time.Time       `gorm:"not null;index"`
}

func (saleRow) TableName() string { return "sales" }

type priceHistoryRow struct {
	ID         int64           `gorm:"primaryKey;autoIncrement"`
	ProductID  int64           `gorm:"not null;index"`
	OldPrice   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	NewPrice   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	ChangeDate time.Time       `gorm:"not null"`
}

func (priceHistoryRow) TableName() string { return "fuel_price_history" }

// productView is a product row joined with its fuel type name.
type productView struct {
	ID           int64
	Name         string
	Stock        decimal.Decimal
	Price        decimal.Decimal
	FuelTypeID   *int64
	FuelTypeName *string
	CreatedAt    time.Time
}

func (v productView) toDomain() domain.Product {
	return domain.Product{
		ID:           v.ID,
		Name:         v.Name,
		Stock:        v.Stock,
		Price:        v.Price,
		FuelTypeID:   v.FuelTypeID,
		FuelTypeName: v.FuelTypeName,
		CreatedAt:    v.CreatedAt.UTC(),
	}
}

type recentSaleView struct {
	ID           int64
	ProductID    int64
	Quantity     decimal.Decimal
	TotalPrice   decimal.Decimal
	SaleDate     time.Time
	ProductName  string
	ProductPrice decimal.Decimal
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New opens a MySQL connection. The DSN must carry parseTime=true; loc=UTC is
// recommended so report month boundaries line up with stored timestamps.
func New(ctx context.Context, dsn string, log logger.Writer) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.New(log, logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(8)
	sqlDB.SetMaxOpenConns(30)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&fuelTypeRow{}, &productRow{}, &saleRow{}, &priceHistoryRow{})
}

func (s *Store) products(tx *gorm.DB) *gorm.DB {
	return tx.Table("products").
		Select("products.id, products.name, products.stock, products.price, products.fuel_type_id, fuel_types.name AS fuel_type_name, products.created_at").
		Joins("LEFT JOIN fuel_types ON fuel_types.id = products.fuel_type_id")
}

func (s *Store) loadProduct(tx *gorm.DB, id int64) (*domain.Product, error) {
	var view productView
	res := s.products(tx).Where("products.id = ?", id).Limit(1).Scan(&view)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	p := view.toDomain()
	return &p, nil
}

func fuelTypeToDomain(row fuelTypeRow) domain.FuelType {
	return domain.FuelType{ID: row.ID, Name: row.Name, Description: row.Description, CreatedAt: row.CreatedAt.UTC()}
}

func (s *Store) ListFuelTypes(ctx context.Context) ([]domain.FuelType, error) {
	var rows []fuelTypeRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.FuelType, 0, len(rows))
	for _, row := range rows {
		out = append(out, fuelTypeToDomain(row))
	}
	return out, nil
}

func (s *Store) GetFuelType(ctx context.Context, id int64) (*domain.FuelType, error) {
	var row fuelTypeRow
	if err := s.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ft := fuelTypeToDomain(row)
	return &ft, nil
}

func (s *Store) CreateFuelType(ctx context.Context, fuelType domain.FuelType) (*domain.FuelType, error) {
	if strings.TrimSpace(fuelType.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	row := fuelTypeRow{Name: fuelType.Name, Description: fuelType.Description, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	ft := fuelTypeToDomain(row)
	return &ft, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	q := s.products(s.db.WithContext(ctx))
	if filter.FuelOnly {
		q = q.Where("fuel_types.id IS NOT NULL")
	}
	if name := strings.TrimSpace(filter.NameQuery); name != "" {
		q = q.Where("products.name LIKE ?", "%"+escapeLike(name)+"%")
	}

	var views []productView
	if err := q.Order("products.id").Scan(&views).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(views))
	for _, v := range views {
		out = append(out, v.toDomain())
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.loadProduct(s.db.WithContext(ctx), id)
}

func ensureFuelType(tx *gorm.DB, id *int64) error {
	if id == nil {
		return nil
	}
	var count int64
	if err := tx.Model(&fuelTypeRow{}).Where("id = ?", *id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Stock.IsNegative() || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	var created *domain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureFuelType(tx, product.FuelTypeID); err != nil {
			return err
		}
		row := productRow{
			Name:       product.Name,
			Stock:      product.Stock.Round(domain.QuantityPlaces),
			Price:      product.Price,
			FuelTypeID: product.FuelTypeID,
			CreatedAt:  s.now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		p, err := s.loadProduct(tx, row.ID)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	updates := make(map[string]any, 4)
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Stock != nil {
		if patch.Stock.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		updates["stock"] = patch.Stock.Round(domain.QuantityPlaces)
	}
	if patch.Price != nil {
		if !patch.Price.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		updates["price"] = *patch.Price
	}
	if patch.FuelTypeID.Set {
		updates["fuel_type_id"] = patch.FuelTypeID.Value
	}

	var updated *domain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// MySQL reports changed rows, not matched rows, so existence is
		// checked under a row lock rather than through RowsAffected.
		var row productRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if patch.FuelTypeID.Set {
			if err := ensureFuelType(tx, patch.FuelTypeID.Value); err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&productRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}
		p, err := s.loadProduct(tx, id)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&productRow{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Decimal arguments travel as strings; the casts keep the conditional updates
// in exact decimal arithmetic instead of MySQL's implicit double conversion.
func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Quantity.IsPositive() || !sale.TotalPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	qty := sale.Quantity.Round(domain.QuantityPlaces)

	row := saleRow{ProductID: sale.ProductID, Quantity: qty, TotalPrice: sale.TotalPrice}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&productRow{}).
			Where("id = ? AND stock >= CAST(? AS DECIMAL(14,2))", sale.ProductID, qty).
			Update("stock", gorm.Expr("stock - CAST(? AS DECIMAL(14,2))", qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&productRow{}).Where("id = ?", sale.ProductID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return store.ErrNotFound
			}
			return store.ErrInsufficientStock
		}

		row.SaleDate = s.now()
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}

	return &domain.Sale{
		ID:         row.ID,
		ProductID:  row.ProductID,
		Quantity:   row.Quantity,
		TotalPrice: row.TotalPrice,
		SaleDate:   row.SaleDate,
	}, nil
}

func (s *Store) AddStock(ctx context.Context, productID int64, amount decimal.Decimal, capacity decimal.Decimal) (*domain.Product, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	amount = amount.Round(domain.QuantityPlaces)

	var product *domain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&productRow{}).
			Where("id = ? AND fuel_type_id IS NOT NULL AND stock + CAST(? AS DECIMAL(14,2)) <= CAST(? AS DECIMAL(14,2))", productID, amount, capacity).
			Update("stock", gorm.Expr("stock + CAST(? AS DECIMAL(14,2))", amount))
		if res.Error != nil {
			return res.Error
		}

		p, err := s.loadProduct(tx, productID)
		if err != nil {
			return err
		}
		product = p
		if res.RowsAffected == 0 {
			if !p.IsFuel() {
				return store.ErrNotFuelProduct
			}
			return store.ErrCapacityExceeded
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrCapacityExceeded) {
			return product, err
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdatePrice(ctx context.Context, productID int64, newPrice decimal.Decimal) (*domain.FuelPriceHistory, error) {
	if !newPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	var entry priceHistoryRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row productRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&row, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}

		entry = priceHistoryRow{
			ProductID:  productID,
			OldPrice:   row.Price,
			NewPrice:   newPrice,
			ChangeDate: s.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Model(&productRow{}).Where("id = ?", productID).Update("price", newPrice).Error
	})
	if err != nil {
		return nil, err
	}

	return &domain.FuelPriceHistory{
		ID:         entry.ID,
		ProductID:  entry.ProductID,
		OldPrice:   entry.OldPrice,
		NewPrice:   entry.NewPrice,
		ChangeDate: entry.ChangeDate,
	}, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, productID int64) ([]domain.FuelPriceHistory, error) {
	var rows []priceHistoryRow
	if err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("change_date DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.FuelPriceHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.FuelPriceHistory{
			ID:         row.ID,
			ProductID:  row.ProductID,
			OldPrice:   row.OldPrice,
			NewPrice:   row.NewPrice,
			ChangeDate: row.ChangeDate.UTC(),
		})
	}
	return out, nil
}

func saleToDomain(row saleRow) domain.Sale {
	return domain.Sale{
		ID:         row.ID,
		ProductID:  row.ProductID,
		Quantity:   row.Quantity,
		TotalPrice: row.TotalPrice,
		SaleDate:   row.SaleDate.UTC(),
	}
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	var rows []saleRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		out = append(out, saleToDomain(row))
	}
	return out, nil
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	var rows []saleRow
	if err := s.db.WithContext(ctx).
		Where("sale_date >= ? AND sale_date < ?", from.UTC(), to.UTC()).
		Order("sale_date DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		out = append(out, saleToDomain(row))
	}
	return out, nil
}

func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error) {
	if limit < 1 {
		limit = 10
	}

	var rows []recentSaleView
	if err := s.db.WithContext(ctx).
		Table("sales").
		Select("sales.id, sales.product_id, sales.quantity, sales.total_price, sales.sale_date, products.name AS product_name, products.price AS product_price").
		Joins("JOIN products ON products.id = sales.product_id").
		Order("sales.sale_date DESC, sales.id DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.RecentSale, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RecentSale{
			Sale: saleToDomain(saleRow{
				ID:         row.ID,
				ProductID:  row.ProductID,
				Quantity:   row.Quantity,
				TotalPrice: row.TotalPrice,
				SaleDate:   row.SaleDate,
			}),
			ProductName:  row.ProductName,
			ProductPrice: row.ProductPrice,
		})
	}
	return out, nil
}

func (s *Store) MonthlySales(ctx context.Context, from time.Time, to time.Time) ([]domain.MonthlySalesRow, error) {
	var rows []domain.MonthlySalesRow
	if err := s.db.WithContext(ctx).
		Table("sales").
		Select("products.id AS product_id, products.name AS name, SUM(sales.quantity) AS total_quantity, SUM(sales.total_price) AS total_revenue").
		Joins("JOIN products ON products.id = sales.product_id").
		Where("sales.sale_date >= ? AND sales.sale_date < ?", from.UTC(), to.UTC()).
		Group("products.id, products.name").
		Order("products.name, products.id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.MonthlySalesRow{}
	}
	return rows, nil
}

func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}
