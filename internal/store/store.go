package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pompaku/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrNotFuelProduct    = errors.New("product is not a fuel product")
	ErrInvalidInput      = errors.New("invalid input")
)

// Repository is the entity store behind the inventory ledger. Methods that
// mutate stock or price are atomic: RecordSale, AddStock and UpdatePrice
// each commit their writes as one unit or not at all.
type Repository interface {
	ListFuelTypes(ctx context.Context) ([]domain.FuelType, error)
	GetFuelType(ctx context.Context, id int64) (*domain.FuelType, error)
	CreateFuelType(ctx context.Context, fuelType domain.FuelType) (*domain.FuelType, error)

	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) (bool, error)

	// RecordSale decrements stock only when stock >= sale.Quantity and inserts
	// the sale in the same transaction.
	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// AddStock increments stock of a fuel product only when the result stays
	// within capacity. On ErrCapacityExceeded the returned product carries the
	// stock observed at rejection time.
	AddStock(ctx context.Context, productID int64, amount decimal.Decimal, capacity decimal.Decimal) (*domain.Product, error)
	// UpdatePrice appends a price history row and sets the new price atomically.
	UpdatePrice(ctx context.Context, productID int64, newPrice decimal.Decimal) (*domain.FuelPriceHistory, error)
	ListPriceHistory(ctx context.Context, productID int64) ([]domain.FuelPriceHistory, error)

	ListSales(ctx context.Context) ([]domain.Sale, error)
	ListRecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	MonthlySales(ctx context.Context, from time.Time, to time.Time) ([]domain.MonthlySalesRow, error)
}

// MonthRange returns the half-open UTC interval covering the given month.
func MonthRange(year int, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// Seed describes the demo data loaded into an empty store.
type Seed struct {
	FuelTypes []domain.FuelType
	// Products reference fuel types by name; the loader resolves ids.
	Products []SeedProduct
}

type SeedProduct struct {
	Name     string
	Stock    decimal.Decimal
	Price    decimal.Decimal
	FuelType string
}

func strPtr(s string) *string { return &s }

// DefaultSeed mirrors the station's opening inventory.
func DefaultSeed() Seed {
	return Seed{
		FuelTypes: []domain.FuelType{
			{Name: "Pertamax", Description: strPtr("BBM RON 92")},
			{Name: "Pertalite", Description: strPtr("BBM RON 90")},
			{Name: "Solar", Description: strPtr("BBM Diesel")},
		},
		Products: []SeedProduct{
			{Name: "Pertamax", Stock: decimal.NewFromInt(10000), Price: decimal.NewFromInt(13900), FuelType: "Pertamax"},
			{Name: "Pertalite", Stock: decimal.NewFromInt(10000), Price: decimal.NewFromInt(10000), FuelType: "Pertalite"},
			{Name: "Solar", Stock: decimal.NewFromInt(10000), Price: decimal.NewFromInt(6800), FuelType: "Solar"},
			{Name: "Engine Oil", Stock: decimal.NewFromInt(120), Price: decimal.NewFromInt(85000)},
		},
	}
}

// ApplySeed loads seed into repo when it holds no fuel types yet.
func ApplySeed(ctx context.Context, repo Repository, seed Seed) (bool, error) {
	existing, err := repo.ListFuelTypes(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	ids := make(map[string]int64, len(seed.FuelTypes))
	for _, ft := range seed.FuelTypes {
		created, err := repo.CreateFuelType(ctx, ft)
		if err != nil {
			return false, err
		}
		ids[created.Name] = created.ID
	}
	for _, sp := range seed.Products {
		product := domain.Product{Name: sp.Name, Stock: sp.Stock, Price: sp.Price}
		if sp.FuelType != "" {
			id, ok := ids[sp.FuelType]
			if !ok {
				return false, ErrNotFound
			}
			product.FuelTypeID = &id
		}
		if _, err := repo.CreateProduct(ctx, product); err != nil {
			return false, err
		}
	}
	return true, nil
}
