package memory

import (
	"context"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	now          func() time.Time
	nextID       map[string]int64
	fuelTypes    map[int64]domain.FuelType
	products     map[int64]domain.Product
	sales        []domain.Sale
	priceHistory []domain.FuelPriceHistory
}

func New() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		nextID:    make(map[string]int64),
		fuelTypes: make(map[int64]domain.FuelType),
		products:  make(map[int64]domain.Product),
	}
}

func NewSeeded() *Store {
	s := New()
	if _, err := store.ApplySeed(context.Background(), s, store.DefaultSeed()); err != nil {
		log.Fatalf("[memory-store] failed to seed demo data: %v", err)
	}
	return s
}

// SetClock overrides the timestamp source; tests use it to place sales in a
// chosen month.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func (s *Store) withFuelTypeName(p domain.Product) domain.Product {
	p.FuelTypeName = nil
	if p.FuelTypeID != nil {
		if ft, ok := s.fuelTypes[*p.FuelTypeID]; ok {
			name := ft.Name
			p.FuelTypeName = &name
		}
	}
	return p
}

func (s *Store) ListFuelTypes(_ context.Context) ([]domain.FuelType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FuelType, 0, len(s.fuelTypes))
	for _, ft := range s.fuelTypes {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetFuelType(_ context.Context, id int64) (*domain.FuelType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ft, ok := s.fuelTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ft, nil
}

func (s *Store) CreateFuelType(_ context.Context, fuelType domain.FuelType) (*domain.FuelType, error) {
	if strings.TrimSpace(fuelType.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fuelType.ID = s.id("fuel_types")
	fuelType.CreatedAt = s.now()
	s.fuelTypes[fuelType.ID] = fuelType
	created := fuelType
	return &created, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.NameQuery))
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.FuelOnly {
			// Fuel products are listed only when their fuel type still exists.
			if p.FuelTypeID == nil {
				continue
			}
			if _, ok := s.fuelTypes[*p.FuelTypeID]; !ok {
				continue
			}
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		out = append(out, s.withFuelTypeName(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p = s.withFuelTypeName(p)
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Stock.IsNegative() || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.FuelTypeID != nil {
		if _, ok := s.fuelTypes[*product.FuelTypeID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	product.ID = s.id("products")
	product.Stock = product.Stock.Round(domain.QuantityPlaces)
	product.CreatedAt = s.now()
	product.FuelTypeName = nil
	s.products[product.ID] = product

	created := s.withFuelTypeName(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Stock != nil {
		if patch.Stock.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		p.Stock = patch.Stock.Round(domain.QuantityPlaces)
	}
	if patch.Price != nil {
		if !patch.Price.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		p.Price = *patch.Price
	}
	if patch.FuelTypeID.Set {
		if patch.FuelTypeID.Value != nil {
			if _, ok := s.fuelTypes[*patch.FuelTypeID.Value]; !ok {
				return nil, store.ErrNotFound
			}
			fuelTypeID := *patch.FuelTypeID.Value
			p.FuelTypeID = &fuelTypeID
		} else {
			p.FuelTypeID = nil
		}
	}
	s.products[id] = p

	updated := s.withFuelTypeName(p)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return false, nil
	}
	delete(s.products, id)
	return true, nil
}

func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Quantity.IsPositive() || !sale.TotalPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[sale.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	qty := sale.Quantity.Round(domain.QuantityPlaces)
	if p.Stock.LessThan(qty) {
		return nil, store.ErrInsufficientStock
	}
	p.Stock = p.Stock.Sub(qty)
	s.products[p.ID] = p

	sale.ID = s.id("sales")
	sale.Quantity = qty
	sale.SaleDate = s.now()
	s.sales = append(s.sales, sale)

	created := sale
	return &created, nil
}

func (s *Store) AddStock(_ context.Context, productID int64, amount decimal.Decimal, capacity decimal.Decimal) (*domain.Product, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !p.IsFuel() {
		return nil, store.ErrNotFuelProduct
	}
	amount = amount.Round(domain.QuantityPlaces)
	next := p.Stock.Add(amount)
	if next.GreaterThan(capacity) {
		observed := s.withFuelTypeName(p)
		return &observed, store.ErrCapacityExceeded
	}
	p.Stock = next
	s.products[p.ID] = p

	updated := s.withFuelTypeName(p)
	return &updated, nil
}

func (s *Store) UpdatePrice(_ context.Context, productID int64, newPrice decimal.Decimal) (*domain.FuelPriceHistory, error) {
	if !newPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry := domain.FuelPriceHistory{
		ID:         s.id("fuel_price_history"),
		ProductID:  productID,
		OldPrice:   p.Price,
		NewPrice:   newPrice,
		ChangeDate: s.now(),
	}
	p.Price = newPrice
	s.products[p.ID] = p
	s.priceHistory = append(s.priceHistory, entry)

	created := entry
	return &created, nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID int64) ([]domain.FuelPriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FuelPriceHistory, 0, 8)
	for _, entry := range s.priceHistory {
		if entry.ProductID == productID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ChangeDate.Equal(out[j].ChangeDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].ChangeDate.After(out[j].ChangeDate)
	})
	return out, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.sales), nil
}

func (s *Store) ListRecentSales(_ context.Context, limit int) ([]domain.RecentSale, error) {
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := slices.Clone(s.sales)
	sortSalesNewestFirst(ordered)

	out := make([]domain.RecentSale, 0, limit)
	for _, sale := range ordered {
		if len(out) == limit {
			break
		}
		p, ok := s.products[sale.ProductID]
		if !ok {
			continue
		}
		out = append(out, domain.RecentSale{Sale: sale, ProductName: p.Name, ProductPrice: p.Price})
	}
	return out, nil
}

func (s *Store) ListSalesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 16)
	for _, sale := range s.sales {
		if !sale.SaleDate.Before(from) && sale.SaleDate.Before(to) {
			out = append(out, sale)
		}
	}
	sortSalesNewestFirst(out)
	return out, nil
}

func (s *Store) MonthlySales(_ context.Context, from time.Time, to time.Time) ([]domain.MonthlySalesRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[int64]*domain.MonthlySalesRow)
	for _, sale := range s.sales {
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		p, ok := s.products[sale.ProductID]
		if !ok {
			continue
		}
		row, ok := byProduct[p.ID]
		if !ok {
			row = &domain.MonthlySalesRow{ProductID: p.ID, Name: p.Name}
			byProduct[p.ID] = row
		}
		row.TotalQuantity = row.TotalQuantity.Add(sale.Quantity)
		row.TotalRevenue = row.TotalRevenue.Add(sale.TotalPrice)
	}

	out := make([]domain.MonthlySalesRow, 0, len(byProduct))
	for _, row := range byProduct {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func sortSalesNewestFirst(sales []domain.Sale) {
	sort.SliceStable(sales, func(i, j int) bool {
		if sales[i].SaleDate.Equal(sales[j].SaleDate) {
			return sales[i].ID > sales[j].ID
		}
		return sales[i].SaleDate.After(sales[j].SaleDate)
	})
}
