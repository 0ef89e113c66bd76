// Package storetest holds behaviour checks shared by every store.Repository
// backend. Each check creates its own rows so the suite can run against a
// database that already holds data.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/store"
)

func Run(t *testing.T, repo store.Repository) {
	t.Run("ProductLifecycle", func(t *testing.T) { productLifecycle(t, repo) })
	t.Run("RecordSaleDecrementsStock", func(t *testing.T) { recordSaleDecrementsStock(t, repo) })
	t.Run("RecordSaleRejectsOversell", func(t *testing.T) { recordSaleRejectsOversell(t, repo) })
	t.Run("ConcurrentSalesNeverOversell", func(t *testing.T) { concurrentSalesNeverOversell(t, repo) })
	t.Run("AddStockRespectsCapacity", func(t *testing.T) { addStockRespectsCapacity(t, repo) })
	t.Run("AddStockRejectsNonFuel", func(t *testing.T) { addStockRejectsNonFuel(t, repo) })
	t.Run("UpdatePriceAppendsHistory", func(t *testing.T) { updatePriceAppendsHistory(t, repo) })
	t.Run("MonthlySalesAggregates", func(t *testing.T) { monthlySalesAggregates(t, repo) })
	t.Run("RecentSalesJoinsCurrentProduct", func(t *testing.T) { recentSalesJoinsCurrentProduct(t, repo) })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func createFuelProduct(t *testing.T, repo store.Repository, stock string, price string) *domain.Product {
	t.Helper()
	ctx := context.Background()

	ft, err := repo.CreateFuelType(ctx, domain.FuelType{Name: uniqueName("fuel")})
	require.NoError(t, err)
	p, err := repo.CreateProduct(ctx, domain.Product{
		Name:       uniqueName("Pertalite"),
		Stock:      dec(stock),
		Price:      dec(price),
		FuelTypeID: &ft.ID,
	})
	require.NoError(t, err)
	return p
}

func createGoods(t *testing.T, repo store.Repository, stock string, price string) *domain.Product {
	t.Helper()
	p, err := repo.CreateProduct(context.Background(), domain.Product{
		Name:  uniqueName("Engine Oil"),
		Stock: dec(stock),
		Price: dec(price),
	})
	require.NoError(t, err)
	return p
}

func productLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createFuelProduct(t, repo, "100", "10000")

	assert.True(t, p.IsFuel())
	require.NotNil(t, p.FuelTypeName)
	assert.False(t, p.CreatedAt.IsZero())

	newName := p.Name + "-renamed"
	updated, err := repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, newName, updated.Name)
	assert.True(t, updated.Stock.Equal(dec("100")), "stock kept, got %s", updated.Stock)
	assert.True(t, updated.Price.Equal(dec("10000")), "price kept, got %s", updated.Price)

	overCap := dec("350.5")
	updated, err = repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{Stock: &overCap})
	require.NoError(t, err)
	assert.True(t, updated.Stock.Equal(overCap), "generic update is not capped, got %s", updated.Stock)

	updated, err = repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{FuelTypeID: domain.OptionalID{Set: true}})
	require.NoError(t, err)
	assert.False(t, updated.IsFuel())
	assert.Nil(t, updated.FuelTypeName)

	missing := int64(999_999_999)
	_, err = repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{FuelTypeID: domain.OptionalID{Set: true, Value: &missing}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := repo.ListProducts(ctx, domain.ProductFilter{NameQuery: newName})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)

	deleted, err := repo.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = repo.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{Name: &newName})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func recordSaleDecrementsStock(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createFuelProduct(t, repo, "150", "10000")

	sale, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("50"), TotalPrice: dec("500000")})
	require.NoError(t, err)
	assert.NotZero(t, sale.ID)
	assert.False(t, sale.SaleDate.IsZero())
	assert.True(t, sale.Quantity.Equal(dec("50")))

	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", after.Stock.StringFixed(2))

	_, err = repo.RecordSale(ctx, domain.Sale{ProductID: 999_999_999, Quantity: dec("1"), TotalPrice: dec("1")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func recordSaleRejectsOversell(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createGoods(t, repo, "5", "85000")

	_, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("6"), TotalPrice: dec("510000")})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, after.Stock.Equal(dec("5")), "stock unchanged, got %s", after.Stock)

	_, err = repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("5"), TotalPrice: dec("425000")})
	require.NoError(t, err)

	after, err = repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, after.Stock.IsZero(), "selling the exact stock empties it, got %s", after.Stock)
}

func concurrentSalesNeverOversell(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createFuelProduct(t, repo, "10", "10000")

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("1"), TotalPrice: dec("10000")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, after.Stock.IsZero(), "stock drained to zero, got %s", after.Stock)
}

func addStockRespectsCapacity(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	capacity := domain.MaxFuelCapacity
	p := createFuelProduct(t, repo, "190", "14500")

	observed, err := repo.AddStock(ctx, p.ID, dec("20"), capacity)
	require.ErrorIs(t, err, store.ErrCapacityExceeded)
	require.NotNil(t, observed)
	assert.True(t, observed.Stock.Equal(dec("190")), "observed stock, got %s", observed.Stock)

	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, after.Stock.Equal(dec("190")), "stock unchanged after rejection, got %s", after.Stock)

	full, err := repo.AddStock(ctx, p.ID, dec("10"), capacity)
	require.NoError(t, err)
	assert.True(t, full.Stock.Equal(dec("200")), "filling to capacity is allowed, got %s", full.Stock)

	_, err = repo.AddStock(ctx, p.ID, dec("0.01"), capacity)
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)

	_, err = repo.AddStock(ctx, 999_999_999, dec("1"), capacity)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func addStockRejectsNonFuel(t *testing.T, repo store.Repository) {
	p := createGoods(t, repo, "10", "85000")

	_, err := repo.AddStock(context.Background(), p.ID, dec("1"), domain.MaxFuelCapacity)
	assert.ErrorIs(t, err, store.ErrNotFuelProduct)
}

func updatePriceAppendsHistory(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createFuelProduct(t, repo, "100", "10000")

	entry, err := repo.UpdatePrice(ctx, p.ID, dec("11000"))
	require.NoError(t, err)
	assert.True(t, entry.OldPrice.Equal(dec("10000")))
	assert.True(t, entry.NewPrice.Equal(dec("11000")))
	assert.Equal(t, p.ID, entry.ProductID)

	_, err = repo.UpdatePrice(ctx, p.ID, dec("11500"))
	require.NoError(t, err)

	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, after.Price.Equal(dec("11500")))

	history, err := repo.ListPriceHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].NewPrice.Equal(after.Price), "newest entry matches current price")
	assert.True(t, history[0].OldPrice.Equal(history[1].NewPrice), "entries chain")

	_, err = repo.UpdatePrice(ctx, 999_999_999, dec("1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func monthlySalesAggregates(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createFuelProduct(t, repo, "200", "10000")

	for _, qty := range []string{"10", "2.5"} {
		q := dec(qty)
		_, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: q, TotalPrice: q.Mul(p.Price)})
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	from, to := store.MonthRange(now.Year(), int(now.Month()))
	rows, err := repo.MonthlySales(ctx, from, to)
	require.NoError(t, err)

	var row *domain.MonthlySalesRow
	for i := range rows {
		if rows[i].ProductID == p.ID {
			row = &rows[i]
		}
	}
	require.NotNil(t, row, "product with sales appears in its month")
	assert.Equal(t, p.Name, row.Name)
	assert.True(t, row.TotalQuantity.Equal(dec("12.5")), "quantity, got %s", row.TotalQuantity)
	assert.True(t, row.TotalRevenue.Equal(dec("125000")), "revenue, got %s", row.TotalRevenue)

	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i-1].Name, rows[i].Name, "rows ordered by name")
	}

	prevFrom, prevTo := store.MonthRange(from.AddDate(0, -1, 0).Year(), int(from.AddDate(0, -1, 0).Month()))
	rows, err = repo.MonthlySales(ctx, prevFrom, prevTo)
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotEqual(t, p.ID, r.ProductID, "sales outside the month are excluded")
	}
}

func recentSalesJoinsCurrentProduct(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := createGoods(t, repo, "50", "85000")

	first, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("1"), TotalPrice: dec("85000")})
	require.NoError(t, err)
	second, err := repo.RecordSale(ctx, domain.Sale{ProductID: p.ID, Quantity: dec("2"), TotalPrice: dec("170000")})
	require.NoError(t, err)

	renamed := p.Name + "-new"
	_, err = repo.UpdateProduct(ctx, p.ID, domain.ProductPatch{Name: &renamed})
	require.NoError(t, err)

	recent, err := repo.ListRecentSales(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
	assert.Equal(t, renamed, recent[0].ProductName)
	assert.True(t, recent[0].ProductPrice.Equal(dec("85000")))
}
