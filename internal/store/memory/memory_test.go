package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/store"
	"pompaku/backend/internal/store/storetest"
)

func TestRepositoryBehaviour(t *testing.T) {
	storetest.Run(t, New())
}

func TestNewSeededLoadsOpeningInventory(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	fuelTypes, err := s.ListFuelTypes(ctx)
	require.NoError(t, err)
	require.Len(t, fuelTypes, 3)
	assert.Equal(t, "Pertamax", fuelTypes[0].Name)

	fuel, err := s.ListProducts(ctx, domain.ProductFilter{FuelOnly: true})
	require.NoError(t, err)
	assert.Len(t, fuel, 3)
	for _, p := range fuel {
		require.NotNil(t, p.FuelTypeName)
		assert.Equal(t, p.Name, *p.FuelTypeName)
	}

	all, err := s.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	seeded, err := store.ApplySeed(ctx, s, store.DefaultSeed())
	require.NoError(t, err)
	assert.False(t, seeded, "seed is skipped once fuel types exist")
}

func TestListProductsSearchIsCaseInsensitive(t *testing.T) {
	s := NewSeeded()

	found, err := s.ListProducts(context.Background(), domain.ProductFilter{NameQuery: "perta"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestMonthlySalesUsesHalfOpenMonth(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	clock := time.Date(2024, time.May, 31, 23, 59, 59, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })
	_, err := s.RecordSale(ctx, domain.Sale{ProductID: 2, Quantity: decimal.NewFromInt(3), TotalPrice: decimal.NewFromInt(30000)})
	require.NoError(t, err)

	clock = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.RecordSale(ctx, domain.Sale{ProductID: 2, Quantity: decimal.NewFromInt(4), TotalPrice: decimal.NewFromInt(40000)})
	require.NoError(t, err)

	from, to := store.MonthRange(2024, 5)
	rows, err := s.MonthlySales(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].TotalQuantity.String())

	from, to = store.MonthRange(2024, 6)
	rows, err = s.MonthlySales(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "4", rows[0].TotalQuantity.String())

	between, err := s.ListSalesBetween(ctx, from, to)
	require.NoError(t, err)
	assert.Len(t, between, 1)
}

func TestDeletedProductKeepsSalesButLeavesReports(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.RecordSale(ctx, domain.Sale{ProductID: 4, Quantity: decimal.NewFromInt(1), TotalPrice: decimal.NewFromInt(85000)})
	require.NoError(t, err)

	deleted, err := s.DeleteProduct(ctx, 4)
	require.NoError(t, err)
	require.True(t, deleted)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Len(t, sales, 1, "sale rows survive product deletion")

	recent, err := s.ListRecentSales(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestSaleQuantityRoundedToTwoPlaces(t *testing.T) {
	s := NewSeeded()

	sale, err := s.RecordSale(context.Background(), domain.Sale{
		ProductID:  2,
		Quantity:   decimal.RequireFromString("1.005"),
		TotalPrice: decimal.NewFromInt(10050),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.01", sale.Quantity.StringFixed(2))
}
