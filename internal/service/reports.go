package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/logging"
	"pompaku/backend/internal/store"
)

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

// RecentSales lists the newest sales joined with each product's current name
// and price. Sales of deleted products are left out.
func (s *Service) RecentSales(ctx context.Context, limit int) (sales []domain.RecentSale, err error) {
	ctx, span := s.span(ctx, "RecentSales", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	if limit < 1 {
		return nil, &ValidationError{Fields: []FieldError{{Field: "limit", Message: "must be at least 1"}}}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return s.repo.ListRecentSales(ctx, limit)
}

func (s *Service) MonthlySales(ctx context.Context, year int, month int) (report domain.MonthlySalesReport, err error) {
	ctx, span := s.span(ctx, "MonthlySales", attribute.Int("year", year), attribute.Int("month", month))
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	if year < 1970 || year > 9999 {
		errs.add("year", "must be between 1970 and 9999")
	}
	if month < 1 || month > 12 {
		errs.add("month", "must be between 1 and 12")
	}
	if err := errs.err(); err != nil {
		return domain.MonthlySalesReport{}, err
	}

	cached, ok, err := s.reports.GetMonthly(ctx, year, month)
	if err != nil {
		logging.LogWarn(s.logger, "service", "MonthlySales", "read cached report", err)
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return *cached, nil
	}

	key := fmt.Sprintf("%04d-%02d", year, month)
	v, err, _ := s.group.Do(key, func() (any, error) {
		// The flight outlives any single caller.
		ctx := context.WithoutCancel(ctx)

		generation, genErr := s.reports.MonthlyGeneration(ctx, year, month)
		if genErr != nil {
			logging.LogWarn(s.logger, "service", "MonthlySales", "read report generation", genErr)
		}

		from, to := store.MonthRange(year, month)
		rows, err := s.repo.MonthlySales(ctx, from, to)
		if err != nil {
			return nil, err
		}

		built := domain.MonthlySalesReport{
			Year:          year,
			Month:         month,
			Rows:          rows,
			TotalQuantity: decimal.Zero,
			TotalRevenue:  decimal.Zero,
		}
		for _, row := range rows {
			built.TotalQuantity = built.TotalQuantity.Add(row.TotalQuantity)
			built.TotalRevenue = built.TotalRevenue.Add(row.TotalRevenue)
		}

		if genErr == nil {
			if _, err := s.reports.SetMonthly(ctx, &built, generation, s.cacheTTL); err != nil {
				logging.LogWarn(s.logger, "service", "MonthlySales", "store cached report", err)
			}
		}
		return built, nil
	})
	if err != nil {
		return domain.MonthlySalesReport{}, err
	}
	return v.(domain.MonthlySalesReport), nil
}

// DashboardSummary aggregates the station overview for the current UTC day.
func (s *Service) DashboardSummary(ctx context.Context) (summary domain.DashboardSummary, err error) {
	ctx, span := s.span(ctx, "DashboardSummary")
	defer func() { endSpan(span, err) }()

	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sales, err := s.repo.ListSalesBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	summary = domain.DashboardSummary{
		Date:              dayStart.Format("2006-01-02"),
		TotalFuelStock:    decimal.Zero,
		TotalProducts:     len(products),
		TodaySalesCount:   len(sales),
		TodaySalesRevenue: decimal.Zero,
		FuelLevels:        make([]domain.FuelLevel, 0, len(products)),
	}
	for _, p := range products {
		if !p.IsFuel() {
			continue
		}
		summary.TotalFuelStock = summary.TotalFuelStock.Add(p.Stock)
		summary.FuelLevels = append(summary.FuelLevels, domain.FuelLevel{
			ProductID:       p.ID,
			Name:            p.Name,
			Stock:           p.Stock,
			Capacity:        s.capacity,
			CapacityPercent: capacityPercent(p.Stock, s.capacity),
		})
	}
	for _, sale := range sales {
		summary.TodaySalesRevenue = summary.TodaySalesRevenue.Add(sale.TotalPrice)
	}
	return summary, nil
}

// capacityPercent is floor(stock/capacity*100) clamped to [0, 100].
func capacityPercent(stock decimal.Decimal, capacity decimal.Decimal) int64 {
	if !capacity.IsPositive() || !stock.IsPositive() {
		return 0
	}
	pct := stock.Mul(decimal.NewFromInt(100)).Div(capacity).Floor().IntPart()
	if pct > 100 {
		return 100
	}
	return pct
}
