package cache

import (
	"context"
	"fmt"
	"time"

	"pompaku/backend/internal/domain"
)

// ReportCache holds computed monthly sales reports. Writers invalidate the
// affected month after a sale and everything after catalogue changes, since
// rows carry the current product name.
//
// Every invalidation advances the month's generation. A builder reads the
// generation before querying and passes it to SetMonthly, which drops the
// write when an invalidation happened in between.
type ReportCache interface {
	GetMonthly(ctx context.Context, year int, month int) (*domain.MonthlySalesReport, bool, error)
	MonthlyGeneration(ctx context.Context, year int, month int) (int64, error)
	SetMonthly(ctx context.Context, report *domain.MonthlySalesReport, generation int64, ttl time.Duration) (bool, error)
	InvalidateMonth(ctx context.Context, year int, month int) error
	InvalidateAll(ctx context.Context) error
}

const (
	monthlyKeyPrefix    = "pompaku:report:monthly:"
	generationKeyPrefix = "pompaku:report:gen:"
	allGenerationKey    = generationKeyPrefix + "all"
)

func MonthlyKey(year int, month int) string {
	return fmt.Sprintf("%s%04d-%02d", monthlyKeyPrefix, year, month)
}

func monthGenerationKey(year int, month int) string {
	return fmt.Sprintf("%s%04d-%02d", generationKeyPrefix, year, month)
}

type NoopReportCache struct{}

func (NoopReportCache) GetMonthly(_ context.Context, _ int, _ int) (*domain.MonthlySalesReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) MonthlyGeneration(_ context.Context, _ int, _ int) (int64, error) {
	return 0, nil
}

func (NoopReportCache) SetMonthly(_ context.Context, _ *domain.MonthlySalesReport, _ int64, _ time.Duration) (bool, error) {
	return false, nil
}

func (NoopReportCache) InvalidateMonth(_ context.Context, _ int, _ int) error {
	return nil
}

func (NoopReportCache) InvalidateAll(_ context.Context) error {
	return nil
}
