package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"pompaku/backend/internal/cache"
	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/lock"
	"pompaku/backend/internal/logging"
	"pompaku/backend/internal/store"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 255
	DefaultRecentLimit   = 10
	maxRecentLimit       = 500
)

type Options struct {
	ReportCache    cache.ReportCache
	ReportCacheTTL time.Duration
	Locker         lock.Locker
	Logger         logrus.FieldLogger
	Tracer         trace.Tracer
	Capacity       decimal.Decimal
	Now            func() time.Time
}

type Service struct {
	repo     store.Repository
	reports  cache.ReportCache
	cacheTTL time.Duration
	locker   lock.Locker
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	capacity decimal.Decimal
	now      func() time.Time
	group    singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:     repo,
		reports:  opts.ReportCache,
		cacheTTL: opts.ReportCacheTTL,
		locker:   opts.Locker,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		capacity: opts.Capacity,
		now:      opts.Now,
	}
	if s.reports == nil {
		s.reports = cache.NoopReportCache{}
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Minute
	}
	if s.locker == nil {
		s.locker = lock.NoopLocker{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("pompaku/backend/internal/service")
	}
	if !s.capacity.IsPositive() {
		s.capacity = domain.MaxFuelCapacity
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) ListFuelTypes(ctx context.Context) ([]domain.FuelType, error) {
	return s.repo.ListFuelTypes(ctx)
}

func (s *Service) CreateFuelType(ctx context.Context, req domain.FuelTypeCreateRequest) (ft domain.FuelType, err error) {
	ctx, span := s.span(ctx, "CreateFuelType")
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	name := strings.TrimSpace(req.Name)
	checkName(&errs, name)
	var description *string
	if req.Description != nil {
		d := strings.TrimSpace(*req.Description)
		if utf8.RuneCountInString(d) > maxDescriptionLength {
			errs.add("description", "must be at most 255 characters")
		}
		if d != "" {
			description = &d
		}
	}
	if err := errs.err(); err != nil {
		return domain.FuelType{}, err
	}

	created, err := s.repo.CreateFuelType(ctx, domain.FuelType{Name: name, Description: description})
	if err != nil {
		return domain.FuelType{}, err
	}
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, nameQuery string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{NameQuery: strings.TrimSpace(nameQuery)})
}

func (s *Service) ListFuelProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{FuelOnly: true})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (product domain.Product, err error) {
	ctx, span := s.span(ctx, "CreateProduct")
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	name := strings.TrimSpace(req.Name)
	checkName(&errs, name)

	var stock decimal.Decimal
	if req.Stock == nil {
		errs.add("stock", "is required")
	} else {
		stock = req.Stock.Round(domain.QuantityPlaces)
		if stock.IsNegative() {
			errs.add("stock", "must be at least 0")
		} else if stock.GreaterThan(s.capacity) {
			errs.add("stock", "must be at most "+s.capacity.String())
		}
	}

	var price decimal.Decimal
	if req.Price == nil {
		errs.add("price", "is required")
	} else {
		price = req.Price.Round(2)
		if !price.IsPositive() {
			errs.add("price", "must be greater than 0")
		}
	}

	if req.FuelTypeID != nil {
		if err := s.checkFuelType(ctx, &errs, *req.FuelTypeID); err != nil {
			return domain.Product{}, err
		}
	}
	if err := errs.err(); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       name,
		Stock:      stock,
		Price:      price,
		FuelTypeID: req.FuelTypeID,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

// UpdateProduct applies the provided fields only. Stock set here is not held
// to the tank capacity; only fuel top-ups are.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (product domain.Product, err error) {
	ctx, span := s.span(ctx, "UpdateProduct", attribute.Int64("product.id", id))
	defer func() { endSpan(span, err) }()

	var (
		errs  fieldErrors
		patch domain.ProductPatch
	)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		checkName(&errs, name)
		patch.Name = &name
	}
	if req.Stock != nil {
		stock := req.Stock.Round(domain.QuantityPlaces)
		if stock.IsNegative() {
			errs.add("stock", "must be at least 0")
		}
		patch.Stock = &stock
	}
	if req.Price != nil {
		price := req.Price.Round(2)
		if !price.IsPositive() {
			errs.add("price", "must be greater than 0")
		}
		patch.Price = &price
	}
	if req.FuelTypeID.Set {
		if req.FuelTypeID.Value != nil {
			if err := s.checkFuelType(ctx, &errs, *req.FuelTypeID.Value); err != nil {
				return domain.Product{}, err
			}
		}
		patch.FuelTypeID = req.FuelTypeID
	}
	if err := errs.err(); err != nil {
		return domain.Product{}, err
	}
	if patch.Empty() {
		return domain.Product{}, &ValidationError{Message: "no fields to update"}
	}

	updated, err := s.repo.UpdateProduct(ctx, id, patch)
	if err != nil {
		return domain.Product{}, err
	}
	if patch.Name != nil {
		s.invalidateReports(ctx)
	}
	return *updated, nil
}

// DeleteProduct reports whether a product was removed. Sales and price
// history that reference it are kept.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (deleted bool, err error) {
	ctx, span := s.span(ctx, "DeleteProduct", attribute.Int64("product.id", id))
	defer func() { endSpan(span, err) }()

	deleted, err = s.repo.DeleteProduct(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.invalidateReports(ctx)
	}
	return deleted, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (sale domain.Sale, err error) {
	ctx, span := s.span(ctx, "RecordSale", attribute.Int64("product.id", req.ProductID))
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	if req.ProductID < 1 {
		errs.add("productId", "is required")
	}
	quantity := positiveAmount(&errs, "quantity", req.Quantity, domain.QuantityPlaces)
	totalPrice := positiveAmount(&errs, "totalPrice", req.TotalPrice, 2)
	if err := errs.err(); err != nil {
		return domain.Sale{}, err
	}

	created, err := s.repo.RecordSale(ctx, domain.Sale{
		ProductID:  req.ProductID,
		Quantity:   quantity,
		TotalPrice: totalPrice,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.reports.InvalidateMonth(ctx, created.SaleDate.Year(), int(created.SaleDate.Month())); err != nil {
		logging.LogWarn(s.logger, "service", "RecordSale", "invalidate monthly report", err)
	}
	return *created, nil
}

func (s *Service) AddFuelStock(ctx context.Context, req domain.FuelStockAddRequest) (product domain.Product, err error) {
	ctx, span := s.span(ctx, "AddFuelStock", attribute.Int64("product.id", req.ProductID))
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	if req.ProductID < 1 {
		errs.add("productId", "is required")
	}
	amount := positiveAmount(&errs, "addedAmount", req.AddedAmount, domain.QuantityPlaces)
	if err := errs.err(); err != nil {
		return domain.Product{}, err
	}

	release, err := s.locker.Acquire(ctx, lock.ProductKey(req.ProductID))
	if err != nil {
		return domain.Product{}, err
	}
	defer release()

	updated, err := s.repo.AddStock(ctx, req.ProductID, amount, s.capacity)
	switch {
	case err == nil:
		return *updated, nil
	case errors.Is(err, store.ErrCapacityExceeded):
		current := decimal.Zero
		if updated != nil {
			current = updated.Stock
		}
		remaining := s.capacity.Sub(current)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return domain.Product{}, &CapacityExceededError{Capacity: s.capacity, Current: current, Remaining: remaining}
	case errors.Is(err, store.ErrNotFuelProduct):
		return domain.Product{}, &ValidationError{
			Message: "product is not a fuel product",
			Fields:  []FieldError{{Field: "productId", Message: "must reference a fuel product"}},
		}
	default:
		return domain.Product{}, err
	}
}

func (s *Service) UpdateFuelPrice(ctx context.Context, req domain.FuelPriceUpdateRequest) (entry domain.FuelPriceHistory, err error) {
	ctx, span := s.span(ctx, "UpdateFuelPrice", attribute.Int64("product.id", req.ProductID))
	defer func() { endSpan(span, err) }()

	var errs fieldErrors
	if req.ProductID < 1 {
		errs.add("productId", "is required")
	}
	newPrice := positiveAmount(&errs, "newPrice", req.NewPrice, 2)
	if err := errs.err(); err != nil {
		return domain.FuelPriceHistory{}, err
	}

	release, err := s.locker.Acquire(ctx, lock.ProductKey(req.ProductID))
	if err != nil {
		return domain.FuelPriceHistory{}, err
	}
	defer release()

	created, err := s.repo.UpdatePrice(ctx, req.ProductID, newPrice)
	if err != nil {
		return domain.FuelPriceHistory{}, err
	}
	return *created, nil
}

func (s *Service) PriceHistory(ctx context.Context, productID int64) ([]domain.FuelPriceHistory, error) {
	return s.repo.ListPriceHistory(ctx, productID)
}

func (s *Service) checkFuelType(ctx context.Context, errs *fieldErrors, id int64) error {
	if id < 1 {
		errs.add("fuelTypeId", "must be a positive id")
		return nil
	}
	_, err := s.repo.GetFuelType(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		errs.add("fuelTypeId", "fuel type does not exist")
		return nil
	}
	return err
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.InvalidateAll(ctx); err != nil {
		logging.LogWarn(s.logger, "service", "invalidateReports", "invalidate cached reports", err)
	}
}

func checkName(errs *fieldErrors, name string) {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		errs.add("name", "is required")
	} else if n > maxNameLength {
		errs.add("name", "must be at most 100 characters")
	}
}

// positiveAmount rounds v to places and requires the result to be above zero.
func positiveAmount(errs *fieldErrors, field string, v *decimal.Decimal, places int32) decimal.Decimal {
	if v == nil {
		errs.add(field, "is required")
		return decimal.Zero
	}
	rounded := v.Round(places)
	if !rounded.IsPositive() {
		errs.add(field, "must be greater than 0")
	}
	return rounded
}
