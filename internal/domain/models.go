package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MaxFuelCapacity is the tank limit, in litres, enforced on fuel top-ups.
var MaxFuelCapacity = decimal.NewFromInt(200)

// QuantityPlaces is the fixed precision for stock and sale quantities.
const QuantityPlaces = 2

const (
	UnitLiter = "L"
	UnitPiece = "pcs"
)

type FuelType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type FuelTypeCreateRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=255"`
}

type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Stock        decimal.Decimal `json:"stock"`
	Price        decimal.Decimal `json:"price"`
	FuelTypeID   *int64          `json:"fuelTypeId"`
	FuelTypeName *string         `json:"fuelTypeName,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// IsFuel reports whether the product is dispensed from a tank.
func (p Product) IsFuel() bool {
	return p.FuelTypeID != nil
}

func (p Product) Unit() string {
	if p.IsFuel() {
		return UnitLiter
	}
	return UnitPiece
}

func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Unit string `json:"unit"`
	}{plain: plain(p), Unit: p.Unit()})
}

type ProductFilter struct {
	FuelOnly  bool
	NameQuery string
}

type ProductCreateRequest struct {
	Name       string           `json:"name" validate:"required,min=1,max=100"`
	Stock      *decimal.Decimal `json:"stock" validate:"required,gte=0,lte=200"`
	Price      *decimal.Decimal `json:"price" validate:"required,gt=0"`
	FuelTypeID *int64           `json:"fuelTypeId" validate:"omitempty,gt=0"`
}

type ProductUpdateRequest struct {
	Name       *string          `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Stock      *decimal.Decimal `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Price      *decimal.Decimal `json:"price,omitempty" validate:"omitempty,gt=0"`
	FuelTypeID OptionalID       `json:"fuelTypeId"`
}

// ProductPatch carries the fields of an update that were actually provided.
type ProductPatch struct {
	Name       *string
	Stock      *decimal.Decimal
	Price      *decimal.Decimal
	FuelTypeID OptionalID
}

func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Stock == nil && p.Price == nil && !p.FuelTypeID.Set
}

// OptionalID distinguishes an absent JSON field from an explicit null.
type OptionalID struct {
	Set   bool
	Value *int64
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

type Sale struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"productId"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	SaleDate   time.Time       `json:"saleDate"`
}

type SaleCreateRequest struct {
	ProductID  int64            `json:"productId" validate:"required,gt=0"`
	Quantity   *decimal.Decimal `json:"quantity" validate:"required,gt=0"`
	TotalPrice *decimal.Decimal `json:"totalPrice" validate:"required,gt=0"`
}

// RecentSale is a sale joined with the product's current name and price.
type RecentSale struct {
	Sale
	ProductName  string          `json:"productName"`
	ProductPrice decimal.Decimal `json:"productPrice"`
}

type MonthlySalesRow struct {
	ProductID     int64           `json:"productId"`
	Name          string          `json:"name"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

type MonthlySalesReport struct {
	Year          int               `json:"year"`
	Month         int               `json:"month"`
	Rows          []MonthlySalesRow `json:"rows"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	TotalRevenue  decimal.Decimal   `json:"total_revenue"`
}

type FuelPriceHistory struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"productId"`
	OldPrice   decimal.Decimal `json:"oldPrice"`
	NewPrice   decimal.Decimal `json:"newPrice"`
	ChangeDate time.Time       `json:"changeDate"`
}

type FuelPriceUpdateRequest struct {
	ProductID int64            `json:"productId" validate:"required,gt=0"`
	NewPrice  *decimal.Decimal `json:"newPrice" validate:"required,gt=0"`
}

type FuelStockAddRequest struct {
	ProductID   int64            `json:"productId" validate:"required,gt=0"`
	AddedAmount *decimal.Decimal `json:"addedAmount" validate:"required,gt=0"`
}

type FuelLevel struct {
	ProductID       int64           `json:"productId"`
	Name            string          `json:"name"`
	Stock           decimal.Decimal `json:"stock"`
	Capacity        decimal.Decimal `json:"capacity"`
	CapacityPercent int64           `json:"capacityPercent"`
}

type DashboardSummary struct {
	Date              string          `json:"date"`
	TotalFuelStock    decimal.Decimal `json:"totalFuelStock"`
	TotalProducts     int             `json:"totalProducts"`
	TodaySalesCount   int             `json:"todaySalesCount"`
	TodaySalesRevenue decimal.Decimal `json:"todaySalesRevenue"`
	FuelLevels        []FuelLevel     `json:"fuelLevels"`
}
