package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"pompaku/backend/internal/logging"
	"pompaku/backend/internal/service"
	"pompaku/backend/internal/store/memory"
)

// newTestHandler wires a seeded in-memory store through the real service so
// handler tests exercise the complete request path.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	return New(svc, logging.Discard(), "*").Handler()
}

func doRequest(t *testing.T, h http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Message string               `json:"message"`
	Errors  []service.FieldError `json:"errors"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func hasField(errs []service.FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

type productBody struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Stock      decimal.Decimal `json:"stock"`
	Price      decimal.Decimal `json:"price"`
	FuelTypeID *int64          `json:"fuelTypeId"`
	Unit       string          `json:"unit"`
}

func TestHandleStatus(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestListProductsSearchByName(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/products?q=oil", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	products := decodeBody[[]productBody](t, rec)
	if len(products) != 1 || products[0].Name != "Engine Oil" {
		t.Fatalf("expected only Engine Oil, got %+v", products)
	}
	if products[0].Unit != "pcs" {
		t.Fatalf("expected pcs unit for non-fuel product, got %q", products[0].Unit)
	}
}

func TestListFuelProductsExcludesGoods(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/fuel-products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	products := decodeBody[[]productBody](t, rec)
	if len(products) != 3 {
		t.Fatalf("expected 3 fuel products, got %d", len(products))
	}
	for _, p := range products {
		if p.FuelTypeID == nil || p.Unit != "L" {
			t.Fatalf("unexpected non-fuel product %+v", p)
		}
	}
}

func TestCreateProductValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products", map[string]any{"name": "", "price": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	for _, field := range []string{"name", "stock", "price"} {
		if !hasField(body.Errors, field) {
			t.Fatalf("expected field error for %s, got %+v", field, body.Errors)
		}
	}
}

func TestCreateProductRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products", `{"name":"Coolant","stock":5,"price":25000,"sku":"X"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if !strings.Contains(body.Message, "invalid request body") {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestCreateProductRejectsUnknownFuelType(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products", map[string]any{
		"name": "Pertamax Turbo", "stock": 0, "price": 15900, "fuelTypeId": 99,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); !hasField(body.Errors, "fuelTypeId") {
		t.Fatalf("expected fuelTypeId field error, got %+v", body.Errors)
	}
}

func TestProductCRUD(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products", map[string]any{"name": "Coolant", "stock": 5, "price": "25000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[productBody](t, rec)
	path := fmt.Sprintf("/api/products/%d", created.ID)

	rec = doRequest(t, h, http.MethodPatch, path, map[string]any{"price": 27500})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if updated := decodeBody[productBody](t, rec); !updated.Price.Equal(decimal.NewFromInt(27500)) || updated.Name != "Coolant" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	rec = doRequest(t, h, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", rec.Code)
	}
}

func TestProductPathRejectsInvalidID(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/products/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); !hasField(body.Errors, "id") {
		t.Fatalf("expected id field error, got %+v", body.Errors)
	}
}

func TestMethodNotAllowedReturnsJSON(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPut, "/api/products", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}

func TestRecordSaleDeductsStock(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 2, "quantity": 50, "totalPrice": 500000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/products/2", nil)
	product := decodeBody[productBody](t, rec)
	if !product.Stock.Equal(decimal.NewFromInt(9950)) {
		t.Fatalf("expected stock 9950, got %s", product.Stock)
	}
}

func TestRecordSaleRejectsOversell(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 4, "quantity": 121, "totalPrice": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); body.Message != "insufficient stock" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/products/4", nil)
	if product := decodeBody[productBody](t, rec); !product.Stock.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("stock changed after rejected sale: %s", product.Stock)
	}
}

func TestRecordSaleUnknownProduct(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 999, "quantity": 1, "totalPrice": 1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAddFuelStockCapacity(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products", map[string]any{"name": "Premium", "stock": 190, "price": 12000, "fuelTypeId": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	premium := decodeBody[productBody](t, rec)

	rec = doRequest(t, h, http.MethodPost, "/api/fuel-stock/add", map[string]any{"productId": premium.ID, "addedAmount": 20})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); !strings.Contains(body.Message, "10.00 L remaining") {
		t.Fatalf("expected remaining litres in message, got %q", body.Message)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/fuel-stock/add", map[string]any{"productId": premium.ID, "addedAmount": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if filled := decodeBody[productBody](t, rec); !filled.Stock.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected stock 200, got %s", filled.Stock)
	}
}

func TestAddFuelStockRejectsNonFuel(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/fuel-stock/add", map[string]any{"productId": 4, "addedAmount": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAddFuelStockRequiresPositiveAmount(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/fuel-stock/add", map[string]any{"productId": 1, "addedAmount": -5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); !hasField(body.Errors, "addedAmount") {
		t.Fatalf("expected addedAmount field error, got %+v", body.Errors)
	}
}

func TestUpdateFuelPriceRecordsHistory(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/fuel-price/update", map[string]any{"productId": 2, "newPrice": 11000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/fuel-price/history/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	history := decodeBody[[]struct {
		OldPrice decimal.Decimal `json:"oldPrice"`
		NewPrice decimal.Decimal `json:"newPrice"`
	}](t, rec)
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if !history[0].OldPrice.Equal(decimal.NewFromInt(10000)) || !history[0].NewPrice.Equal(decimal.NewFromInt(11000)) {
		t.Fatalf("unexpected history entry %+v", history[0])
	}
}

func TestRecentSalesLimit(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/sales/recent?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); !hasField(body.Errors, "limit") {
		t.Fatalf("expected limit field error, got %+v", body.Errors)
	}

	for i := 0; i < 3; i++ {
		doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 1, "quantity": 1, "totalPrice": 13900})
	}
	rec = doRequest(t, h, http.MethodGet, "/api/sales/recent?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sales := decodeBody[[]struct {
		ProductName string `json:"productName"`
	}](t, rec)
	if len(sales) != 2 || sales[0].ProductName != "Pertamax" {
		t.Fatalf("unexpected recent sales %+v", sales)
	}
}

func monthlyPath(suffix string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("/api/sales/monthly/%d/%d%s", now.Year(), int(now.Month()), suffix)
}

func TestMonthlySalesFormats(t *testing.T) {
	h := newTestHandler(t)

	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 2, "quantity": 10, "totalPrice": 100000})
	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 2, "quantity": 5, "totalPrice": 50000})

	rec := doRequest(t, h, http.MethodGet, monthlyPath(""), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rows := decodeBody[[]struct {
		Name          string          `json:"name"`
		TotalQuantity decimal.Decimal `json:"total_quantity"`
		TotalRevenue  decimal.Decimal `json:"total_revenue"`
	}](t, rec)
	if len(rows) != 1 || rows[0].Name != "Pertalite" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if !rows[0].TotalQuantity.Equal(decimal.NewFromInt(15)) || !rows[0].TotalRevenue.Equal(decimal.NewFromInt(150000)) {
		t.Fatalf("unexpected totals %+v", rows[0])
	}

	rec = doRequest(t, h, http.MethodGet, monthlyPath("?format=csv"), nil)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "2,Pertalite,15.00,150000.00") {
		t.Fatalf("csv missing row: %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, monthlyPath("?format=xlsx"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer book.Close()
	name, err := book.GetCellValue(xlsxSheet, "B2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if name != "Pertalite" {
		t.Fatalf("expected Pertalite in B2, got %q", name)
	}
}

func TestMonthlySalesRejectsBadPath(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/sales/monthly/2024/13", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); !hasField(body.Errors, "month") {
		t.Fatalf("expected month field error, got %+v", body.Errors)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/sales/monthly/2024/1?format=pdf", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestDashboardSummary(t *testing.T) {
	h := newTestHandler(t)

	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 1, "quantity": 2, "totalPrice": 27800})

	rec := doRequest(t, h, http.MethodGet, "/api/dashboard/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	summary := decodeBody[struct {
		TotalProducts     int             `json:"totalProducts"`
		TodaySalesCount   int             `json:"todaySalesCount"`
		TodaySalesRevenue decimal.Decimal `json:"todaySalesRevenue"`
	}](t, rec)
	if summary.TotalProducts != 4 || summary.TodaySalesCount != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !summary.TodaySalesRevenue.Equal(decimal.NewFromInt(27800)) {
		t.Fatalf("unexpected revenue %s", summary.TodaySalesRevenue)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(requestIDHeader, "trace-abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "trace-abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/status", nil)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestSecurityHeadersAndPreflight(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodOptions, "/api/products", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	h := newTestHandler(t)

	big := `{"name":"` + strings.Repeat("a", maxBodyBytes+1) + `","stock":1,"price":1}`
	rec := doRequest(t, h, http.MethodPost, "/api/products", big)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListSalesReturnsEverySale(t *testing.T) {
	h := newTestHandler(t)

	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 3, "quantity": 12.5, "totalPrice": 85000})
	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 4, "quantity": 1, "totalPrice": 85000})

	rec := doRequest(t, h, http.MethodGet, "/api/sales", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sales := decodeBody[[]struct {
		ProductID int64           `json:"productId"`
		Quantity  decimal.Decimal `json:"quantity"`
	}](t, rec)
	if len(sales) != 2 {
		t.Fatalf("expected 2 sales, got %d", len(sales))
	}
	if sales[0].ProductID != 3 || !sales[0].Quantity.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected first sale %+v", sales[0])
	}
}

func TestFuelTypesListAndCreate(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/fuel-types", map[string]any{"name": "Dexlite", "description": "BBM Diesel CN 51"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/fuel-types", nil)
	types := decodeBody[[]struct {
		Name string `json:"name"`
	}](t, rec)
	if len(types) != 4 || types[3].Name != "Dexlite" {
		t.Fatalf("unexpected fuel types %+v", types)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/fuel-types", map[string]any{"name": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", rec.Code)
	}
}

func TestProductPathChecksMethodBeforeID(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/products/abc", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRecentSalesAcceptsLimitAboveCap(t *testing.T) {
	h := newTestHandler(t)

	doRequest(t, h, http.MethodPost, "/api/sales", map[string]any{"productId": 1, "quantity": 1, "totalPrice": 13900})

	rec := doRequest(t, h, http.MethodGet, "/api/sales/recent?limit=100000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if sales := decodeBody[[]json.RawMessage](t, rec); len(sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(sales))
	}
}
