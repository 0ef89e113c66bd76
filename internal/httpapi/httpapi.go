package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"pompaku/backend/internal/domain"
	"pompaku/backend/internal/lock"
	"pompaku/backend/internal/logging"
	"pompaku/backend/internal/service"
	"pompaku/backend/internal/store"
	"pompaku/backend/internal/xid"
)

const (
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-Id"
)

type API struct {
	service       *service.Service
	log           logrus.FieldLogger
	allowedOrigin string
	validate      *validator.Validate
	now           func() time.Time
}

func New(svc *service.Service, log logrus.FieldLogger, allowedOrigin string) *API {
	if log == nil {
		log = logging.Discard()
	}
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &API{
		service:       svc,
		log:           log,
		allowedOrigin: allowedOrigin,
		validate:      newValidator(),
		now:           time.Now,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.handleStatus)

	mux.HandleFunc("/api/products", a.handleProducts)
	mux.HandleFunc("/api/products/{id}", a.handleProduct)
	mux.HandleFunc("/api/fuel-products", a.handleFuelProducts)
	mux.HandleFunc("/api/fuel-types", a.handleFuelTypes)
	mux.HandleFunc("/api/fuel-stock/add", a.handleAddFuelStock)

	mux.HandleFunc("/api/sales", a.handleSales)
	mux.HandleFunc("/api/sales/recent", a.handleRecentSales)
	mux.HandleFunc("/api/sales/monthly/{year}/{month}", a.handleMonthlySales)

	mux.HandleFunc("/api/fuel-price/update", a.handleUpdateFuelPrice)
	mux.HandleFunc("/api/fuel-price/history/{productId}", a.handlePriceHistory)

	mux.HandleFunc("/api/dashboard/summary", a.handleDashboard)

	return a.withMiddleware(mux)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPatch, http.MethodDelete:
	default:
		a.writeMethodNotAllowed(w, r)
		return
	}

	id, err := parseID(r.PathValue("id"), "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodDelete:
		deleted, err := a.service.DeleteProduct(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		if !deleted {
			a.writeServiceError(w, r, store.ErrNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleFuelProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	products, err := a.service.ListFuelProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleFuelTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := a.service.ListFuelTypes(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types)
	case http.MethodPost:
		var req domain.FuelTypeCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		ft, err := a.service.CreateFuelType(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ft)
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleAddFuelStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.FuelStockAddRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	product, err := a.service.AddFuelStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.ListSales(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sales)
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		sale, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleRecentSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), service.DefaultRecentLimit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	sales, err := a.service.RecentSales(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleMonthlySales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	var perr fieldErrorList
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		perr.add("year", "must be a number")
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil {
		perr.add("month", "must be a number")
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format != "" && format != "json" && format != "csv" && format != "xlsx" {
		perr.add("format", "must be one of json, csv, xlsx")
	}
	if err := perr.err(); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	report, err := a.service.MonthlySales(r.Context(), year, month)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch format {
	case "csv":
		if err := writeMonthlyCSV(w, report); err != nil {
			logging.LogError(a.requestLog(r), "httpapi", "handleMonthlySales", "write csv export", nil, err)
		}
	case "xlsx":
		book, err := buildMonthlyWorkbook(report)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		defer book.Close()
		if err := writeMonthlyXLSX(w, report, book); err != nil {
			logging.LogError(a.requestLog(r), "httpapi", "handleMonthlySales", "write xlsx export", nil, err)
		}
	default:
		writeJSON(w, http.StatusOK, report.Rows)
	}
}

func (a *API) handleUpdateFuelPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.FuelPriceUpdateRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	entry, err := a.service.UpdateFuelPrice(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	productID, err := parseID(r.PathValue("productId"), "productId")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	history, err := a.service.PriceHistory(r.Context(), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	summary, err := a.service.DashboardSummary(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (a *API) requestLog(r *http.Request) logrus.FieldLogger {
	return a.log.WithField("request_id", requestID(r.Context()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !xid.ValidRequestID(id) {
			id = xid.NewRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		w.Header().Set(requestIDHeader, id)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id, Content-Disposition")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		startedAt := time.Now()
		defer func() {
			if p := recover(); p != nil {
				a.requestLog(r).WithField("panic", p).Error("handler panic")
				if rec.status == 0 {
					a.writeError(rec, r, http.StatusInternalServerError, errors.New("panic"), nil)
				}
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			a.requestLog(r).WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"latency_ms": time.Since(startedAt).Milliseconds(),
			}).Info("request")
		}()
		next.ServeHTTP(rec, r)
	})
}

// decodeAndValidate writes the 400 response itself and reports false when the
// body is unusable.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	if err := a.validateRequest(dest); err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &service.ValidationError{Message: "request body too large"}
		}
		return &service.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func parseID(raw string, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, &service.ValidationError{Fields: []service.FieldError{{Field: field, Message: "must be a positive integer"}}}
	}
	return id, nil
}

// parseLimit returns fallback for an empty value. The service caps large
// limits.
func parseLimit(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(trimmed)
	if err != nil || limit < 1 {
		return 0, &service.ValidationError{Fields: []service.FieldError{{Field: "limit", Message: "must be at least 1"}}}
	}
	return limit, nil
}

type fieldErrorList []service.FieldError

func (l *fieldErrorList) add(field string, message string) {
	*l = append(*l, service.FieldError{Field: field, Message: message})
}

func (l fieldErrorList) err() error {
	if len(l) == 0 {
		return nil
	}
	return &service.ValidationError{Fields: l}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		message := verr.Message
		if message == "" {
			message = "validation failed"
		}
		a.writeError(w, r, http.StatusBadRequest, errors.New(message), verr.Fields)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrCapacityExceeded),
		errors.Is(err, store.ErrNotFuelProduct),
		errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, lock.ErrBusy):
		status = http.StatusConflict
	}
	a.writeError(w, r, status, err, nil)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"), nil)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error, fields []service.FieldError) {
	// 5xx bodies never carry the underlying error.
	msg := err.Error()
	if status >= 500 {
		logging.LogError(a.requestLog(r), "httpapi", "writeError", r.Method+" "+r.URL.Path, nil, err)
		msg = "internal server error"
	}
	body := map[string]any{"message": msg}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
