/*
handlers.go - HTTP API handlers for the ledger and reporting engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Service ledger:
    POST   /api/service-transactions        Record purchased/used/credit
    DELETE /api/service-transactions/{id}   Reverse a transaction
    GET    /api/total-spend/{id}            Recompute cumulative total spend
    POST   /api/update/minutes              Balance-only credit (no entry)
    GET    /api/used-minutes                Minute totals, all customers
    GET    /api/used-minutes/{id}           Minute totals, one customer

  Product ledger:
    POST   /api/product-transactions        Record one sale + stock decrement
    POST   /api/product-all                 Bulk record sales (no stock)

  Reports:
    GET    /api/service-purchased-report    All purchased, price * quantity
    GET    /api/service-used-report         All used, price * quantity
    POST   /api/service-purchase-report     Purchased in range, price per entry
    POST   /api/service-use-report          Used in range, price per entry
    GET    /api/product-sale-report         All product sales
    POST   /api/product-saled-report        Product sales in range
    POST   /api/customer-day-usage          Distinct customers per day/location

  Catalog and profiles:
    GET/POST /api/services                  Service catalog
    GET/POST /api/products                  Product catalog
    POST     /api/products/bulk             Bulk catalog insert (no stock seed)
    GET/POST /api/locations                 Locations
    GET/POST /api/profiles                  Customer profiles
    GET      /api/profiles/{id}             One profile

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, invalid location
  - 404: Resource not found
  - 422: Insufficient balance
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Auth lives in the gateway in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.TxStore
	Balance   *ledger.BalanceLedger
	Inventory *ledger.InventoryLedger
	Reports   *report.Aggregator
}

// NewHandler creates a new handler with the given store.
func NewHandler(store ledger.TxStore) *Handler {
	return &Handler{
		Store:     store,
		Balance:   ledger.NewBalanceLedger(store),
		Inventory: ledger.NewInventoryLedger(store),
		Reports:   report.NewAggregator(store),
	}
}

// =============================================================================
// SERVICE LEDGER HANDLERS
// =============================================================================

// RecordServiceTransaction records one service transaction.
// POST /api/service-transactions
func (h *Handler) RecordServiceTransaction(w http.ResponseWriter, r *http.Request) {
	var req ServiceTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Balance.RecordServiceTransaction(r.Context(), ledger.ServiceTransactionRequest{
		CustomerID: ledger.CustomerID(req.UserID),
		Type:       ledger.ServiceEntryType(req.Type),
		ServiceID:  ledger.ServiceID(req.ServiceID),
		Quantity:   req.Quantity,
		LocationID: ledger.LocationID(req.LocationID),
	})
	if err != nil {
		writeDomainError(w, "Failed to record service transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{
		Message: "Transaction recorded",
		Data:    toServiceEntryDTO(*entry),
	})
}

// ReverseServiceTransaction deletes an entry and undoes its balance effect.
// DELETE /api/service-transactions/{id}
func (h *Handler) ReverseServiceTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	if err := h.Balance.ReverseServiceTransaction(r.Context(), ledger.EntryID(id)); err != nil {
		writeDomainError(w, "Failed to reverse service transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Transaction reversed"})
}

// ComputeTotalSpend recomputes the cumulative total-spend counter from the
// latest purchase onward and returns the new total.
// GET /api/total-spend/{id}
func (h *Handler) ComputeTotalSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}

	total, err := h.Balance.ComputeTotalSpend(r.Context(), ledger.CustomerID(id))
	if err != nil {
		writeDomainError(w, "Failed to compute total spend", err)
		return
	}

	writeJSON(w, http.StatusOK, TotalSpendDTO{Message: "Total spend updated", TotalSpend: total})
}

// CreditMinutes adds minutes straight to the balance without writing a
// ledger entry.
// POST /api/update/minutes
func (h *Handler) CreditMinutes(w http.ResponseWriter, r *http.Request) {
	var req UpdateMinutesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	balance, err := h.Balance.CreditMinutes(r.Context(), ledger.CustomerID(req.UserID), req.Minutes)
	if err != nil {
		writeDomainError(w, "Failed to credit minutes", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{Message: "Balance updated", AvailableBalance: balance})
}

// MinutesSummary returns used and purchased totals across all customers.
// GET /api/used-minutes
func (h *Handler) MinutesSummary(w http.ResponseWriter, r *http.Request) {
	h.minutesSummary(w, r, 0)
}

// MinutesSummaryForCustomer returns used and purchased totals for one customer.
// GET /api/used-minutes/{id}
func (h *Handler) MinutesSummaryForCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}
	h.minutesSummary(w, r, ledger.CustomerID(id))
}

func (h *Handler) minutesSummary(w http.ResponseWriter, r *http.Request, id ledger.CustomerID) {
	totals, err := h.Balance.MinutesSummary(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to summarize minutes", err)
		return
	}
	writeJSON(w, http.StatusOK, MinutesSummaryDTO{
		TotalQuantity: MinuteTotalsDTO{
			TotalUsed:      totals.TotalUsed,
			TotalPurchased: totals.TotalPurchased,
		},
	})
}

// =============================================================================
// PRODUCT LEDGER HANDLERS
// =============================================================================

// RecordProductTransaction records one product sale and decrements stock.
// POST /api/product-transactions
func (h *Handler) RecordProductTransaction(w http.ResponseWriter, r *http.Request) {
	var req ProductTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Inventory.RecordProductTransaction(r.Context(), ledger.ProductTransactionRequest{
		CustomerID: ledger.CustomerID(req.UserID),
		ProductID:  ledger.ProductID(req.ProductID),
		LocationID: ledger.LocationID(req.LocationID),
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeDomainError(w, "Failed to record product transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{
		Message: "Transaction recorded",
		Data:    toProductEntryDTO(*entry),
	})
}

// BulkRecordProductTransactions records a batch of sales without touching
// stock.
// POST /api/product-all
func (h *Handler) BulkRecordProductTransactions(w http.ResponseWriter, r *http.Request) {
	var req BulkProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reqs := make([]ledger.ProductTransactionRequest, len(req.Transactions))
	for i, t := range req.Transactions {
		reqs[i] = ledger.ProductTransactionRequest{
			CustomerID: ledger.CustomerID(t.UserID),
			ProductID:  ledger.ProductID(t.ProductID),
			LocationID: ledger.LocationID(t.LocationID),
			Quantity:   t.Quantity,
		}
	}

	entries, err := h.Inventory.BulkRecordProductTransactions(r.Context(), reqs)
	if err != nil {
		writeDomainError(w, "Failed to record product transactions", err)
		return
	}

	dtos := make([]ProductEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toProductEntryDTO(e)
	}
	writeJSON(w, http.StatusCreated, MessageResponse{
		Message: "Transactions recorded",
		Data:    dtos,
	})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ServicePurchasedReport returns the all-time purchased aggregation.
// GET /api/service-purchased-report
func (h *Handler) ServicePurchasedReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.ServicePurchased(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceReportDTOs(rows))
}

// ServiceUsedReport returns the all-time used aggregation.
// GET /api/service-used-report
func (h *Handler) ServiceUsedReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.ServiceUsed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceReportDTOs(rows))
}

// ServicePurchaseRangeReport returns purchased entries within a date range.
// POST /api/service-purchase-report
func (h *Handler) ServicePurchaseRangeReport(w http.ResponseWriter, r *http.Request) {
	win, loc, ok := h.rangeRequest(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.ServicePurchaseRange(r.Context(), win, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceReportDTOs(rows))
}

// ServiceUseRangeReport returns used entries within a date range.
// POST /api/service-use-report
func (h *Handler) ServiceUseRangeReport(w http.ResponseWriter, r *http.Request) {
	win, loc, ok := h.rangeRequest(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.ServiceUseRange(r.Context(), win, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceReportDTOs(rows))
}

// ProductSaleReport returns the all-time product sales aggregation.
// GET /api/product-sale-report
func (h *Handler) ProductSaleReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.ProductSales(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductReportDTOs(rows))
}

// ProductSaleRangeReport returns product sales within a date range.
// POST /api/product-saled-report
func (h *Handler) ProductSaleRangeReport(w http.ResponseWriter, r *http.Request) {
	win, loc, ok := h.rangeRequest(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.ProductSalesRange(r.Context(), win, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductReportDTOs(rows))
}

// CustomerDayUsageReport counts distinct customers per day and location.
// POST /api/customer-day-usage
func (h *Handler) CustomerDayUsageReport(w http.ResponseWriter, r *http.Request) {
	win, loc, ok := h.rangeRequest(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.CustomerDayUsage(r.Context(), win, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toDayUsageDTOs(rows))
}

func (h *Handler) rangeRequest(w http.ResponseWriter, r *http.Request) (report.Window, ledger.LocationID, bool) {
	var req RangeReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return report.Window{}, 0, false
	}

	win, err := report.NewWindow(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range (use YYYY-MM-DD)", err)
		return report.Window{}, 0, false
	}
	return win, ledger.LocationID(req.LocationID), true
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListServices returns the service catalog.
// GET /api/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Store.ListServices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list services", err)
		return
	}

	dtos := make([]ServiceDTO, len(services))
	for i, svc := range services {
		dtos[i] = toServiceDTO(svc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateService creates or updates a service catalog entry.
// POST /api/services
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Store.SaveService(r.Context(), ledger.ServiceCatalogEntry{
		ID:               ledger.ServiceID(req.ID),
		Name:             req.Name,
		Price:            decimal.NewFromFloat(req.Price),
		MinutesAvailable: req.MinutesAvailable,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save service", err)
		return
	}

	svc, err := h.Store.GetService(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load service", err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceDTO(*svc))
}

// ListProducts returns the product catalog with stock.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct creates or updates a product catalog entry.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Store.SaveProduct(r.Context(), ledger.ProductCatalogEntry{
		ID:    ledger.ProductID(req.ID),
		Name:  req.Name,
		Price: decimal.NewFromFloat(req.Price),
		Stock: req.Stock,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}

	p, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// BulkCreateProducts inserts many products in one transaction. Stock buckets
// are NOT seeded here; that mirrors the single-create path's contract only
// when stock is supplied explicitly.
// POST /api/products/bulk
func (h *Handler) BulkCreateProducts(w http.ResponseWriter, r *http.Request) {
	var req BulkProductCatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]int64, 0, len(req.Products))
	err := h.Store.WithTx(r.Context(), func(tx ledger.Store) error {
		for _, p := range req.Products {
			// Empty stock map, not nil: nil triggers default seeding.
			id, err := tx.SaveProduct(r.Context(), ledger.ProductCatalogEntry{
				ID:    ledger.ProductID(p.ID),
				Name:  p.Name,
				Price: decimal.NewFromFloat(p.Price),
				Stock: map[string]int{},
			})
			if err != nil {
				return err
			}
			ids = append(ids, int64(id))
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save products", err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Products created", Data: ids})
}

// ListLocations returns all locations.
// GET /api/locations
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Store.ListLocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list locations", err)
		return
	}

	dtos := make([]LocationDTO, len(locations))
	for i, l := range locations {
		dtos[i] = toLocationDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLocation creates or updates a location.
// POST /api/locations
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req CreateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Store.SaveLocation(r.Context(), ledger.Location{
		ID:          ledger.LocationID(req.ID),
		Name:        req.Name,
		Code:        req.Code,
		Address:     req.Address,
		City:        req.City,
		PhoneNumber: req.PhoneNumber,
		PostCode:    req.PostCode,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save location", err)
		return
	}

	loc, err := h.Store.GetLocation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load location", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLocationDTO(*loc))
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// ListProfiles returns all customer profiles.
// GET /api/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles", err)
		return
	}

	dtos := make([]ProfileDTO, len(profiles))
	for i, p := range profiles {
		dtos[i] = toProfileDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProfile returns one customer profile.
// GET /api/profiles/{id}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}

	p, err := h.Store.GetProfile(r.Context(), ledger.CustomerID(id))
	if err != nil {
		writeDomainError(w, "Failed to get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// CreateProfile creates or updates a customer profile.
// POST /api/profiles
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	err := h.Store.SaveProfile(r.Context(), ledger.Profile{
		CustomerID:        ledger.CustomerID(req.UserID),
		Role:              ledger.Role(req.Role),
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Email:             req.Email,
		PhoneNumber:       req.PhoneNumber,
		AvailableBalance:  req.AvailableBalance,
		PreferredLocation: ledger.LocationID(req.PreferredLocation),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile", err)
		return
	}

	p, err := h.Store.GetProfile(r.Context(), ledger.CustomerID(req.UserID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileDTO(*p))
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsInsufficientBalance(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
