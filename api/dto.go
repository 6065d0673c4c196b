/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Prices are decimal.Decimal internally and float64 in DTOs. The float is a
  presentation concern only; no arithmetic happens on it.

IDENTITY:
  The external contract calls the customer field "user_id"; internally it is
  CustomerID throughout.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The internal domain model
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/report"
)

// =============================================================================
// SERVICE TRANSACTIONS
// =============================================================================

// ServiceTransactionRequest is the request to record a service transaction.
// Quantity is honored for credit-type transactions only; purchased and used
// take their quantity from the service catalog.
type ServiceTransactionRequest struct {
	UserID     int64  `json:"user_id"`
	Type       string `json:"type"`
	ServiceID  int64  `json:"service_id"`
	Quantity   int    `json:"quantity"`
	LocationID int64  `json:"location_id"`
}

// ServiceEntryDTO represents one ledger entry in API responses.
type ServiceEntryDTO struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	ServiceID  int64  `json:"service_id"`
	Type       string `json:"type"`
	Quantity   int    `json:"quantity"`
	LocationID int64  `json:"location_id"`
	CreatedAt  string `json:"created_at"`
}

func toServiceEntryDTO(e ledger.ServiceEntry) ServiceEntryDTO {
	return ServiceEntryDTO{
		ID:         int64(e.ID),
		UserID:     int64(e.CustomerID),
		ServiceID:  int64(e.ServiceID),
		Type:       string(e.Type),
		Quantity:   e.Quantity,
		LocationID: int64(e.LocationID),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

// UpdateMinutesRequest is the balance-only credit request. No ledger entry is
// written for it.
type UpdateMinutesRequest struct {
	UserID  int64 `json:"user_id"`
	Minutes int   `json:"available_balance"`
}

// BalanceDTO reports a customer's balance after a mutation.
type BalanceDTO struct {
	Message          string `json:"message"`
	AvailableBalance int    `json:"available_balance"`
}

// TotalSpendDTO reports the cumulative total-spend counter after a
// recomputation.
type TotalSpendDTO struct {
	Message    string `json:"message"`
	TotalSpend int    `json:"total_spend"`
}

// MinutesSummaryDTO reports used and purchased minute totals. The nested
// shape and camelCase inner keys are the legacy wire contract.
type MinutesSummaryDTO struct {
	TotalQuantity MinuteTotalsDTO `json:"total_quantity"`
}

type MinuteTotalsDTO struct {
	TotalUsed      int `json:"totalUsed"`
	TotalPurchased int `json:"totalPurchased"`
}

// =============================================================================
// PRODUCT TRANSACTIONS
// =============================================================================

// ProductTransactionRequest is the request to record one product sale.
type ProductTransactionRequest struct {
	UserID     int64 `json:"user_id"`
	ProductID  int64 `json:"product_id"`
	LocationID int64 `json:"location_id"`
	Quantity   int   `json:"quantity"`
}

// BulkProductRequest carries a batch of product sales. The bulk path skips
// stock decrements.
type BulkProductRequest struct {
	Transactions []ProductTransactionRequest `json:"transactions"`
}

// ProductEntryDTO represents one product ledger entry in API responses.
type ProductEntryDTO struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	ProductID  int64  `json:"product_id"`
	LocationID int64  `json:"location_id"`
	Quantity   int    `json:"quantity"`
	CreatedAt  string `json:"created_at"`
}

func toProductEntryDTO(e ledger.ProductEntry) ProductEntryDTO {
	return ProductEntryDTO{
		ID:         int64(e.ID),
		UserID:     int64(e.CustomerID),
		ProductID:  int64(e.ProductID),
		LocationID: int64(e.LocationID),
		Quantity:   e.Quantity,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// REPORTS
// =============================================================================

// RangeReportRequest bounds a report to full days; location_id 0 means all
// locations.
type RangeReportRequest struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	LocationID int64  `json:"location_id"`
}

// LocationDTO represents a location in API responses.
type LocationDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	PostCode    string `json:"post_code,omitempty"`
}

func toLocationDTO(l ledger.Location) LocationDTO {
	return LocationDTO{
		ID:          int64(l.ID),
		Name:        l.Name,
		Code:        l.Code,
		Address:     l.Address,
		City:        l.City,
		PhoneNumber: l.PhoneNumber,
		PostCode:    l.PostCode,
	}
}

// ServiceReportRowDTO is one aggregated (location, service) row.
type ServiceReportRowDTO struct {
	Location      LocationDTO `json:"location"`
	ServiceName   string      `json:"service_name"`
	TotalQuantity int         `json:"total_quantity"`
	TotalPrice    float64     `json:"total_price"`
	Date          string      `json:"date"`
}

func toServiceReportDTOs(rows []report.ServiceRow) []ServiceReportRowDTO {
	dtos := make([]ServiceReportRowDTO, len(rows))
	for i, row := range rows {
		price, _ := row.TotalPrice.Float64()
		dtos[i] = ServiceReportRowDTO{
			Location:      toLocationDTO(row.Location),
			ServiceName:   row.ServiceName,
			TotalQuantity: row.TotalQuantity,
			TotalPrice:    price,
			Date:          row.Date,
		}
	}
	return dtos
}

// ProductReportRowDTO is one aggregated (location, product, day) row.
type ProductReportRowDTO struct {
	Location   LocationDTO `json:"location"`
	ProductID  int64       `json:"product_id"`
	Product    string      `json:"product"`
	Price      float64     `json:"price"`
	TotalSold  int         `json:"total_sold"`
	TotalPrice float64     `json:"total_price"`
	Date       string      `json:"date"`
}

func toProductReportDTOs(rows []report.ProductRow) []ProductReportRowDTO {
	dtos := make([]ProductReportRowDTO, len(rows))
	for i, row := range rows {
		price, _ := row.Price.Float64()
		total, _ := row.TotalPrice.Float64()
		dtos[i] = ProductReportRowDTO{
			Location:   toLocationDTO(row.Location),
			ProductID:  int64(row.ProductID),
			Product:    row.Product,
			Price:      price,
			TotalSold:  row.TotalSold,
			TotalPrice: total,
			Date:       row.Date,
		}
	}
	return dtos
}

// DayUsageRowDTO counts distinct customers per (day, location).
type DayUsageRowDTO struct {
	Date       string `json:"date"`
	LocationID int64  `json:"location_id"`
	Location   string `json:"location"`
	UserCount  int    `json:"user_count"`
}

func toDayUsageDTOs(rows []report.DayUsageRow) []DayUsageRowDTO {
	dtos := make([]DayUsageRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = DayUsageRowDTO{
			Date:       row.Date,
			LocationID: int64(row.LocationID),
			Location:   row.LocationName,
			UserCount:  row.UserCount,
		}
	}
	return dtos
}

// =============================================================================
// CATALOG AND PROFILES
// =============================================================================

// ServiceDTO represents a service catalog entry.
type ServiceDTO struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	MinutesAvailable int     `json:"minutes_available"`
}

func toServiceDTO(svc ledger.ServiceCatalogEntry) ServiceDTO {
	price, _ := svc.Price.Float64()
	return ServiceDTO{
		ID:               int64(svc.ID),
		Name:             svc.Name,
		Price:            price,
		MinutesAvailable: svc.MinutesAvailable,
	}
}

// CreateServiceRequest is the request to create or update a service.
type CreateServiceRequest struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	MinutesAvailable int     `json:"minutes_available"`
}

// ProductDTO represents a product catalog entry with its per-code stock.
type ProductDTO struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Price float64        `json:"price"`
	Stock map[string]int `json:"stock"`
}

func toProductDTO(p ledger.ProductCatalogEntry) ProductDTO {
	price, _ := p.Price.Float64()
	return ProductDTO{
		ID:    int64(p.ID),
		Name:  p.Name,
		Price: price,
		Stock: p.Stock,
	}
}

// CreateProductRequest is the request to create or update a product. Stock is
// optional; absent buckets are seeded at zero.
type CreateProductRequest struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Price float64        `json:"price"`
	Stock map[string]int `json:"stock"`
}

// BulkProductCatalogRequest inserts many products at once. Stock seeding is
// skipped on this path.
type BulkProductCatalogRequest struct {
	Products []CreateProductRequest `json:"products"`
}

// CreateLocationRequest is the request to create or update a location.
type CreateLocationRequest struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PhoneNumber string `json:"phone_number"`
	PostCode    string `json:"post_code"`
}

// ProfileDTO represents a customer profile.
type ProfileDTO struct {
	UserID            int64  `json:"user_id"`
	Role              string `json:"role"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	PhoneNumber       string `json:"phone_number"`
	AvailableBalance  int    `json:"available_balance"`
	TotalSpend        int    `json:"total_spend"`
	PreferredLocation int64  `json:"preferred_location"`
	CreatedAt         string `json:"created_at,omitempty"`
}

func toProfileDTO(p ledger.Profile) ProfileDTO {
	created := ""
	if !p.CreatedAt.IsZero() {
		created = p.CreatedAt.Format(time.RFC3339)
	}
	return ProfileDTO{
		UserID:            int64(p.CustomerID),
		Role:              string(p.Role),
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		Email:             p.Email,
		PhoneNumber:       p.PhoneNumber,
		AvailableBalance:  p.AvailableBalance,
		TotalSpend:        p.TotalSpend,
		PreferredLocation: int64(p.PreferredLocation),
		CreatedAt:         created,
	}
}

// CreateProfileRequest is the request to create or update a profile.
type CreateProfileRequest struct {
	UserID            int64  `json:"user_id"`
	Role              string `json:"role"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	PhoneNumber       string `json:"phone_number"`
	AvailableBalance  int    `json:"available_balance"`
	PreferredLocation int64  `json:"preferred_location"`
}

// =============================================================================
// GENERIC WRAPPERS
// =============================================================================

// MessageResponse wraps a mutation result with a human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
