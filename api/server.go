/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for back-office frontends

ROUTE GROUPS:
  /api/service-transactions  Service ledger writes
  /api/product-transactions  Product ledger writes
  /api/*-report              Reporting
  /api/services|products|locations|profiles  Catalog management

ROUTE NAMES:
  Several report paths keep their historical names (product-saled-report,
  update/minutes) because existing clients depend on them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Service ledger
		r.Route("/service-transactions", func(r chi.Router) {
			r.Post("/", h.RecordServiceTransaction)
			r.Delete("/{id}", h.ReverseServiceTransaction)
		})
		r.Get("/total-spend/{id}", h.ComputeTotalSpend)
		r.Post("/update/minutes", h.CreditMinutes)
		r.Get("/used-minutes", h.MinutesSummary)
		r.Get("/used-minutes/{id}", h.MinutesSummaryForCustomer)

		// Product ledger
		r.Post("/product-transactions", h.RecordProductTransaction)
		r.Post("/product-all", h.BulkRecordProductTransactions)

		// Reports
		r.Get("/service-purchased-report", h.ServicePurchasedReport)
		r.Get("/service-used-report", h.ServiceUsedReport)
		r.Post("/service-purchase-report", h.ServicePurchaseRangeReport)
		r.Post("/service-use-report", h.ServiceUseRangeReport)
		r.Get("/product-sale-report", h.ProductSaleReport)
		r.Post("/product-saled-report", h.ProductSaleRangeReport)
		r.Post("/customer-day-usage", h.CustomerDayUsageReport)

		// Catalog
		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.ListServices)
			r.Post("/", h.CreateService)
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Post("/bulk", h.BulkCreateProducts)
		})
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.CreateLocation)
		})

		// Profiles
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.ListProfiles)
			r.Post("/", h.CreateProfile)
			r.Get("/{id}", h.GetProfile)
		})
	})

	return r
}
