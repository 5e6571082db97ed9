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
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/summaries/*       Day summary reads (cached)
  /api/transactions/*    Sales, returns, compensated deletes
  /api/reconciliation/*  Batch rebuild and run records
  /api/ledgers/*         Monthly stock ledgers
  /api/targets/*         Weekly target configuration
  /api/incentives/*      Incentive evaluation
  /api/staff/*           Per-staff achievement reads

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Deploy behind the store gateway, which terminates auth.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Summary reads
		r.Route("/summaries", func(r chi.Router) {
			r.Get("/daily/{date}", h.GetDailySummary)
			r.Get("/staff/{date}", h.GetStaffDailySummary)
			r.Get("/products/{date}", h.ListProductDailySummaries)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.RecordSale)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/return", h.MarkReturned)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/run", h.RunReconciliation)
			r.Get("/runs", h.ListReconciliationRuns)
		})

		// Stock ledger routes
		r.Route("/ledgers/{month}", func(r chi.Router) {
			r.Get("/", h.ListLedgers)
			r.Post("/sync", h.SyncMonthLedgers)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", h.GetLedger)
				r.Post("/restocks", h.AddRestock)
				r.Post("/sync", h.SyncLedgerSales)
				r.Put("/opening-stock", h.CorrectOpeningStock)
			})
		})

		// Target and incentive routes
		r.Route("/targets/{month}", func(r chi.Router) {
			r.Put("/", h.PutTargets)
			r.Get("/", h.GetTargets)
		})
		r.Get("/incentives/{month}", h.EvaluateIncentives)
		r.Get("/staff/{id}/achievement", h.GetAchievement)
	})

	return r
}
