// Package api assembles the HTTP surface: JSON endpoints under /api, provider
// webhooks and the health check.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/handlers"
	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the services behind the routes. Nil webhook handlers leave their
// routes unregistered.
type Deps struct {
	Coordinator handlers.Starter
	Jobs        jobs.JobStore
	Reviewer    handlers.Reviewer
	Debts       handlers.DebtService
	Portfolio   handlers.ProfitReporter

	MercadoPago http.Handler
	RISC        http.Handler
}

// NewRouter builds the routed handler wrapped in the middleware chain.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	ingestHandler := handlers.NewIngestHandler(deps.Coordinator)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs)
	pendingHandler := handlers.NewPendingHandler(deps.Reviewer)
	debtsHandler := handlers.NewDebtsHandler(deps.Debts)
	portfolioHandler := handlers.NewPortfolioHandler(deps.Portfolio)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	// Webhooks authenticate themselves
	if deps.MercadoPago != nil {
		r.Handle("/webhooks/mercadopago", deps.MercadoPago).Methods(http.MethodPost)
	}
	if deps.RISC != nil {
		r.Handle("/webhooks/risc", deps.RISC).Methods(http.MethodPost)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth)

	api.HandleFunc("/ingest/{kind}", ingestHandler.Start).Methods(http.MethodPost)

	api.HandleFunc("/groups/{id}", jobsHandler.GetGroup).Methods(http.MethodGet)
	api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	api.HandleFunc("/pending", pendingHandler.ListPending).Methods(http.MethodGet)
	api.HandleFunc("/pending/{id}/approve", pendingHandler.Approve).Methods(http.MethodPost)
	api.HandleFunc("/pending/{id}/reject", pendingHandler.Reject).Methods(http.MethodPost)

	api.HandleFunc("/debts", debtsHandler.CreateDebt).Methods(http.MethodPost)
	api.HandleFunc("/debts/{id}/schedule", debtsHandler.GetSchedule).Methods(http.MethodGet)
	api.HandleFunc("/debts/{id}/payments", debtsHandler.Pay).Methods(http.MethodPost)

	api.HandleFunc("/portfolio/monthly-profit", portfolioHandler.MonthlyProfit).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Apply middleware
	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(r),
			),
		),
	)
}
