package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/debts"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/portfolio"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// DebtService manages debts and their schedules.
type DebtService interface {
	Create(ctx context.Context, ownerID string, in debts.CreateInput) (*domain.Debt, []domain.AmortizationRow, error)
	Schedule(ctx context.Context, ownerID, debtID string) (*domain.Debt, []domain.AmortizationRow, error)
	Pay(ctx context.Context, ownerID, debtID string, in debts.PaymentInput) (*debts.Payment, error)
}

// DebtsHandler handles debt endpoints.
type DebtsHandler struct {
	debts DebtService
}

// NewDebtsHandler creates a new debts handler.
func NewDebtsHandler(svc DebtService) *DebtsHandler {
	return &DebtsHandler{debts: svc}
}

type scheduleResponse struct {
	Debt     *domain.Debt             `json:"debt"`
	Schedule []domain.AmortizationRow `json:"schedule"`
}

// CreateDebt handles POST /api/debts
func (h *DebtsHandler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name       string          `json:"name"`
		Principal  decimal.Decimal `json:"principal"`
		AnnualRate decimal.Decimal `json:"annual_rate"`
		TermMonths int             `json:"term_months"`
		StartDate  string          `json:"start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	start, ok := parseOptionalDate(w, req.StartDate, "start_date")
	if !ok {
		return
	}

	debt, rows, err := h.debts.Create(ctx, middleware.OwnerID(ctx), debts.CreateInput{
		Name:       req.Name,
		Principal:  req.Principal,
		AnnualRate: req.AnnualRate,
		TermMonths: req.TermMonths,
		StartDate:  start,
	})
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to create debt")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, scheduleResponse{Debt: debt, Schedule: rows})
}

// GetSchedule handles GET /api/debts/{id}/schedule
func (h *DebtsHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	debt, rows, err := h.debts.Schedule(ctx, middleware.OwnerID(ctx), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to load schedule")
		return
	}
	if rows == nil {
		rows = []domain.AmortizationRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, scheduleResponse{Debt: debt, Schedule: rows})
}

// Pay handles POST /api/debts/{id}/payments
func (h *DebtsHandler) Pay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Date     string          `json:"date"`
		Prepay   bool            `json:"prepay"`
		Account  string          `json:"account"`
		Category string          `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	at, ok := parseOptionalDate(w, req.Date, "date")
	if !ok {
		return
	}

	res, err := h.debts.Pay(ctx, middleware.OwnerID(ctx), mux.Vars(r)["id"], debts.PaymentInput{
		Amount:   req.Amount,
		Date:     at,
		Prepay:   req.Prepay,
		Account:  req.Account,
		Category: req.Category,
	})
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to apply payment")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// parseOptionalDate parses s as YYYY-MM-DD and writes a 400 when it is malformed.
func parseOptionalDate(w http.ResponseWriter, s, field string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid "+field+" format")
		return time.Time{}, false
	}
	return t, true
}

// ProfitReporter computes portfolio profit.
type ProfitReporter interface {
	MonthlyProfit(ctx context.Context, ownerID string) ([]portfolio.MonthProfit, error)
}

// PortfolioHandler handles portfolio endpoints.
type PortfolioHandler struct {
	portfolio ProfitReporter
}

// NewPortfolioHandler creates a new portfolio handler.
func NewPortfolioHandler(p ProfitReporter) *PortfolioHandler {
	return &PortfolioHandler{portfolio: p}
}

// MonthlyProfit handles GET /api/portfolio/monthly-profit
func (h *PortfolioHandler) MonthlyProfit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	months, err := h.portfolio.MonthlyProfit(ctx, middleware.OwnerID(ctx))
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to compute profit")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"months": months,
		"count":  len(months),
	})
}
