package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/debts"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/ingest"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ingest/internal/portfolio"
	"github.com/dvloznov/finance-ingest/internal/review"
	"github.com/dvloznov/finance-ingest/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStarter is a mock implementation of handlers.Starter.
type MockStarter struct {
	StartFunc func(ctx context.Context, kind domain.PendingKind, ownerID string, opts ingest.StartOptions) (*ingest.StartResult, error)
}

func (m *MockStarter) Start(ctx context.Context, kind domain.PendingKind, ownerID string, opts ingest.StartOptions) (*ingest.StartResult, error) {
	return m.StartFunc(ctx, kind, ownerID, opts)
}

// MockProfit is a mock implementation of handlers.ProfitReporter.
type MockProfit struct {
	MonthlyProfitFunc func(ctx context.Context, ownerID string) ([]portfolio.MonthProfit, error)
}

func (m *MockProfit) MonthlyProfit(ctx context.Context, ownerID string) ([]portfolio.MonthProfit, error) {
	return m.MonthlyProfitFunc(ctx, ownerID)
}

type fixture struct {
	handler http.Handler
	store   *memory.Store
	jobs    *inmemory.Store
	starter *MockStarter
	profit  *MockProfit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		jobs:  inmemory.NewStore(),
		starter: &MockStarter{
			StartFunc: func(ctx context.Context, kind domain.PendingKind, ownerID string, opts ingest.StartOptions) (*ingest.StartResult, error) {
				return &ingest.StartResult{Status: ingest.StatusNoFiles}, nil
			},
		},
		profit: &MockProfit{
			MonthlyProfitFunc: func(ctx context.Context, ownerID string) ([]portfolio.MonthProfit, error) {
				return []portfolio.MonthProfit{}, nil
			},
		},
	}
	f.handler = NewRouter(Deps{
		Coordinator: f.starter,
		Jobs:        f.jobs,
		Reviewer:    review.NewService(f.store, nil, nil),
		Debts:       debts.NewService(f.store, nil),
		Portfolio:   f.profit,
		MercadoPago: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}),
	}, zerolog.New(io.Discard))
	return f
}

func (f *fixture) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if owner != "" {
		req.Header.Set(middleware.UserHeader, owner)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMiddleware(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/api/pending", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodOptions, "/api/pending", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/webhooks/mercadopago", "", map[string]string{"type": "payment"})
	assert.Equal(t, http.StatusOK, rec.Code, "webhooks are not behind the owner header")

	rec = f.do(t, http.MethodGet, "/nope", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestStart(t *testing.T) {
	f := newFixture(t)

	var gotKind domain.PendingKind
	var gotOwner, gotDebt string
	f.starter.StartFunc = func(ctx context.Context, kind domain.PendingKind, ownerID string, opts ingest.StartOptions) (*ingest.StartResult, error) {
		gotKind, gotOwner, gotDebt = kind, ownerID, opts.DebtID
		if kind == domain.KindInvoice {
			return &ingest.StartResult{Status: ingest.StatusNoFiles}, nil
		}
		if kind == domain.KindAmortization && opts.DebtID == "" {
			return nil, domain.ErrInvalidInput
		}
		return &ingest.StartResult{Status: ingest.StatusStarted, GroupID: "g1", TotalTasks: 5}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/ingest/ticket", "u1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "STARTED", body["status"])
	assert.Equal(t, "g1", body["group_id"])
	assert.EqualValues(t, 5, body["total_tasks"])
	assert.Equal(t, domain.KindTicket, gotKind)
	assert.Equal(t, "u1", gotOwner)

	rec = f.do(t, http.MethodPost, "/api/ingest/amortization", "u1", map[string]string{"debt_id": "d1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "d1", gotDebt)

	rec = f.do(t, http.MethodPost, "/api/ingest/amortization?debt_id=d2", "u1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "d2", gotDebt)

	rec = f.do(t, http.MethodPost, "/api/ingest/invoice", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NO_FILES", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/ingest/receipts", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/ingest/ticket", "u1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJobsAndGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.jobs.SaveGroup(ctx, &jobs.Group{GroupID: "g1", OwnerID: "u1", Total: 2, JobIDs: []string{"j1", "j2"}}))
	require.NoError(t, f.jobs.SaveJob(ctx, &jobs.Job{JobID: "j1", GroupID: "g1", OwnerID: "u1", Status: jobs.JobStatusCompleted, Outcome: jobs.OutcomeSuccess, CreatedAt: now}))
	require.NoError(t, f.jobs.SaveJob(ctx, &jobs.Job{JobID: "j2", GroupID: "g1", OwnerID: "u1", Status: jobs.JobStatusRunning, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, f.jobs.SaveJob(ctx, &jobs.Job{JobID: "j3", OwnerID: "u2", Status: jobs.JobStatusPending, CreatedAt: now}))

	rec := f.do(t, http.MethodGet, "/api/jobs", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/jobs?status=running", "u1", nil)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/jobs/j1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SUCCESS", decode(t, rec)["outcome"])

	rec = f.do(t, http.MethodGet, "/api/jobs/j3", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/groups/g1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode(t, rec)
	assert.Equal(t, "PROGRESS", progress["status"])
	assert.EqualValues(t, 50, progress["progress"])

	rec = f.do(t, http.MethodGet, "/api/groups/g1", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]any{
		"tipo_documento":  "TICKET_COMPRA",
		"establecimiento": "Oxxo",
		"total":           "123.45",
		"fecha":           time.Now().Format("2006-01-02"),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePending(ctx, &domain.PendingExtraction{ID: "p1", OwnerID: "u1", Kind: domain.KindTicket, Payload: payload}))
	require.NoError(t, f.store.CreatePending(ctx, &domain.PendingExtraction{ID: "p2", OwnerID: "u1", Kind: domain.KindTicket, Payload: payload}))

	rec := f.do(t, http.MethodGet, "/api/pending?kind=ticket", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/pending?kind=bogus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/pending/p1/approve", "u1", map[string]string{"category": "Comida"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "account is required")

	rec = f.do(t, http.MethodPost, "/api/pending/p1/approve", "u2", map[string]string{"account": "BBVA"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/pending/p1/approve", "u1", map[string]string{"account": "BBVA", "category": "Comida"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approval := decode(t, rec)
	assert.Equal(t, "ticket", approval["kind"])
	tx := approval["transaction"].(map[string]any)
	assert.Equal(t, "OXXO", tx["description"])
	assert.Equal(t, "GASTO", tx["type"])

	rec = f.do(t, http.MethodPost, "/api/pending/p1/approve", "u1", map[string]string{"account": "BBVA"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/pending/p2/reject", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/pending", "u1", nil)
	assert.EqualValues(t, 0, decode(t, rec)["count"])

	rec = f.do(t, http.MethodPost, "/api/pending/missing/reject", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/debts", "u1", map[string]any{
		"name":        "Auto",
		"principal":   "12000",
		"annual_rate": "12",
		"term_months": 12,
		"start_date":  "2025-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	debtID := created["debt"].(map[string]any)["id"].(string)
	assert.Len(t, created["schedule"], 12)

	rec = f.do(t, http.MethodPost, "/api/debts", "u1", map[string]any{"name": "Bad", "principal": "100", "term_months": 1, "start_date": "10/01/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/debts/"+debtID+"/schedule", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode(t, rec)["schedule"].([]any)[0].(map[string]any)
	assert.Equal(t, "1066.19", first["payment"])

	rec = f.do(t, http.MethodGet, "/api/debts/"+debtID+"/schedule", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/debts/"+debtID+"/payments", "u1", map[string]any{"amount": "1066.19", "date": "2025-02-10", "account": "BBVA"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode(t, rec)
	assert.Equal(t, []any{float64(1)}, paid["paid"])
	assert.Equal(t, "11053.81", paid["outstanding"])
	assert.Equal(t, debtID, paid["transaction"].(map[string]any)["loan_ref"])

	rec = f.do(t, http.MethodPost, "/api/debts/"+debtID+"/payments", "u1", map[string]any{"amount": "999999", "prepay": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortfolioMonthlyProfit(t *testing.T) {
	f := newFixture(t)

	var gotOwner string
	f.profit.MonthlyProfitFunc = func(ctx context.Context, ownerID string) ([]portfolio.MonthProfit, error) {
		gotOwner = ownerID
		return nil, domain.ErrThrottled
	}

	rec := f.do(t, http.MethodGet, "/api/portfolio/monthly-profit", "u7", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "u7", gotOwner)
}
