// Package store defines persistence for pending extractions, the ledger, debts,
// billing reference data and accounts.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// PendingFilter selects pending extractions. Empty fields match everything.
type PendingFilter struct {
	OwnerID string
	Kind    domain.PendingKind
	Status  domain.PendingStatus
	Limit   int
}

// PendingStore holds AI extractions awaiting review.
type PendingStore interface {
	CreatePending(ctx context.Context, p *domain.PendingExtraction) error
	GetPending(ctx context.Context, id string) (*domain.PendingExtraction, error)
	// GetPendingForUpdate locks the row until the surrounding transaction ends.
	GetPendingForUpdate(ctx context.Context, id string) (*domain.PendingExtraction, error)
	ListPending(ctx context.Context, filter PendingFilter) ([]domain.PendingExtraction, error)
	UpdatePendingStatus(ctx context.Context, id string, status domain.PendingStatus, ledgerRef string, reviewedAt time.Time) error
}

// LedgerStore holds approved ledger rows.
type LedgerStore interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactions(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Transaction, error)

	CreateInvestment(ctx context.Context, inv *domain.Investment) error
	ListInvestments(ctx context.Context, ownerID string) ([]domain.Investment, error)
	UpdateInvestmentPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error

	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	ListInvoices(ctx context.Context, ownerID string) ([]domain.Invoice, error)
}

// DebtStore holds debts and their amortization schedules.
type DebtStore interface {
	CreateDebt(ctx context.Context, debt *domain.Debt) error
	GetDebt(ctx context.Context, ownerID, id string) (*domain.Debt, error)
	ListDebts(ctx context.Context, ownerID string) ([]domain.Debt, error)
	UpdateDebtOutstanding(ctx context.Context, id string, outstanding decimal.Decimal) error

	ScheduleRows(ctx context.Context, debtID string) ([]domain.AmortizationRow, error)
	// ReplaceSchedule overwrites every row of the debt's schedule.
	ReplaceSchedule(ctx context.Context, debtID string, rows []domain.AmortizationRow) error
}

// BillingStore holds the reference list of stores that issue tax invoices.
// It satisfies billing.StoreRepository.
type BillingStore interface {
	StoreByName(ctx context.Context, name string) (*domain.StoreBillingConfig, error)
	StoresByInitial(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error)
	AllStores(ctx context.Context) ([]domain.StoreBillingConfig, error)
	UpsertStore(ctx context.Context, cfg *domain.StoreBillingConfig) error
}

// AccountStore holds users, sessions, subscriptions and Drive credentials.
type AccountStore interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserBySubject(ctx context.Context, subject string) (*domain.User, error)
	SetUserActive(ctx context.Context, id string, active bool) error

	CreateSession(ctx context.Context, s *domain.Session) error
	// DeleteSessions removes every session of the user and reports how many existed.
	DeleteSessions(ctx context.Context, userID string) (int, error)

	UpsertSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, ownerID string) (*domain.Subscription, error)

	SaveGoogleCredentials(ctx context.Context, c *domain.GoogleCredentials) error
	GoogleCredentials(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error)
}

// Store is the complete persistence surface.
type Store interface {
	PendingStore
	LedgerStore
	DebtStore
	BillingStore
	AccountStore

	// WithTx runs fn inside a transaction. fn must use the Store it is given.
	// Returning an error rolls the transaction back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
