// Package debts registers loans and applies payments to their schedules.
package debts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/amortization"
	"github.com/dvloznov/finance-ingest/internal/domain"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateInput describes a new debt.
type CreateInput struct {
	Name       string          `json:"name"`
	Principal  decimal.Decimal `json:"principal"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	TermMonths int             `json:"term_months"`
	StartDate  time.Time       `json:"start_date"`
}

// PaymentInput describes a payment made against a debt.
type PaymentInput struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	// Prepay sends the whole amount to capital instead of settling installments.
	Prepay bool `json:"prepay"`
	// Account, when set, records the payment as an expense from that account.
	Account  string `json:"account"`
	Category string `json:"category"`
}

// Payment is the result of Pay.
type Payment struct {
	*amortization.PaymentResult
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// Service owns debt schedules.
type Service struct {
	store store.Store
	sink  infra.Sink
	now   func() time.Time
}

// NewService creates a debt service. sink may be nil.
func NewService(st store.Store, sink infra.Sink) *Service {
	if sink == nil {
		sink = infra.NoopSink{}
	}
	return &Service{store: st, sink: sink, now: time.Now}
}

// Create stores the debt and its generated schedule.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*domain.Debt, []domain.AmortizationRow, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("Create: %w: name is required", domain.ErrInvalidInput)
	}
	start := in.StartDate
	if start.IsZero() {
		start = s.now()
	}

	debt := &domain.Debt{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Principal:   in.Principal,
		AnnualRate:  in.AnnualRate,
		TermMonths:  in.TermMonths,
		StartDate:   start,
		Outstanding: in.Principal,
		CreatedAt:   s.now(),
	}
	rows, err := amortization.Schedule(debt.ID, in.Principal, in.AnnualRate, in.TermMonths, start)
	if err != nil {
		return nil, nil, fmt.Errorf("Create: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateDebt(ctx, debt); err != nil {
			return err
		}
		return tx.ReplaceSchedule(ctx, debt.ID, rows)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("Create: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("debt_id", debt.ID).Int("installments", len(rows)).Msg("Debt created")
	return debt, rows, nil
}

// Schedule returns the debt and its current schedule.
func (s *Service) Schedule(ctx context.Context, ownerID, debtID string) (*domain.Debt, []domain.AmortizationRow, error) {
	debt, err := s.store.GetDebt(ctx, ownerID, debtID)
	if err != nil {
		return nil, nil, fmt.Errorf("Schedule: %w", err)
	}
	rows, err := s.store.ScheduleRows(ctx, debt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("Schedule: %w", err)
	}
	return debt, rows, nil
}

// Pay applies a payment and stores the resulting schedule and balance. With an
// account the payment is also booked as an expense referencing the debt.
func (s *Service) Pay(ctx context.Context, ownerID, debtID string, in PaymentInput) (*Payment, error) {
	at := in.Date
	if at.IsZero() {
		at = s.now()
	}

	out := &Payment{}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		debt, err := tx.GetDebt(ctx, ownerID, debtID)
		if err != nil {
			return err
		}
		rows, err := tx.ScheduleRows(ctx, debt.ID)
		if err != nil {
			return err
		}

		if in.Prepay {
			out.PaymentResult, err = amortization.PrepayCapital(debt, rows, in.Amount)
		} else {
			out.PaymentResult, err = amortization.ApplyPayment(debt, rows, in.Amount, at)
		}
		if errors.Is(err, amortization.ErrOverpayment) {
			return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		if err != nil {
			return err
		}

		if err := tx.ReplaceSchedule(ctx, debt.ID, out.Rows); err != nil {
			return err
		}
		if err := tx.UpdateDebtOutstanding(ctx, debt.ID, out.Outstanding); err != nil {
			return err
		}

		if in.Account == "" {
			return nil
		}
		t := &domain.Transaction{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			Date:          at,
			Description:   strings.ToUpper("PAGO " + debt.Name),
			Category:      in.Category,
			Amount:        in.Amount,
			Type:          domain.TransactionExpense,
			SourceAccount: in.Account,
			LoanRef:       debt.ID,
			CreatedAt:     s.now(),
		}
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return err
		}
		out.Transaction = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Pay: %w", err)
	}

	log := logger.FromContext(ctx)
	if out.Transaction != nil {
		if err := s.sink.InsertLedgerTransactions(ctx, []domain.Transaction{*out.Transaction}); err != nil {
			log.Warn().Err(err).Str("transaction_id", out.Transaction.ID).Msg("Failed to mirror transaction")
		}
	}
	log.Info().
		Str("debt_id", debtID).
		Ints("paid", out.Paid).
		Str("outstanding", out.Outstanding.String()).
		Msg("Debt payment applied")
	return out, nil
}
