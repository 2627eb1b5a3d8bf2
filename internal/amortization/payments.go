package amortization

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrOverpayment is returned when a payment exceeds everything still owed.
var ErrOverpayment = errors.New("payment exceeds remaining debt")

// PaymentResult describes how a payment was applied.
type PaymentResult struct {
	// Paid lists the installment numbers settled by this payment.
	Paid []int `json:"paid"`
	// CapitalApplied is the total reduction of the outstanding balance.
	CapitalApplied decimal.Decimal `json:"capital_applied"`
	// Prepaid is the part of the payment applied directly to capital.
	Prepaid decimal.Decimal `json:"prepaid"`
	// Rows is the complete schedule after the payment.
	Rows []domain.AmortizationRow `json:"rows"`
	// Outstanding is the debt balance after the payment.
	Outstanding decimal.Decimal `json:"outstanding"`
}

// ApplyPayment settles whole installments in due order while the amount covers
// them, then applies any remainder as a capital prepayment that re-derives the
// unpaid tail over the same number of remaining installments. Paid rows are never
// modified and the outstanding balance only decreases. rows is not mutated.
func ApplyPayment(debt *domain.Debt, rows []domain.AmortizationRow, amount decimal.Decimal, at time.Time) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment must be positive", domain.ErrInvalidInput)
	}

	sched := sortedCopy(rows)
	res := &PaymentResult{
		CapitalApplied: decimal.Zero,
		Prepaid:        decimal.Zero,
		Outstanding:    debt.Outstanding,
	}

	remaining := amount
	for i := range sched {
		if sched[i].Paid {
			continue
		}
		if remaining.LessThan(sched[i].Payment) {
			break
		}
		paidAt := at
		sched[i].Paid = true
		sched[i].PaidAt = &paidAt
		remaining = remaining.Sub(sched[i].Payment)
		res.Paid = append(res.Paid, sched[i].Number)
		res.CapitalApplied = res.CapitalApplied.Add(sched[i].Capital)
		res.Outstanding = res.Outstanding.Sub(sched[i].Capital)
	}

	if remaining.IsPositive() {
		if remaining.GreaterThan(res.Outstanding) {
			return nil, fmt.Errorf("%w: %s left after installments, %s outstanding", ErrOverpayment, remaining, res.Outstanding)
		}
		res.Prepaid = remaining
		res.CapitalApplied = res.CapitalApplied.Add(remaining)
		res.Outstanding = res.Outstanding.Sub(remaining)
		sched = rebuildTail(debt, sched, res.Outstanding)
	}

	if res.Outstanding.IsNegative() {
		res.Outstanding = decimal.Zero
	}
	res.Rows = sched
	return res, nil
}

// PrepayCapital applies amount straight to capital without settling any
// installment, then re-derives the unpaid tail.
func PrepayCapital(debt *domain.Debt, rows []domain.AmortizationRow, amount decimal.Decimal) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: prepayment must be positive", domain.ErrInvalidInput)
	}
	if amount.GreaterThan(debt.Outstanding) {
		return nil, fmt.Errorf("%w: %s prepaid, %s outstanding", ErrOverpayment, amount, debt.Outstanding)
	}
	outstanding := debt.Outstanding.Sub(amount)
	return &PaymentResult{
		CapitalApplied: amount,
		Prepaid:        amount,
		Rows:           rebuildTail(debt, sortedCopy(rows), outstanding),
		Outstanding:    outstanding,
	}, nil
}

// rebuildTail keeps every paid row and re-derives the unpaid ones from balance,
// preserving their due dates. A zero balance drops the unpaid tail.
func rebuildTail(debt *domain.Debt, sched []domain.AmortizationRow, balance decimal.Decimal) []domain.AmortizationRow {
	var (
		kept     []domain.AmortizationRow
		dueDates []time.Time
		first    int
	)
	for _, r := range sched {
		if r.Paid {
			kept = append(kept, r)
			continue
		}
		if first == 0 {
			first = r.Number
		}
		dueDates = append(dueDates, r.DueDate)
	}
	if len(dueDates) == 0 || balance.IsZero() {
		return kept
	}
	tail := build(debt.ID, balance, MonthlyRate(debt.AnnualRate), first, dueDates)
	return append(kept, tail...)
}

// MergeExtracted replaces the unpaid part of an existing schedule with rows read
// from a lender's document. Extracted rows that collide with a paid installment
// are ignored.
func MergeExtracted(existing, extracted []domain.AmortizationRow) []domain.AmortizationRow {
	paid := make(map[int]bool)
	var merged []domain.AmortizationRow
	for _, r := range existing {
		if r.Paid {
			paid[r.Number] = true
			merged = append(merged, r)
		}
	}
	for _, r := range extracted {
		if paid[r.Number] {
			continue
		}
		r.Paid = false
		r.PaidAt = nil
		merged = append(merged, r)
	}
	return sortedCopy(merged)
}

// NextUnpaid returns the first unpaid installment, or nil when the debt is settled.
func NextUnpaid(rows []domain.AmortizationRow) *domain.AmortizationRow {
	sched := sortedCopy(rows)
	for i := range sched {
		if !sched[i].Paid {
			return &sched[i]
		}
	}
	return nil
}

func sortedCopy(rows []domain.AmortizationRow) []domain.AmortizationRow {
	out := make([]domain.AmortizationRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
