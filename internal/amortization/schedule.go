// Package amortization builds and maintains fixed-payment (French system) loan schedules.
package amortization

import (
	"fmt"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	moneyPlaces  = 2
	factorPlaces = 20
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(twelve).Div(hundred)
}

// Payment is the fixed installment P = L·r / (1 − (1+r)^−n), rounded to cents.
// A zero rate degenerates to L / n.
func Payment(principal, monthlyRate decimal.Decimal, months int) decimal.Decimal {
	if monthlyRate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(months))).Round(moneyPlaces)
	}

	// (1+r)^n, kept at a fixed precision so long terms do not grow the mantissa.
	onePlus := decimal.NewFromInt(1).Add(monthlyRate)
	factor := decimal.NewFromInt(1)
	for i := 0; i < months; i++ {
		factor = factor.Mul(onePlus).Round(factorPlaces)
	}

	// L·r·(1+r)^n / ((1+r)^n − 1) is the same formula without a negative power.
	return principal.Mul(monthlyRate).Mul(factor).
		Div(factor.Sub(decimal.NewFromInt(1))).
		Round(moneyPlaces)
}

// Schedule derives the full schedule for a new debt. Installment i falls due i
// months after start. The last row absorbs the rounding residue so the sum of
// capital equals principal and the final balance is exactly zero.
func Schedule(debtID string, principal, annualPercent decimal.Decimal, months int, start time.Time) ([]domain.AmortizationRow, error) {
	if !principal.IsPositive() {
		return nil, fmt.Errorf("%w: principal must be positive", domain.ErrInvalidInput)
	}
	if months <= 0 {
		return nil, fmt.Errorf("%w: term must be at least one month", domain.ErrInvalidInput)
	}
	if annualPercent.IsNegative() {
		return nil, fmt.Errorf("%w: rate cannot be negative", domain.ErrInvalidInput)
	}

	dueDates := make([]time.Time, months)
	for i := range dueDates {
		dueDates[i] = start.AddDate(0, i+1, 0)
	}
	return build(debtID, principal, MonthlyRate(annualPercent), 1, dueDates), nil
}

// build lays out len(dueDates) installments numbered from firstNumber.
func build(debtID string, balance, rate decimal.Decimal, firstNumber int, dueDates []time.Time) []domain.AmortizationRow {
	n := len(dueDates)
	payment := Payment(balance, rate, n)
	rows := make([]domain.AmortizationRow, 0, n)

	for i := 0; i < n; i++ {
		interest := balance.Mul(rate).Round(moneyPlaces)
		capital := payment.Sub(interest)
		rowPayment := payment
		if i == n-1 || capital.GreaterThan(balance) {
			capital = balance
			rowPayment = capital.Add(interest)
		}
		balance = balance.Sub(capital)

		rows = append(rows, domain.AmortizationRow{
			DebtID:   debtID,
			Number:   firstNumber + i,
			DueDate:  dueDates[i],
			Payment:  rowPayment,
			Interest: interest,
			Capital:  capital,
			Balance:  balance,
		})

		if balance.IsZero() {
			break
		}
	}
	return rows
}

// TotalCapital sums the capital column.
func TotalCapital(rows []domain.AmortizationRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Capital)
	}
	return total
}
