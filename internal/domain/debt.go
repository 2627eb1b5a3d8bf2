package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Debt is a loan with a fixed-payment schedule.
type Debt struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Principal   decimal.Decimal `json:"principal"`
	AnnualRate  decimal.Decimal `json:"annual_rate"` // percent, e.g. 12.5
	TermMonths  int             `json:"term_months"`
	StartDate   time.Time       `json:"start_date"`
	Outstanding decimal.Decimal `json:"outstanding"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AmortizationRow is one installment of a debt's schedule.
type AmortizationRow struct {
	DebtID   string          `json:"debt_id"`
	Number   int             `json:"number"`
	DueDate  time.Time       `json:"due_date"`
	Payment  decimal.Decimal `json:"payment"`
	Interest decimal.Decimal `json:"interest"`
	Capital  decimal.Decimal `json:"capital"`
	Balance  decimal.Decimal `json:"balance"`
	Paid     bool            `json:"paid"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
}
