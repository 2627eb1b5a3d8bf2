package amortization

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// ErrNoOpeningBalance is returned when the first row of a table carries only a
// payment and a balance, and no opening balance is known to derive its capital.
var ErrNoOpeningBalance = fmt.Errorf("%w: no opening balance to derive the first row's capital", domain.ErrSemantic)

// OpeningFunc reports the balance outstanding before the given installment.
type OpeningFunc func(number int) decimal.NullDecimal

type extractedRow struct {
	domain.AmortizationRow
	hasCapital bool
	hasBalance bool
	opening    decimal.NullDecimal
}

// FromExtracted converts the "tabla" array of an extracted lender schedule into rows.
// Each element needs at least a payment amount; missing installment numbers are
// taken from position.
//
// Capital comes from the row itself, from payment minus interest, or from the
// drop in balance since the previous row. Before the first row the balance is a
// "saldo_inicial" field on that row, else whatever opening reports for its
// installment number. opening may be nil.
func FromExtracted(debtID string, tabla []any, opening OpeningFunc, loc *time.Location) ([]domain.AmortizationRow, error) {
	if len(tabla) == 0 {
		return nil, fmt.Errorf("%w: schedule has no rows", domain.ErrSemantic)
	}

	parsed := make([]extractedRow, 0, len(tabla))
	for i, item := range tabla {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is %T, want object", domain.ErrSemantic, i, item)
		}
		row, err := parseExtractedRow(debtID, i, m, loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		parsed = append(parsed, row)
	}

	sortExtracted(parsed)

	rows := make([]domain.AmortizationRow, len(parsed))
	var prev decimal.NullDecimal
	for i, r := range parsed {
		if i == 0 {
			prev = r.opening
			if !prev.Valid && opening != nil {
				prev = opening(r.Number)
			}
		}
		if !r.hasCapital {
			switch {
			case !r.hasBalance:
				return nil, fmt.Errorf("%w: installment %d has no capital, interest or balance", domain.ErrSemantic, r.Number)
			case !prev.Valid && i == 0:
				return nil, fmt.Errorf("installment %d: %w", r.Number, ErrNoOpeningBalance)
			case !prev.Valid:
				return nil, fmt.Errorf("%w: installment %d has no capital and the previous row no balance", domain.ErrSemantic, r.Number)
			}
			r.Capital = prev.Decimal.Sub(r.Balance)
			if r.Capital.IsNegative() {
				return nil, fmt.Errorf("%w: balance grows at installment %d", domain.ErrSemantic, r.Number)
			}
		}
		prev = decimal.NullDecimal{Decimal: r.Balance, Valid: r.hasBalance}
		rows[i] = r.AmortizationRow
	}
	return rows, nil
}

func parseExtractedRow(debtID string, i int, m map[string]any, loc *time.Location) (extractedRow, error) {
	row := extractedRow{AmortizationRow: domain.AmortizationRow{DebtID: debtID, Number: i + 1}}

	if n, err := normalize.FirstDecimal(m, "numero", "numero_pago", "periodo"); err == nil && n.IsPositive() {
		row.Number = int(n.IntPart())
	}
	if due, ok := normalize.ParseDate(normalize.FirstString(m, "fecha", "fecha_pago", "fecha_vencimiento"), loc); ok {
		row.DueDate = due
	}

	var err error
	if row.Payment, err = normalize.RequiredDecimal(m, "pago", "pago_total", "monto_pago"); err != nil {
		return row, err
	}

	var hasInterest bool
	if row.Interest, hasInterest, err = normalize.LookupDecimal(m, "interes", "intereses"); err != nil {
		return row, err
	}
	if row.Capital, row.hasCapital, err = normalize.LookupDecimal(m, "capital", "abono_capital"); err != nil {
		return row, err
	}
	if row.Balance, row.hasBalance, err = normalize.LookupDecimal(m, "saldo", "saldo_insoluto", "saldo_final"); err != nil {
		return row, err
	}

	if d, ok, err := normalize.LookupDecimal(m, "saldo_inicial", "saldo_anterior"); err == nil && ok {
		row.opening = decimal.NewNullDecimal(d)
	}

	if !row.hasCapital && hasInterest {
		row.Capital = row.Payment.Sub(row.Interest)
		row.hasCapital = true
	}
	return row, nil
}

func sortExtracted(rows []extractedRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
}
