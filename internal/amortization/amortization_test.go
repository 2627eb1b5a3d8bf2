package amortization

import (
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPayment(t *testing.T) {
	assert.Equal(t, "1066.19", Payment(dec("12000"), MonthlyRate(dec("12")), 12).StringFixed(2))
	assert.Equal(t, "333.33", Payment(dec("1000"), decimal.Zero, 3).StringFixed(2))
}

func TestSchedule_CapitalSumsToPrincipal(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		months    int
	}{
		{"12000", "12", 12},
		{"1000", "0", 3},
		{"250000", "10.5", 240},
		{"999.99", "35.9", 7},
		{"15000", "18", 1},
		{"87654.32", "9.99", 60},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("%s@%s_%d", c.principal, c.rate, c.months), func(t *testing.T) {
			principal := dec(c.principal)
			rows, err := Schedule("debt-1", principal, dec(c.rate), c.months, start)
			require.NoError(t, err)
			require.NotEmpty(t, rows)
			require.LessOrEqual(t, len(rows), c.months)

			assert.True(t, TotalCapital(rows).Equal(principal), "capital sum %s != principal %s", TotalCapital(rows), principal)
			assert.True(t, rows[len(rows)-1].Balance.IsZero(), "final balance %s", rows[len(rows)-1].Balance)

			prev := principal
			for i, r := range rows {
				assert.Equal(t, i+1, r.Number)
				assert.True(t, r.Balance.LessThan(prev), "balance must decrease at row %d", r.Number)
				assert.True(t, r.Payment.Equal(r.Capital.Add(r.Interest)), "row %d payment mismatch", r.Number)
				assert.Equal(t, start.AddDate(0, i+1, 0), r.DueDate)
				prev = r.Balance
			}
		})
	}
}

func TestSchedule_ZeroRateResidueInLastRow(t *testing.T) {
	rows, err := Schedule("d", dec("1000"), decimal.Zero, 3, start)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "333.33", rows[0].Capital.StringFixed(2))
	assert.Equal(t, "333.33", rows[1].Capital.StringFixed(2))
	assert.Equal(t, "333.34", rows[2].Capital.StringFixed(2))
	assert.Equal(t, "333.34", rows[2].Payment.StringFixed(2))
}

func TestSchedule_InvalidInput(t *testing.T) {
	_, err := Schedule("d", decimal.Zero, dec("10"), 12, start)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Schedule("d", dec("100"), dec("10"), 0, start)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Schedule("d", dec("100"), dec("-1"), 12, start)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func newDebt(t *testing.T, principal string, months int) (*domain.Debt, []domain.AmortizationRow) {
	t.Helper()
	debt := &domain.Debt{ID: "debt-1", Principal: dec(principal), AnnualRate: decimal.Zero, TermMonths: months, Outstanding: dec(principal)}
	rows, err := Schedule(debt.ID, debt.Principal, debt.AnnualRate, months, start)
	require.NoError(t, err)
	return debt, rows
}

func TestApplyPayment_WholeInstallments(t *testing.T) {
	debt, rows := newDebt(t, "3000", 3)
	paidAt := start.AddDate(0, 1, 0)

	res, err := ApplyPayment(debt, rows, dec("1000"), paidAt)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, res.Paid)
	assert.True(t, res.Prepaid.IsZero())
	assert.Equal(t, "2000", res.Outstanding.String())
	assert.True(t, res.Rows[0].Paid)
	require.NotNil(t, res.Rows[0].PaidAt)
	assert.Equal(t, paidAt, *res.Rows[0].PaidAt)
	assert.False(t, rows[0].Paid, "input rows must not be mutated")
}

func TestApplyPayment_PrepaymentRebuildsTail(t *testing.T) {
	debt, rows := newDebt(t, "3000", 3)

	first, err := ApplyPayment(debt, rows, dec("1000"), start)
	require.NoError(t, err)
	debt.Outstanding = first.Outstanding

	res, err := ApplyPayment(debt, first.Rows, dec("1500"), start)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, res.Paid)
	assert.Equal(t, "500", res.Prepaid.String())
	assert.Equal(t, "1500", res.CapitalApplied.String())
	assert.Equal(t, "500", res.Outstanding.String())

	require.Len(t, res.Rows, 3)
	assert.Equal(t, first.Rows[0], res.Rows[0], "paid rows are immutable")
	assert.Equal(t, 3, res.Rows[2].Number)
	assert.Equal(t, "500", res.Rows[2].Payment.String())
	assert.True(t, res.Rows[2].Balance.IsZero())
	assert.Equal(t, rows[2].DueDate, res.Rows[2].DueDate)
}

func TestApplyPayment_SettlesDebt(t *testing.T) {
	debt, rows := newDebt(t, "3000", 3)

	res, err := ApplyPayment(debt, rows, dec("2500"), start)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Paid)
	assert.Equal(t, "500", res.Outstanding.String())

	debt.Outstanding = res.Outstanding
	res, err = ApplyPayment(debt, res.Rows, dec("500"), start)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, res.Paid)
	assert.True(t, res.Outstanding.IsZero())
	assert.Len(t, res.Rows, 3)
	assert.Nil(t, NextUnpaid(res.Rows))
}

func TestApplyPayment_Rejects(t *testing.T) {
	debt, rows := newDebt(t, "3000", 3)

	_, err := ApplyPayment(debt, rows, decimal.Zero, start)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ApplyPayment(debt, rows, dec("5000"), start)
	assert.ErrorIs(t, err, ErrOverpayment)
}

func TestMergeExtracted(t *testing.T) {
	paidAt := start
	existing := []domain.AmortizationRow{
		{Number: 1, Payment: dec("100"), Paid: true, PaidAt: &paidAt},
		{Number: 2, Payment: dec("100")},
	}
	extracted := []domain.AmortizationRow{
		{Number: 1, Payment: dec("999")},
		{Number: 3, Payment: dec("120")},
		{Number: 2, Payment: dec("110"), Paid: true},
	}

	merged := MergeExtracted(existing, extracted)
	require.Len(t, merged, 3)
	assert.Equal(t, "100", merged[0].Payment.String())
	assert.True(t, merged[0].Paid)
	assert.Equal(t, "110", merged[1].Payment.String())
	assert.False(t, merged[1].Paid)
	assert.Equal(t, 3, merged[2].Number)
}

func TestFromExtracted(t *testing.T) {
	tabla := []any{
		map[string]any{"numero": 2.0, "fecha": "10/03/2025", "pago": "1,066.19", "interes": 110.0, "saldo": 10000.0},
		map[string]any{"numero": 1.0, "fecha": "2025-02-10", "pago": 1066.19, "interes": 120.0, "capital": 946.19, "saldo": 11053.81},
	}

	rows, err := FromExtracted("debt-1", tabla, nil, time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, "946.19", rows[0].Capital.String())
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), rows[0].DueDate)
	assert.Equal(t, 2, rows[1].Number)
	assert.Equal(t, "956.19", rows[1].Capital.String())
	assert.Equal(t, "debt-1", rows[1].DebtID)
}

func TestFromExtracted_Invalid(t *testing.T) {
	_, err := FromExtracted("d", nil, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic)

	_, err = FromExtracted("d", []any{"row"}, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic)

	_, err = FromExtracted("d", []any{map[string]any{"interes": 1.0}}, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic)

	_, err = FromExtracted("d", []any{map[string]any{"pago": 100.0}}, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic, "payment alone says nothing about capital")
}

func TestFromExtracted_PaymentAndBalanceOnly(t *testing.T) {
	tabla := []any{
		map[string]any{"numero": 2.0, "pago": "1050", "saldo": "0"},
		map[string]any{"numero": 1.0, "pago": "1100", "saldo": "1000"},
	}
	opening := func(number int) decimal.NullDecimal {
		assert.Equal(t, 1, number)
		return decimal.NewNullDecimal(dec("2000"))
	}

	rows, err := FromExtracted("d", tabla, opening, time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1000", rows[0].Capital.String())
	assert.Equal(t, "1000", rows[1].Capital.String())
	assert.Equal(t, "2000", TotalCapital(rows).String())

	_, err = FromExtracted("d", tabla, nil, time.UTC)
	assert.ErrorIs(t, err, ErrNoOpeningBalance)
	assert.ErrorIs(t, err, domain.ErrSemantic)

	withInitial := []any{
		map[string]any{"numero": 1.0, "pago": "1100", "saldo_inicial": "2000", "saldo": "1000"},
		map[string]any{"numero": 2.0, "pago": "1050", "saldo": "0"},
	}
	rows, err = FromExtracted("d", withInitial, nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "1000", rows[0].Capital.String())

	growing := []any{
		map[string]any{"numero": 1.0, "pago": "100", "capital": "100", "saldo": "900"},
		map[string]any{"numero": 2.0, "pago": "100", "saldo": "950"},
	}
	_, err = FromExtracted("d", growing, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic)

	gap := []any{
		map[string]any{"numero": 1.0, "pago": "100", "capital": "100"},
		map[string]any{"numero": 2.0, "pago": "100", "saldo": "800"},
	}
	_, err = FromExtracted("d", gap, nil, time.UTC)
	assert.ErrorIs(t, err, domain.ErrSemantic)
}

func TestPrepayCapital(t *testing.T) {
	debt, rows := newDebt(t, "3000", 3)

	res, err := PrepayCapital(debt, rows, dec("600"))
	require.NoError(t, err)
	assert.Equal(t, "2400", res.Outstanding.String())
	assert.Empty(t, res.Paid)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "800", res.Rows[0].Payment.String())
	assert.True(t, TotalCapital(res.Rows).Equal(res.Outstanding))

	_, err = PrepayCapital(debt, rows, dec("3000.01"))
	assert.ErrorIs(t, err, ErrOverpayment)
}
