package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/dvloznov/finance-ingest/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPrices is a mock implementation of market.PriceSource.
type MockPrices struct {
	CurrentPriceFunc  func(ctx context.Context, ticker string) (*decimal.Decimal, error)
	MonthlySeriesFunc func(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockPrices) CurrentPrice(ctx context.Context, ticker string) (*decimal.Decimal, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ticker)
	m.mu.Unlock()
	return m.CurrentPriceFunc(ctx, ticker)
}

func (m *MockPrices) MonthlySeries(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error) {
	return m.MonthlySeriesFunc(ctx, ticker, from, to)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func month(y int, m time.Month) time.Time { return time.Date(y, m, 28, 0, 0, 0, 0, time.UTC) }

func TestMonthlyProfit(t *testing.T) {
	now := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	investments := []domain.Investment{
		{ID: "1", Ticker: "WALMEX", Quantity: d("10"), PurchasePrice: d("60"), PurchaseDate: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Ticker: "AAPL", Quantity: d("2"), PurchasePrice: d("180"), PurchaseDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{ID: "3", Ticker: "", Quantity: d("100"), PurchasePrice: d("1")},
	}
	series := map[string][]market.PricePoint{
		"WALMEX": {
			{Date: month(2024, time.January), Close: d("62")},
			{Date: month(2024, time.February), Close: d("58.5")},
			{Date: month(2024, time.April), Close: d("65")},
		},
		"AAPL": {
			{Date: month(2024, time.March), Close: d("171")},
			{Date: month(2024, time.April), Close: d("190")},
		},
	}

	var gotFrom = make(map[string]time.Time)
	var mu sync.Mutex
	prices := &MockPrices{
		MonthlySeriesFunc: func(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error) {
			mu.Lock()
			gotFrom[ticker] = from
			mu.Unlock()
			assert.Equal(t, now, to)
			return series[ticker], nil
		},
	}

	totals, err := MonthlyProfit(context.Background(), investments, prices, now)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"2024-01": "20",
		"2024-02": "-15",
		"2024-03": "-18",
		"2024-04": "70",
	}, stringify(totals))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), gotFrom["WALMEX"])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), gotFrom["AAPL"])

	ordered := Months(totals)
	require.Len(t, ordered, 4)
	assert.Equal(t, "2024-01", ordered[0].Month)
	assert.Equal(t, "2024-04", ordered[3].Month)
}

func stringify(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func TestMonthlyProfit_SeriesError(t *testing.T) {
	prices := &MockPrices{
		MonthlySeriesFunc: func(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error) {
			return nil, domain.ErrThrottled
		},
	}
	investments := []domain.Investment{{Ticker: "X", Quantity: d("1"), PurchaseDate: time.Now()}}

	_, err := MonthlyProfit(context.Background(), investments, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrThrottled)
}

func TestMonthlyProfit_NoInvestments(t *testing.T) {
	totals, err := MonthlyProfit(context.Background(), nil, &MockPrices{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestRefreshPrices(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for _, inv := range []domain.Investment{
		{ID: "a", OwnerID: "u1", Ticker: "WALMEX", CurrentPrice: d("60")},
		{ID: "b", OwnerID: "u1", Ticker: "WALMEX", CurrentPrice: d("61")},
		{ID: "c", OwnerID: "u1", Ticker: "BROKEN", CurrentPrice: d("5")},
		{ID: "e", OwnerID: "u1", Ticker: "GONE", CurrentPrice: d("7")},
		{ID: "f", OwnerID: "u2", Ticker: "AAPL", CurrentPrice: d("100")},
	} {
		require.NoError(t, st.CreateInvestment(ctx, &inv))
	}

	prices := &MockPrices{
		CurrentPriceFunc: func(ctx context.Context, ticker string) (*decimal.Decimal, error) {
			switch ticker {
			case "WALMEX":
				p := d("66.6")
				return &p, nil
			case "BROKEN":
				return nil, errors.New("upstream 500")
			}
			return nil, nil
		},
	}
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	n, err := RefreshPrices(ctx, st, prices, "u1", at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"WALMEX", "BROKEN", "GONE"}, prices.calls)

	held, err := st.ListInvestments(ctx, "u1")
	require.NoError(t, err)
	byID := make(map[string]domain.Investment)
	for _, inv := range held {
		byID[inv.ID] = inv
	}
	assert.Equal(t, "66.6", byID["a"].CurrentPrice.String())
	assert.Equal(t, "66.6", byID["b"].CurrentPrice.String())
	require.NotNil(t, byID["a"].PriceUpdated)
	assert.True(t, at.Equal(*byID["a"].PriceUpdated))
	assert.Equal(t, "5", byID["c"].CurrentPrice.String())
	assert.Equal(t, "7", byID["e"].CurrentPrice.String())
}

func TestService_MonthlyProfit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateInvestment(ctx, &domain.Investment{
		ID: "a", OwnerID: "u1", Ticker: "X", Quantity: d("3"), PurchasePrice: d("10"),
		PurchaseDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}))
	prices := &MockPrices{
		MonthlySeriesFunc: func(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error) {
			return []market.PricePoint{{Date: month(2024, time.May), Close: d("12")}}, nil
		},
	}
	svc := NewService(st, prices)
	svc.now = func() time.Time { return time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC) }

	out, err := svc.MonthlyProfit(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2024-05", out[0].Month)
	assert.Equal(t, "6", out[0].Total.String())
}
