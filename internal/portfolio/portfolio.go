// Package portfolio values held investments against market prices.
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel series requests.
const DefaultConcurrency = 4

// monthLayout keys profit by calendar month.
const monthLayout = "2006-01"

// InvestmentStore is the part of the store the portfolio reads and updates.
type InvestmentStore interface {
	ListInvestments(ctx context.Context, ownerID string) ([]domain.Investment, error)
	UpdateInvestmentPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error
}

// MonthProfit is one month of unrealised profit.
type MonthProfit struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// MonthlyProfit computes unrealised profit per month: for every investment and
// every month from its purchase month to now, (month close - purchase price) x
// quantity, summed by YYYY-MM. Months without a close are skipped.
func MonthlyProfit(ctx context.Context, investments []domain.Investment, prices market.PriceSource, now time.Time) (map[string]decimal.Decimal, error) {
	var (
		mu     sync.Mutex
		totals = make(map[string]decimal.Decimal)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)

	for _, inv := range investments {
		if inv.Ticker == "" || inv.PurchaseDate.IsZero() {
			continue
		}
		g.Go(func() error {
			start := firstOfMonth(inv.PurchaseDate)
			series, err := prices.MonthlySeries(gctx, inv.Ticker, start, now)
			if err != nil {
				return fmt.Errorf("series for %s: %w", inv.Ticker, err)
			}

			closes := make(map[string]decimal.Decimal, len(series))
			for _, p := range series {
				closes[p.Date.Format(monthLayout)] = p.Close
			}

			mu.Lock()
			defer mu.Unlock()
			for m := start; !m.After(now); m = m.AddDate(0, 1, 0) {
				key := m.Format(monthLayout)
				closing, ok := closes[key]
				if !ok {
					continue
				}
				gain := closing.Sub(inv.PurchasePrice).Mul(inv.Quantity)
				totals[key] = totals[key].Add(gain)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("MonthlyProfit: %w", err)
	}
	return totals, nil
}

// Months orders a MonthlyProfit result chronologically.
func Months(totals map[string]decimal.Decimal) []MonthProfit {
	out := make([]MonthProfit, 0, len(totals))
	for m, t := range totals {
		out = append(out, MonthProfit{Month: m, Total: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// RefreshPrices fetches the current price of every distinct ticker the owner
// holds and stores it on each matching investment. A ticker whose price is
// unavailable is logged and skipped. It returns how many investments changed.
func RefreshPrices(ctx context.Context, st InvestmentStore, prices market.PriceSource, ownerID string, now time.Time) (int, error) {
	log := logger.FromContext(ctx)

	investments, err := st.ListInvestments(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("RefreshPrices: %w", err)
	}

	byTicker := make(map[string][]domain.Investment)
	for _, inv := range investments {
		if inv.Ticker != "" {
			byTicker[inv.Ticker] = append(byTicker[inv.Ticker], inv)
		}
	}

	updated := 0
	for ticker, held := range byTicker {
		price, err := prices.CurrentPrice(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			log.Warn().Err(err).Str("ticker", ticker).Msg("Price refresh failed")
			continue
		}
		if price == nil {
			log.Warn().Str("ticker", ticker).Msg("Ticker unknown to price provider")
			continue
		}
		for _, inv := range held {
			if err := st.UpdateInvestmentPrice(ctx, inv.ID, *price, now); err != nil {
				return updated, fmt.Errorf("RefreshPrices: updating %s: %w", inv.ID, err)
			}
			updated++
		}
		log.Debug().Str("ticker", ticker).Str("price", price.String()).Int("investments", len(held)).Msg("Price refreshed")
	}
	return updated, nil
}

// Service binds the portfolio operations to a store and a price source.
type Service struct {
	store  InvestmentStore
	prices market.PriceSource
	now    func() time.Time
}

// NewService creates a portfolio service.
func NewService(st InvestmentStore, prices market.PriceSource) *Service {
	return &Service{store: st, prices: prices, now: time.Now}
}

// MonthlyProfit computes the owner's monthly profit up to now.
func (s *Service) MonthlyProfit(ctx context.Context, ownerID string) ([]MonthProfit, error) {
	investments, err := s.store.ListInvestments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("MonthlyProfit: %w", err)
	}
	totals, err := MonthlyProfit(ctx, investments, s.prices, s.now())
	if err != nil {
		return nil, err
	}
	return Months(totals), nil
}

// RefreshPrices updates the owner's current prices.
func (s *Service) RefreshPrices(ctx context.Context, ownerID string) (int, error) {
	return RefreshPrices(ctx, s.store, s.prices, ownerID, s.now())
}
