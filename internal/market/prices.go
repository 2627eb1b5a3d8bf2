package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// PricePoint is one closing price.
type PricePoint struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// PriceSource provides current and historical share prices.
type PriceSource interface {
	// CurrentPrice returns nil when the ticker is unknown to the provider.
	CurrentPrice(ctx context.Context, ticker string) (*decimal.Decimal, error)
	MonthlySeries(ctx context.Context, ticker string, from, to time.Time) ([]PricePoint, error)
}

// PriceClient reads prices from Twelve Data.
type PriceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	quotes *cached[*decimal.Decimal]
	series *cached[[]PricePoint]
}

// NewPriceClient creates a price client with its own cache.
func NewPriceClient(baseURL, apiKey string, cacheSize int, ttl time.Duration) *PriceClient {
	return &PriceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		quotes:     newCached[*decimal.Decimal](cacheSize, ttl),
		series:     newCached[[]PricePoint](cacheSize, ttl),
	}
}

// tdStatus is the error envelope Twelve Data returns with HTTP 200.
type tdStatus struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// err maps an error envelope to a domain error. Unknown symbols report found=false.
func (s tdStatus) err(ticker string) (found bool, err error) {
	if s.Status != "error" {
		return true, nil
	}
	switch s.Code {
	case http.StatusTooManyRequests:
		return false, fmt.Errorf("twelvedata %s: %w: %s", ticker, domain.ErrThrottled, s.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, fmt.Errorf("twelvedata %s: %w: %s", ticker, domain.ErrConnection, s.Message)
	case http.StatusBadRequest, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("twelvedata %s: code %d: %s", ticker, s.Code, s.Message)
	}
}

type tdQuote struct {
	tdStatus
	Close string `json:"close"`
	Price string `json:"price"`
}

// CurrentPrice returns the latest close for ticker, cached by upper-case ticker.
func (c *PriceClient) CurrentPrice(ctx context.Context, ticker string) (*decimal.Decimal, error) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	if key == "" {
		return nil, nil
	}
	price, err := c.quotes.get(key, func() (*decimal.Decimal, error) {
		var q tdQuote
		if err := getJSON(ctx, c.httpClient, c.baseURL+"/quote", url.Values{"symbol": {key}, "apikey": {c.apiKey}}, &q); err != nil {
			return nil, err
		}
		found, err := q.tdStatus.err(key)
		if err != nil || !found {
			return nil, err
		}
		raw := q.Close
		if raw == "" {
			raw = q.Price
		}
		if raw == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("twelvedata %s: price %q: %w", key, raw, err)
		}
		return &d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("CurrentPrice: %w", err)
	}
	return price, nil
}

type tdSeries struct {
	tdStatus
	Values []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
}

// MonthlySeries returns monthly closes between from and to, oldest first.
// Unknown tickers yield an empty series.
func (c *PriceClient) MonthlySeries(ctx context.Context, ticker string, from, to time.Time) ([]PricePoint, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if sym == "" {
		return nil, nil
	}
	start, end := from.Format(time.DateOnly), to.Format(time.DateOnly)
	key := sym + "|" + start + "|" + end

	points, err := c.series.get(key, func() ([]PricePoint, error) {
		var s tdSeries
		query := url.Values{
			"symbol":     {sym},
			"interval":   {"1month"},
			"start_date": {start},
			"end_date":   {end},
			"apikey":     {c.apiKey},
		}
		if err := getJSON(ctx, c.httpClient, c.baseURL+"/time_series", query, &s); err != nil {
			return nil, err
		}
		found, err := s.tdStatus.err(sym)
		if err != nil {
			return nil, err
		}
		if !found {
			return []PricePoint{}, nil
		}

		out := make([]PricePoint, 0, len(s.Values))
		for _, v := range s.Values {
			day, err := time.Parse(time.DateOnly, v.Datetime)
			if err != nil {
				return nil, fmt.Errorf("twelvedata %s: datetime %q: %w", sym, v.Datetime, err)
			}
			closePrice, err := decimal.NewFromString(v.Close)
			if err != nil {
				return nil, fmt.Errorf("twelvedata %s: close %q: %w", sym, v.Close, err)
			}
			out = append(out, PricePoint{Date: day, Close: closePrice})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("MonthlySeries: %w", err)
	}
	return append([]PricePoint(nil), points...), nil
}
