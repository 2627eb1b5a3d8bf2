package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource provides historical USD/MXN exchange rates.
type RateSource interface {
	// USDMXN returns nil when the provider has no rate for the date.
	USDMXN(ctx context.Context, date time.Time) (*decimal.Decimal, error)
}

// FXClient reads historical rates from currencyapi.
type FXClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	rates *cached[*decimal.Decimal]
}

// NewFXClient creates an exchange-rate client with its own cache.
func NewFXClient(baseURL, apiKey string, cacheSize int, ttl time.Duration) *FXClient {
	return &FXClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		rates:      newCached[*decimal.Decimal](cacheSize, ttl),
	}
}

type historicalResponse struct {
	Data map[string]struct {
		Code  string           `json:"code"`
		Value *decimal.Decimal `json:"value"`
	} `json:"data"`
}

// USDMXN returns how many pesos one dollar bought on date, cached by ISO date.
func (c *FXClient) USDMXN(ctx context.Context, date time.Time) (*decimal.Decimal, error) {
	day := date.Format(time.DateOnly)
	rate, err := c.rates.get(day, func() (*decimal.Decimal, error) {
		var resp historicalResponse
		query := url.Values{
			"apikey":        {c.apiKey},
			"currencies":    {"MXN"},
			"base_currency": {"USD"},
			"date":          {day},
		}
		if err := getJSON(ctx, c.httpClient, c.baseURL+"/v3/historical", query, &resp); err != nil {
			return nil, err
		}
		mxn, ok := resp.Data["MXN"]
		if !ok || mxn.Value == nil {
			return nil, nil
		}
		v := *mxn.Value
		return &v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("USDMXN %s: %w", day, err)
	}
	return rate, nil
}
