package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCached_CollapsesConcurrentMisses(t *testing.T) {
	c := newCached[int](10, time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.get("k", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	c := newCached[string](10, time.Minute)
	boom := errors.New("boom")

	_, err := c.get("k", func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.get("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = c.get("k", func() (string, error) { return "", boom })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCached_Expires(t *testing.T) {
	c := newCached[int](10, 20*time.Millisecond)
	n := 0
	load := func() (int, error) { n++; return n, nil }

	v, _ := c.get("k", load)
	assert.Equal(t, 1, v)
	time.Sleep(60 * time.Millisecond)
	v, _ = c.get("k", load)
	assert.Equal(t, 2, v)
}

func TestPriceClient_CurrentPrice(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			fmt.Fprint(w, `{"symbol":"AAPL","close":"189.25"}`)
		case "ONLYPRICE":
			fmt.Fprint(w, `{"price":"10.5"}`)
		case "LIMIT":
			fmt.Fprint(w, `{"status":"error","code":429,"message":"credits"}`)
		default:
			fmt.Fprint(w, `{"status":"error","code":404,"message":"symbol not found"}`)
		}
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, "key", 10, time.Minute)
	ctx := context.Background()

	p, err := c.CurrentPrice(ctx, "aapl")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Equal(decimal.RequireFromString("189.25")))

	// Served from cache under the upper-case key.
	_, err = c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	p, err = c.CurrentPrice(ctx, "ONLYPRICE")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("10.5")))

	p, err = c.CurrentPrice(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = c.CurrentPrice(ctx, "LIMIT")
	assert.ErrorIs(t, err, domain.ErrThrottled)

	p, err = c.CurrentPrice(ctx, "  ")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPriceClient_MonthlySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "1month", q.Get("interval"))
		assert.Equal(t, "2024-01-01", q.Get("start_date"))
		assert.Equal(t, "2024-03-31", q.Get("end_date"))
		fmt.Fprint(w, `{"status":"ok","values":[
			{"datetime":"2024-03-01","close":"12"},
			{"datetime":"2024-02-01","close":"11"},
			{"datetime":"2024-01-01","close":"10"}]}`)
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, "key", 10, time.Minute)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	points, err := c.MonthlySeries(context.Background(), "voo", from, to)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "2024-01-01", points[0].Date.Format(time.DateOnly))
	assert.True(t, points[2].Close.Equal(decimal.NewFromInt(12)))
}

func TestFXClient_USDMXN(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "/v3/historical", r.URL.Path)
		assert.Equal(t, "MXN", q.Get("currencies"))
		assert.Equal(t, "USD", q.Get("base_currency"))
		switch q.Get("date") {
		case "2024-05-10":
			fmt.Fprint(w, `{"data":{"MXN":{"code":"MXN","value":16.7812}}}`)
		case "2024-05-11":
			fmt.Fprint(w, `{"data":{}}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewFXClient(srv.URL, "key", 10, time.Minute)
	ctx := context.Background()
	day := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

	rate, err := c.USDMXN(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.Equal(t, "16.7812", rate.String())

	_, err = c.USDMXN(ctx, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	rate, err = c.USDMXN(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, rate)

	_, err = c.USDMXN(ctx, day.AddDate(0, 0, 2))
	assert.ErrorIs(t, err, domain.ErrConnection)
}
