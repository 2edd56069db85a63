package fmp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key", RateLimitPerMin: 6000})
	require.NoError(t, err)
	return c
}

func TestClient_StatementsParsing(t *testing.T) {
	var gotPath, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("apikey")
		w.Write([]byte(`[
			{"date":"2019-12-31","eps":3.5,"netIncome":1000},
			{"date":"2018-12-31","eps":3.0,"netIncome":900}
		]`))
	})

	out, err := c.IncomeStatement(context.Background(), "aapl", 5)
	require.NoError(t, err)
	assert.Equal(t, "/income-statement/AAPL", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, out, 2)
	assert.Equal(t, 2019, out[0].FiscalYear)
	assert.Equal(t, 3.5, out[0].EPS)
	assert.Equal(t, 900.0, out[1].NetIncome)
}

func TestClient_PriceHistorySortedAscending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"AAPL","historical":[
			{"date":"2020-01-03","close":101},
			{"date":"2020-01-02","close":100}
		]}`))
	})

	bars, err := c.PriceHistory(context.Background(), "AAPL",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 101.0, bars[1].Close)
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Run("Non-2xx Is Data Unavailable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := c.BalanceSheet(context.Background(), "AAPL", 5)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("Invalid JSON Is Data Unavailable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>oops</html>"))
		})
		_, err := c.KeyMetrics(context.Background(), "AAPL", 5)
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("Canceled Context Propagates", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.CashflowStatement(ctx, "AAPL", 5)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Missing API Key", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		assert.Error(t, err)
	})
}
