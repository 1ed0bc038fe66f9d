package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/itsrichardmai/crypto-dashboard/internal/cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinID(t *testing.T) {
	tests := []struct {
		symbol   string
		expected string
	}{
		{"BTC", "bitcoin"},
		{"btc", "bitcoin"},
		{"AVAX", "avalanche-2"},
		{"MATIC", "matic-network"},
		{"PEPE", "pepe"}, // unmapped falls back to lowercase
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, CoinID(tt.symbol), "symbol %s", tt.symbol)
	}
}

func TestClient_Price(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"bitcoin":{"usd":50123.45}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", cache.NewMemory())
	ctx := context.Background()

	price, err := c.Price(ctx, "bitcoin")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("50123.45")), "got %s", price)

	// Second lookup within the TTL is served from cache
	_, err = c.Price(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_PriceMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.Price(context.Background(), "nosuchcoin")
	assert.Error(t, err)
}

func TestClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.Price(context.Background(), "bitcoin")
	assert.Error(t, err)
	_, err = c.Markets(context.Background(), 10)
	assert.Error(t, err)
}

func TestClient_Markets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		w.Write([]byte(`[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":50000,"market_cap_rank":1}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	coins, err := c.Markets(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, 1, coins[0].MarketCapRank)
}

func TestClient_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "demo-key", nil)
	_, err := c.Global(context.Background())
	require.NoError(t, err)
}
