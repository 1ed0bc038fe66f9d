package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itsrichardmai/crypto-dashboard/internal/auth"
	"github.com/itsrichardmai/crypto-dashboard/internal/ledger"
	"github.com/itsrichardmai/crypto-dashboard/internal/marketdata"
	"github.com/itsrichardmai/crypto-dashboard/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMarket serves canned market data
type stubMarket struct {
	prices map[string]decimal.Decimal
	coins  []marketdata.Coin
	err    error
}

func (s *stubMarket) Markets(ctx context.Context, limit int) ([]marketdata.Coin, error) {
	return s.coins, s.err
}

func (s *stubMarket) Global(ctx context.Context) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`{"data":{"active_cryptocurrencies":10000}}`), nil
}

func (s *stubMarket) Price(ctx context.Context, assetID string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	p, ok := s.prices[assetID]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

type fixture struct {
	handler *Handler
	router  http.Handler
	auth    *auth.AuthService
	store   *store.Memory
	market  *stubMarket
}

func newFixture() *fixture {
	mem := store.NewMemory()
	market := &stubMarket{prices: map[string]decimal.Decimal{}}
	ldg := ledger.New(mem, market, marketdata.CoinID, ledger.DefaultConfig())
	authService := auth.NewAuthService(mem, "test-secret")
	h := NewHandler(mem, ldg, authService, market, nil)
	return &fixture{
		handler: h,
		router:  h.Routes(),
		auth:    authService,
		store:   mem,
		market:  market,
	}
}

func (f *fixture) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	_, err := f.auth.Register(ctx, username, "testpass")
	require.NoError(t, err)
	token, err := f.auth.Login(ctx, username, "testpass")
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_Register(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusCreated,
			expectedBody: map[string]interface{}{
				"id":       float64(1), // JSON numbers are float64
				"username": "testuser",
			},
		},
		{
			name: "Missing Password",
			requestBody: map[string]interface{}{
				"username": "testuser2",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "Username and password required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestHandler_Login(t *testing.T) {
	f := newFixture()
	_, err := f.auth.Register(context.Background(), "testuser", "testpass")
	require.NoError(t, err)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectToken    bool
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusOK,
			expectToken:    true,
		},
		{
			name: "Invalid Credentials",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "wrongpass",
			},
			expectedStatus: http.StatusUnauthorized,
			expectToken:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/auth/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			response := decode(t, w)
			if tt.expectToken {
				assert.NotEmpty(t, response["token"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_GetBalance(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	w := f.do(t, "GET", "/portfolio/balance", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10000", decode(t, w)["balance"])

	// No token
	w = f.do(t, "GET", "/portfolio/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_PlaceTrade(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		errContains    string
	}{
		{
			name: "SuccessfulBuy",
			requestBody: map[string]interface{}{
				"symbol":     "BTC",
				"name":       "Bitcoin",
				"action":     "BUY",
				"quantity":   0.1,
				"price":      50000,
				"order_type": "market",
				"exchange":   "binance",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "InsufficientBalance",
			requestBody: map[string]interface{}{
				"symbol":     "BTC",
				"name":       "Bitcoin",
				"action":     "BUY",
				"quantity":   5,
				"price":      50000,
				"order_type": "market",
				"exchange":   "binance",
			},
			expectedStatus: http.StatusUnprocessableEntity,
			errContains:    "insufficient balance",
		},
		{
			name: "SellWithoutHolding",
			requestBody: map[string]interface{}{
				"symbol":     "ETH",
				"name":       "Ethereum",
				"action":     "SELL",
				"quantity":   1,
				"price":      3000,
				"order_type": "market",
				"exchange":   "binance",
			},
			expectedStatus: http.StatusUnprocessableEntity,
			errContains:    "no holdings",
		},
		{
			name: "InvalidAction",
			requestBody: map[string]interface{}{
				"symbol":   "BTC",
				"action":   "HOLD",
				"quantity": 1,
				"price":    50000,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "ZeroQuantity",
			requestBody: map[string]interface{}{
				"symbol":     "BTC",
				"action":     "BUY",
				"quantity":   0,
				"price":      50000,
				"order_type": "market",
				"exchange":   "binance",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/portfolio/trades", token, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
			if tt.errContains != "" {
				assert.Contains(t, decode(t, w)["error"], tt.errContains)
			}
		})
	}

	// The successful buy debited the balance
	w := f.do(t, "GET", "/portfolio/balance", token, nil)
	assert.Equal(t, "4995", decode(t, w)["balance"])
}

func TestHandler_TradeUsesSavedSettings(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	// Save kraken/market as defaults, then trade without naming them
	w := f.do(t, "PUT", "/settings", token, map[string]interface{}{
		"selected_exchange":  "kraken",
		"default_order_type": "market",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", "/portfolio/trades", token, map[string]interface{}{
		"symbol":   "BTC",
		"name":     "Bitcoin",
		"action":   "BUY",
		"quantity": 0.1,
		"price":    50000,
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	response := decode(t, w)
	assert.Equal(t, "kraken", response["exchange"])
	// kraken taker fee 0.0026 on subtotal 5000
	assert.Equal(t, "13", response["fee"])
}

func TestHandler_Portfolio(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")
	f.market.prices["bitcoin"] = decimal.RequireFromString("60000")

	w := f.do(t, "POST", "/portfolio/trades", token, map[string]interface{}{
		"symbol": "BTC", "name": "Bitcoin", "action": "BUY",
		"quantity": 0.1, "price": 50000,
		"order_type": "market", "exchange": "binance",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, "GET", "/portfolio", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "4995", response["balance"])
	assert.Equal(t, "6000", response["total_value"])

	holdings, ok := response["holdings"].([]interface{})
	require.True(t, ok)
	require.Len(t, holdings, 1)
	h := holdings[0].(map[string]interface{})
	assert.Equal(t, "BTC", h["symbol"])
	assert.Equal(t, "60000", h["current_price"])
	assert.Equal(t, "995", h["gain_loss"])
}

func TestHandler_Transactions(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	for _, trade := range []map[string]interface{}{
		{"symbol": "BTC", "name": "Bitcoin", "action": "BUY", "quantity": 0.1, "price": 50000, "order_type": "market", "exchange": "binance"},
		{"symbol": "BTC", "name": "Bitcoin", "action": "SELL", "quantity": 0.1, "price": 51000, "order_type": "market", "exchange": "binance"},
	} {
		w := f.do(t, "POST", "/portfolio/trades", token, trade)
		require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	}

	w := f.do(t, "GET", "/portfolio/transactions", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var txs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "SELL", txs[0]["action"], "newest first")
	assert.Equal(t, "BUY", txs[1]["action"])
}

func TestHandler_Settings(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	// Defaults before anything is saved
	w := f.do(t, "GET", "/settings", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "binance", response["selected_exchange"])
	assert.Equal(t, "market", response["default_order_type"])

	// Unknown exchange rejected
	w = f.do(t, "PUT", "/settings", token, map[string]interface{}{
		"selected_exchange":  "mtgox",
		"default_order_type": "market",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Round trip
	w = f.do(t, "PUT", "/settings", token, map[string]interface{}{
		"selected_exchange":  "coinbase",
		"default_order_type": "limit",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "GET", "/settings", token, nil)
	response = decode(t, w)
	assert.Equal(t, "coinbase", response["selected_exchange"])
	assert.Equal(t, "limit", response["default_order_type"])
}

func TestHandler_Usage(t *testing.T) {
	f := newFixture()
	token := f.registerAndLogin(t, "testuser")

	w := f.do(t, "GET", "/usage", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(0), response["analysis_count"])

	w = f.do(t, "POST", "/usage/analysis", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response = decode(t, w)
	assert.Equal(t, float64(1), response["analysis_count"])
	assert.Equal(t, true, response["analysis_used"])
	assert.Equal(t, false, response["forecast_used"])

	w = f.do(t, "POST", "/usage/telepathy", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Fees(t *testing.T) {
	f := newFixture()

	w := f.do(t, "GET", "/fees", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "binance", list[0]["id"])
}

func TestHandler_MarketProxies(t *testing.T) {
	f := newFixture()
	f.market.prices["bitcoin"] = decimal.RequireFromString("50000")
	f.market.coins = []marketdata.Coin{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}}

	w := f.do(t, "GET", "/price?symbol=BTC", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "BTC", response["symbol"])
	assert.Equal(t, "bitcoin", response["id"])
	assert.Equal(t, "50000", response["usd"])

	w = f.do(t, "GET", "/price", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/markets?limit=10", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/global", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Upstream failure surfaces as 502
	f.market.err = errors.New("rate limited")
	w = f.do(t, "GET", "/markets", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
