package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/itsrichardmai/crypto-dashboard/internal/auth"
	"github.com/itsrichardmai/crypto-dashboard/internal/fees"
	"github.com/itsrichardmai/crypto-dashboard/internal/ledger"
	"github.com/itsrichardmai/crypto-dashboard/internal/marketdata"
	"github.com/itsrichardmai/crypto-dashboard/internal/models"
	"github.com/itsrichardmai/crypto-dashboard/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type contextKey string

// userIDKey carries the authenticated user id through the request context
const userIDKey contextKey = "user_id"

// MarketData is the slice of the CoinGecko client the handlers consume
type MarketData interface {
	Markets(ctx context.Context, limit int) ([]marketdata.Coin, error)
	Global(ctx context.Context) (json.RawMessage, error)
	Price(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	AuthService *auth.AuthService
	Market      MarketData
	Log         *zap.SugaredLogger
}

// NewHandler creates a new handler
func NewHandler(s store.Store, l *ledger.Ledger, authService *auth.AuthService, market MarketData, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{Store: s, Ledger: l, AuthService: authService, Market: market, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.Log.Warnw("registration failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(userIDKey).(int)
	return id, ok
}

// GetBalance returns the user's cash balance, provisioning on first touch
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), uid)
	if err != nil {
		h.Log.Errorw("failed to get balance", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// GetPortfolio returns holdings valued at live prices plus totals
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	portfolio, err := h.Ledger.Portfolio(r.Context(), uid)
	if err != nil {
		h.Log.Errorw("failed to build portfolio", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve portfolio")
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// GetTransactions returns the user's trade history, newest first
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txs, err := h.Ledger.Transactions(r.Context(), uid)
	if err != nil {
		h.Log.Errorw("failed to list transactions", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// PlaceTrade executes a paper buy or sell
func (h *Handler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Symbol    string          `json:"symbol"`
		Name      string          `json:"name"`
		Action    string          `json:"action"`
		Quantity  decimal.Decimal `json:"quantity"`
		Price     decimal.Decimal `json:"price"`
		OrderType string          `json:"order_type"`
		Exchange  string          `json:"exchange"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol required")
		return
	}

	action := strings.ToUpper(req.Action)
	if action != "BUY" && action != "SELL" {
		writeError(w, http.StatusBadRequest, "Action must be BUY or SELL")
		return
	}

	// Missing order type or exchange fall back to the user's preferences
	if req.OrderType == "" || req.Exchange == "" {
		settings, err := h.Store.GetSettings(r.Context(), uid)
		if err != nil {
			h.Log.Errorw("failed to get settings", "user_id", uid, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		if req.OrderType == "" {
			req.OrderType = settings.DefaultOrderType
		}
		if req.Exchange == "" {
			req.Exchange = settings.SelectedExchange
		}
	}

	if req.OrderType != string(fees.Market) && req.OrderType != string(fees.Limit) {
		writeError(w, http.StatusBadRequest, "Order type must be market or limit")
		return
	}

	trade := ledger.TradeRequest{
		Symbol:    strings.ToUpper(req.Symbol),
		Name:      req.Name,
		Quantity:  req.Quantity,
		Price:     req.Price,
		OrderType: fees.OrderType(req.OrderType),
		Exchange:  req.Exchange,
	}

	var (
		tx  interface{}
		err error
	)
	if action == "BUY" {
		tx, err = h.Ledger.ExecuteBuy(r.Context(), uid, trade)
	} else {
		tx, err = h.Ledger.ExecuteSell(r.Context(), uid, trade)
	}
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance),
			errors.Is(err, ledger.ErrNoHolding),
			errors.Is(err, ledger.ErrInsufficientHoldings):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.Log.Errorw("trade failed", "user_id", uid, "symbol", trade.Symbol, "action", action, "error", err)
			writeError(w, http.StatusInternalServerError, "Transaction failed")
		}
		return
	}

	h.Log.Infow("trade executed", "user_id", uid, "symbol", trade.Symbol, "action", action)
	writeJSON(w, http.StatusCreated, tx)
}

// GetSettings returns the user's trading preferences
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	settings, err := h.Store.GetSettings(r.Context(), uid)
	if err != nil {
		h.Log.Errorw("failed to get settings", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings saves the user's trading preferences
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		SelectedExchange string `json:"selected_exchange"`
		DefaultOrderType string `json:"default_order_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := fees.Lookup(req.SelectedExchange); !ok {
		writeError(w, http.StatusBadRequest, "Unknown exchange")
		return
	}
	if req.DefaultOrderType != string(fees.Market) && req.DefaultOrderType != string(fees.Limit) {
		writeError(w, http.StatusBadRequest, "Order type must be market or limit")
		return
	}

	settings := models.Settings{
		SelectedExchange: req.SelectedExchange,
		DefaultOrderType: req.DefaultOrderType,
	}
	if err := h.Store.SaveSettings(r.Context(), uid, settings); err != nil {
		h.Log.Errorw("failed to save settings", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// GetFees lists the supported exchanges and their fee rates
func (h *Handler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fees.Exchanges())
}

// GetUsage returns the user's AI feature usage counters
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	usage, err := h.Store.GetUsage(r.Context(), uid)
	if err != nil {
		h.Log.Errorw("failed to get usage", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// RecordUsage increments a feature counter (analysis or forecast)
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	feature := chi.URLParam(r, "feature")
	if feature != "analysis" && feature != "forecast" {
		writeError(w, http.StatusBadRequest, "Unknown feature")
		return
	}
	if err := h.Store.RecordUsage(r.Context(), uid, feature); err != nil {
		h.Log.Errorw("failed to record usage", "user_id", uid, "feature", feature, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to record usage")
		return
	}

	usage, err := h.Store.GetUsage(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// GetMarkets proxies the cached top-coins listing
func (h *Handler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 250 {
			limit = n
		}
	}

	coins, err := h.Market.Markets(r.Context(), limit)
	if err != nil {
		h.Log.Warnw("markets fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch market data")
		return
	}
	writeJSON(w, http.StatusOK, coins)
}

// GetPrice proxies a cached price lookup for one symbol
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol required")
		return
	}

	assetID := marketdata.CoinID(symbol)
	price, err := h.Market.Price(r.Context(), assetID)
	if err != nil {
		h.Log.Warnw("price fetch failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch price")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": strings.ToUpper(symbol),
		"id":     assetID,
		"usd":    price,
	})
}

// GetGlobal proxies the cached global market stats
func (h *Handler) GetGlobal(w http.ResponseWriter, r *http.Request) {
	data, err := h.Market.Global(r.Context())
	if err != nil {
		h.Log.Warnw("global stats fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch global market data")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
