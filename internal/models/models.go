package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rounding rules applied when a transaction is recorded: crypto
// quantities carry 8 decimal places, USD amounts carry 2.
const (
	QuantityPlaces = 8
	USDPlaces      = 2
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Holding is a user's position in one asset symbol
type Holding struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis"` // volume-weighted USD cost per unit
	TotalCost    decimal.Decimal `json:"total_cost"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Transaction is one executed trade, immutable once recorded
type Transaction struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Action    string          `json:"action"` // "BUY" or "SELL"
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // quoted price per unit, fee excluded
	Fee       decimal.Decimal `json:"fee"`
	OrderType string          `json:"order_type"` // "market" or "limit"
	Exchange  string          `json:"exchange"`
	Total     decimal.Decimal `json:"total"` // cash moved: buy cost incl. fee, sell proceeds net of fee
	Timestamp time.Time       `json:"timestamp"`
}

// Round applies the quantity/USD rounding rules. Called once, when the
// transaction is appended; ledger math stays unrounded.
func (t Transaction) Round() Transaction {
	t.Quantity = t.Quantity.Round(QuantityPlaces)
	t.Price = t.Price.Round(USDPlaces)
	t.Fee = t.Fee.Round(USDPlaces)
	t.Total = t.Total.Round(USDPlaces)
	return t
}

// HoldingView is a holding valued at the current market price
type HoldingView struct {
	Holding
	CurrentPrice    decimal.Decimal `json:"current_price"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	GainLoss        decimal.Decimal `json:"gain_loss"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"`
}

// Portfolio is the full valued view returned to the dashboard
type Portfolio struct {
	Balance              decimal.Decimal `json:"balance"`
	Holdings             []HoldingView   `json:"holdings"`
	TotalValue           decimal.Decimal `json:"total_value"`
	TotalGainLoss        decimal.Decimal `json:"total_gain_loss"`
	TotalGainLossPercent decimal.Decimal `json:"total_gain_loss_percent"`
}

// Settings holds a user's trading preferences
type Settings struct {
	SelectedExchange string `json:"selected_exchange"`
	DefaultOrderType string `json:"default_order_type"`
}

// DefaultSettings returned when a user has never saved preferences
func DefaultSettings() Settings {
	return Settings{SelectedExchange: "binance", DefaultOrderType: "market"}
}

// UsageRecord tracks how many times a user has consumed each AI feature
type UsageRecord struct {
	AnalysisUsed   bool       `json:"analysis_used"`
	ForecastUsed   bool       `json:"forecast_used"`
	AnalysisCount  int        `json:"analysis_count"`
	ForecastCount  int        `json:"forecast_count"`
	LastAnalysisAt *time.Time `json:"last_analysis_at,omitempty"`
	LastForecastAt *time.Time `json:"last_forecast_at,omitempty"`
}
