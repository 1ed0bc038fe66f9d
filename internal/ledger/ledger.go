// Package ledger owns the paper-trading bookkeeping: a virtual cash
// balance per user, per-symbol holdings carrying a volume-weighted
// average cost basis, and an append-only transaction log. Buys and sells
// run inside one store transaction so balance, holding and transaction
// can never drift apart.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itsrichardmai/crypto-dashboard/internal/fees"
	"github.com/itsrichardmai/crypto-dashboard/internal/models"
	"github.com/itsrichardmai/crypto-dashboard/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultStartingBalance is granted on first touch of an account
var DefaultStartingBalance = decimal.NewFromInt(10000)

var (
	// ErrInsufficientBalance rejects a buy whose total exceeds the balance
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNoHolding rejects a sell of a symbol the user does not own
	ErrNoHolding = errors.New("no holdings to sell")
	// ErrInsufficientHoldings rejects a sell larger than the position
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrInvalidQuantity rejects non-positive quantities and prices
	ErrInvalidQuantity = errors.New("quantity and price must be positive")
)

// PriceProvider supplies the current USD price for a provider asset id
type PriceProvider interface {
	Price(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// Config adjusts ledger policy
type Config struct {
	// FeeInCostBasis folds the fee-inclusive total into a holding's cost
	// basis on buys. False keeps the basis at the raw subtotal so
	// realized gains exclude fees.
	FeeInCostBasis bool
}

// DefaultConfig includes fees in the cost basis
func DefaultConfig() Config {
	return Config{FeeInCostBasis: true}
}

// Ledger executes trades and produces portfolio views
type Ledger struct {
	store   store.Store
	prices  PriceProvider
	assetID func(symbol string) string
	cfg     Config
}

// New creates a ledger over a store and a market data provider. assetID
// resolves a ticker symbol to the provider's asset identifier; nil falls
// back to the lowercased symbol.
func New(s store.Store, prices PriceProvider, assetID func(symbol string) string, cfg Config) *Ledger {
	if assetID == nil {
		assetID = strings.ToLower
	}
	return &Ledger{store: s, prices: prices, assetID: assetID, cfg: cfg}
}

// GetBalance returns the user's cash balance, provisioning the account
// with the default starting balance on first touch.
func (l *Ledger) GetBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	bal, err := l.store.GetAccountBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		if err := l.store.SetAccountBalance(ctx, userID, DefaultStartingBalance); err != nil {
			return decimal.Zero, fmt.Errorf("failed to provision account: %w", err)
		}
		return DefaultStartingBalance, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

// TradeRequest describes a buy or sell to execute
type TradeRequest struct {
	Symbol    string
	Name      string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	OrderType fees.OrderType
	Exchange  string
}

func (r TradeRequest) validate() error {
	if !r.Quantity.IsPositive() || !r.Price.IsPositive() {
		return ErrInvalidQuantity
	}
	if r.OrderType != fees.Market && r.OrderType != fees.Limit {
		return fmt.Errorf("invalid order type %q", r.OrderType)
	}
	return nil
}

// ExecuteBuy debits the balance, updates or creates the holding, and
// appends a BUY transaction, all in one atomic store scope.
func (l *Ledger) ExecuteBuy(ctx context.Context, userID int, req TradeRequest) (models.Transaction, error) {
	if err := req.validate(); err != nil {
		return models.Transaction{}, err
	}
	quote := fees.ComputeTrade(req.Quantity, req.Price, req.OrderType, req.Exchange, fees.Buy)

	var recorded models.Transaction
	err := l.store.Atomic(ctx, userID, func(tx store.Tx) error {
		balance, err := balanceOrDefault(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(quote.Total) {
			return fmt.Errorf("%w: need $%s (including $%s fee)",
				ErrInsufficientBalance, quote.Total.StringFixed(2), quote.Fee.StringFixed(2))
		}
		if err := tx.SetAccountBalance(ctx, userID, balance.Sub(quote.Total)); err != nil {
			return err
		}

		cost := quote.Total
		if !l.cfg.FeeInCostBasis {
			cost = quote.Subtotal
		}
		now := time.Now()
		holding, err := tx.GetHolding(ctx, userID, req.Symbol)
		switch {
		case errors.Is(err, store.ErrNotFound):
			holding = models.Holding{
				Symbol:       req.Symbol,
				Name:         req.Name,
				Quantity:     req.Quantity,
				AvgCostBasis: cost.Div(req.Quantity),
				TotalCost:    cost,
				LastUpdated:  now,
			}
		case err != nil:
			return err
		default:
			newQuantity := holding.Quantity.Add(req.Quantity)
			newTotalCost := holding.TotalCost.Add(cost)
			holding.Quantity = newQuantity
			holding.TotalCost = newTotalCost
			holding.AvgCostBasis = newTotalCost.Div(newQuantity)
			holding.LastUpdated = now
		}
		if err := tx.UpsertHolding(ctx, userID, holding); err != nil {
			return err
		}

		recorded = models.Transaction{
			Symbol:    req.Symbol,
			Name:      req.Name,
			Action:    "BUY",
			Quantity:  req.Quantity,
			Price:     req.Price,
			Fee:       quote.Fee,
			OrderType: string(req.OrderType),
			Exchange:  req.Exchange,
			Total:     quote.Total,
			Timestamp: now,
		}.Round()
		id, err := tx.AppendTransaction(ctx, userID, recorded)
		if err != nil {
			return err
		}
		recorded.ID = id
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return recorded, nil
}

// ExecuteSell credits the balance with the net proceeds, shrinks or
// removes the holding, and appends a SELL transaction. The average cost
// basis is unchanged by a sell; removed cost is proportional to the
// units sold at the old basis.
func (l *Ledger) ExecuteSell(ctx context.Context, userID int, req TradeRequest) (models.Transaction, error) {
	if err := req.validate(); err != nil {
		return models.Transaction{}, err
	}
	quote := fees.ComputeTrade(req.Quantity, req.Price, req.OrderType, req.Exchange, fees.Sell)

	var recorded models.Transaction
	err := l.store.Atomic(ctx, userID, func(tx store.Tx) error {
		holding, err := tx.GetHolding(ctx, userID, req.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoHolding, req.Symbol)
		}
		if err != nil {
			return err
		}
		if holding.Quantity.LessThan(req.Quantity) {
			return fmt.Errorf("%w: own %s %s, tried to sell %s",
				ErrInsufficientHoldings, holding.Quantity, req.Symbol, req.Quantity)
		}

		balance, err := balanceOrDefault(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, userID, balance.Add(quote.Total)); err != nil {
			return err
		}

		now := time.Now()
		newQuantity := holding.Quantity.Sub(req.Quantity)
		if newQuantity.IsZero() {
			if err := tx.DeleteHolding(ctx, userID, req.Symbol); err != nil {
				return err
			}
		} else {
			holding.Quantity = newQuantity
			holding.TotalCost = holding.TotalCost.Sub(req.Quantity.Mul(holding.AvgCostBasis))
			holding.LastUpdated = now
			if err := tx.UpsertHolding(ctx, userID, holding); err != nil {
				return err
			}
		}

		recorded = models.Transaction{
			Symbol:    req.Symbol,
			Name:      req.Name,
			Action:    "SELL",
			Quantity:  req.Quantity,
			Price:     req.Price,
			Fee:       quote.Fee,
			OrderType: string(req.OrderType),
			Exchange:  req.Exchange,
			Total:     quote.Total,
			Timestamp: now,
		}.Round()
		id, err := tx.AppendTransaction(ctx, userID, recorded)
		if err != nil {
			return err
		}
		recorded.ID = id
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return recorded, nil
}

func balanceOrDefault(ctx context.Context, tx store.Tx, userID int) (decimal.Decimal, error) {
	balance, err := tx.GetAccountBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultStartingBalance, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Portfolio returns all holdings valued at live prices plus account
// totals. When a price lookup fails or comes back zero the holding is
// valued at its average cost basis, so gain/loss reads as zero instead
// of surfacing a missing-price error. Read-only.
func (l *Ledger) Portfolio(ctx context.Context, userID int) (models.Portfolio, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return models.Portfolio{}, err
	}
	holdings, err := l.store.ListHoldings(ctx, userID)
	if err != nil {
		return models.Portfolio{}, err
	}

	out := models.Portfolio{
		Balance:  balance,
		Holdings: make([]models.HoldingView, 0, len(holdings)),
	}
	totalCost := decimal.Zero
	for _, h := range holdings {
		price, err := l.prices.Price(ctx, l.assetID(h.Symbol))
		if err != nil || price.IsZero() {
			price = h.AvgCostBasis
		}
		value := price.Mul(h.Quantity)
		gain := value.Sub(h.TotalCost)
		view := models.HoldingView{
			Holding:      h,
			CurrentPrice: price,
			CurrentValue: value,
			GainLoss:     gain,
		}
		if h.TotalCost.IsPositive() {
			view.GainLossPercent = gain.Div(h.TotalCost).Mul(decimal.NewFromInt(100))
		}
		out.Holdings = append(out.Holdings, view)
		out.TotalValue = out.TotalValue.Add(value)
		totalCost = totalCost.Add(h.TotalCost)
	}
	out.TotalGainLoss = out.TotalValue.Sub(totalCost)
	if totalCost.IsPositive() {
		out.TotalGainLossPercent = out.TotalGainLoss.Div(totalCost).Mul(decimal.NewFromInt(100))
	}
	return out, nil
}

// Transactions returns the user's trade history, newest first
func (l *Ledger) Transactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	return l.store.ListTransactions(ctx, userID)
}
