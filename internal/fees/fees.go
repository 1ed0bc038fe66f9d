package fees

import (
	"sort"

	"github.com/shopspring/decimal"
)

// OrderType selects which fee rate applies
type OrderType string

const (
	Market OrderType = "market" // taker fee
	Limit  OrderType = "limit"  // maker fee
)

// Side is the direction of a trade
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Exchange holds the fractional fee rates for one venue (0.001 = 0.1%)
type Exchange struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MakerFee      decimal.Decimal `json:"maker_fee"`
	TakerFee      decimal.Decimal `json:"taker_fee"`
	WithdrawalFee decimal.Decimal `json:"withdrawal_fee"`
}

var exchanges = map[string]Exchange{
	"binance": {
		ID:            "binance",
		Name:          "Binance",
		MakerFee:      decimal.NewFromFloat(0.001),
		TakerFee:      decimal.NewFromFloat(0.001),
		WithdrawalFee: decimal.NewFromFloat(0.0005),
	},
	"coinbase": {
		ID:            "coinbase",
		Name:          "Coinbase Pro",
		MakerFee:      decimal.NewFromFloat(0.004),
		TakerFee:      decimal.NewFromFloat(0.006),
		WithdrawalFee: decimal.NewFromFloat(0.01),
	},
	"kraken": {
		ID:            "kraken",
		Name:          "Kraken",
		MakerFee:      decimal.NewFromFloat(0.0016),
		TakerFee:      decimal.NewFromFloat(0.0026),
		WithdrawalFee: decimal.NewFromFloat(0.0015),
	},
}

// Lookup returns the fee schedule for an exchange id
func Lookup(id string) (Exchange, bool) {
	ex, ok := exchanges[id]
	return ex, ok
}

// Exchanges lists all known venues, sorted by id
func Exchanges() []Exchange {
	out := make([]Exchange, 0, len(exchanges))
	for _, ex := range exchanges {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rate returns the fee rate for an order type on an exchange.
// Unknown exchanges charge no fee.
func Rate(exchange string, orderType OrderType) decimal.Decimal {
	ex, ok := exchanges[exchange]
	if !ok {
		return decimal.Zero
	}
	if orderType == Market {
		return ex.TakerFee
	}
	return ex.MakerFee
}

// Quote is the cash breakdown of a prospective trade
type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Fee      decimal.Decimal `json:"fee"`
	Total    decimal.Decimal `json:"total"` // buy: subtotal + fee, sell: subtotal - fee
}

// ComputeTrade prices a trade deterministically: subtotal = quantity*price,
// fee = subtotal*rate, and the fee always reduces the trader's net outcome.
func ComputeTrade(quantity, price decimal.Decimal, orderType OrderType, exchange string, side Side) Quote {
	subtotal := quantity.Mul(price)
	fee := subtotal.Mul(Rate(exchange, orderType))

	total := subtotal.Add(fee)
	if side == Sell {
		total = subtotal.Sub(fee)
	}
	return Quote{Subtotal: subtotal, Fee: fee, Total: total}
}
