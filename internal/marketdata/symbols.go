package marketdata

import "strings"

// symbolToID maps tickers the dashboard trades to CoinGecko asset ids
var symbolToID = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"BNB":   "binancecoin",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"TRX":   "tron",
	"AVAX":  "avalanche-2",
	"SHIB":  "shiba-inu",
	"DOT":   "polkadot",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"BCH":   "bitcoin-cash",
	"UNI":   "uniswap",
	"ATOM":  "cosmos",
	"XLM":   "stellar",
}

// CoinID resolves a ticker symbol to the CoinGecko asset id. Unmapped
// symbols fall back to the lowercased symbol, which is right for many
// smaller coins and harmlessly wrong (price lookup misses, valuation
// degrades to cost basis) for the rest.
func CoinID(symbol string) string {
	if id, ok := symbolToID[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}
