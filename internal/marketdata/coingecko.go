// Package marketdata is the CoinGecko client behind the dashboard's
// price lookups and market listings. Responses are cached so bursts of
// dashboard traffic do not burn through the API rate limit.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/itsrichardmai/crypto-dashboard/internal/cache"
	"github.com/shopspring/decimal"
)

const (
	priceTTL   = time.Minute
	marketsTTL = time.Minute
	globalTTL  = 5 * time.Minute
)

// Coin is one row of the markets listing
type Coin struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
	TotalVolume              float64 `json:"total_volume"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
}

// Client calls the CoinGecko REST API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cache   cache.Cache
}

// NewClient creates a CoinGecko client. apiKey may be empty (free tier).
func NewClient(baseURL, apiKey string, c cache.Cache) *Client {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   c,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, cacheKey string, ttl time.Duration) ([]byte, error) {
	if body, ok := c.cache.Get(ctx, cacheKey); ok {
		return body, nil
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d for %s", resp.StatusCode, path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.cache.Set(ctx, cacheKey, body, ttl)
	return body, nil
}

// Price returns the current USD price for a CoinGecko asset id.
// Satisfies the ledger's PriceProvider.
func (c *Client) Price(ctx context.Context, assetID string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("ids", assetID)
	params.Set("vs_currencies", "usd")

	body, err := c.get(ctx, "/simple/price", params, "price:"+assetID, priceTTL)
	if err != nil {
		return decimal.Zero, err
	}

	var out map[string]map[string]json.Number
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	usd, ok := out[assetID]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd price for %q", assetID)
	}
	price, err := decimal.NewFromString(usd.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad price %q: %w", usd, err)
	}
	return price, nil
}

// Markets returns the top coins by market cap
func (c *Client) Markets(ctx context.Context, limit int) ([]Coin, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	body, err := c.get(ctx, "/coins/markets", params, "markets:"+strconv.Itoa(limit), marketsTTL)
	if err != nil {
		return nil, err
	}

	var coins []Coin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, fmt.Errorf("failed to decode markets response: %w", err)
	}
	return coins, nil
}

// Global returns the global market stats payload verbatim
func (c *Client) Global(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, "/global", nil, "global", globalTTL)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}
