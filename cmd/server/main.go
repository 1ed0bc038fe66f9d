package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/itsrichardmai/crypto-dashboard/internal/api"
	"github.com/itsrichardmai/crypto-dashboard/internal/auth"
	"github.com/itsrichardmai/crypto-dashboard/internal/cache"
	"github.com/itsrichardmai/crypto-dashboard/internal/config"
	"github.com/itsrichardmai/crypto-dashboard/internal/ledger"
	"github.com/itsrichardmai/crypto-dashboard/internal/logger"
	"github.com/itsrichardmai/crypto-dashboard/internal/marketdata"
	"github.com/itsrichardmai/crypto-dashboard/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// broadcastTicker pushes the latest prices for the configured symbols to
// every connected websocket client.
func broadcastTicker(market *marketdata.Client, symbols []string, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prices := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		price, err := market.Price(ctx, marketdata.CoinID(symbol))
		if err != nil {
			log.Warnw("ticker price fetch failed", "symbol", symbol, "error", err)
			continue
		}
		prices[symbol] = price.String()
	}
	if len(prices) == 0 {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":   "ticker",
		"prices": prices,
		"at":     time.Now().UTC(),
	})
	if err != nil {
		log.Errorw("failed to marshal ticker", "error", err)
		return
	}

	var dropped []*WSClient
	clientsMu.RLock()
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dropped = append(dropped, client)
		}
	}
	clientsMu.RUnlock()

	if len(dropped) > 0 {
		clientsMu.Lock()
		for _, client := range dropped {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(market *marketdata.Client, symbols []string, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("failed to upgrade connection", "error", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send an initial snapshot so the client doesn't wait a full tick
		broadcastTicker(market, symbols, log)

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, cache, market data, and HTTP server
func main() {
	ctx := context.Background()
	cfg := config.Load()

	zlog := logger.New(cfg.LogFile, cfg.LogLevel)
	defer zlog.Sync()
	log := zlog.Sugar()

	// Initialize database connection
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pg.Close()

	// Price cache: Redis when configured, in-process otherwise
	var priceCache cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalw("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer rc.Close()
		priceCache = rc
		log.Infow("using redis price cache", "addr", cfg.RedisAddr)
	}

	market := marketdata.NewClient(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey, priceCache)
	ldg := ledger.New(pg, market, marketdata.CoinID, ledger.DefaultConfig())
	authService := auth.NewAuthService(pg, cfg.JWTSecret)
	handler := api.NewHandler(pg, ldg, authService, market, log)

	r := chi.NewRouter()
	r.Get("/ws", handleWebSocket(market, cfg.TickerSymbols, log))
	r.Mount("/", handler.Routes())

	// Start periodic ticker broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastTicker(market, cfg.TickerSymbols, log)
		}
	}()

	log.Infow("starting server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}
