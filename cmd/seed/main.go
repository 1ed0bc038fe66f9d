package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/itsrichardmai/crypto-dashboard/internal/auth"
	"github.com/itsrichardmai/crypto-dashboard/internal/config"
	"github.com/itsrichardmai/crypto-dashboard/internal/fees"
	"github.com/itsrichardmai/crypto-dashboard/internal/ledger"
	"github.com/itsrichardmai/crypto-dashboard/internal/store"

	"github.com/shopspring/decimal"
)

// Seed the database with a demo account and some executed trades
func main() {
	ctx := context.Background()
	cfg := config.Load()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	authService := auth.NewAuthService(pg, cfg.JWTSecret)

	user, err := pg.GetUserByUsername(ctx, "demo")
	if errors.Is(err, store.ErrNotFound) {
		user, err = authService.Register(ctx, "demo", "demo1234")
	}
	if err != nil {
		log.Fatalf("Failed to set up demo user: %v", err)
	}

	// Skip if the demo account already traded
	txs, err := pg.ListTransactions(ctx, user.ID)
	if err != nil {
		log.Fatalf("Failed to check transactions: %v", err)
	}
	if len(txs) > 0 {
		fmt.Printf("Demo account already has %d transactions. No need to seed.\n", len(txs))
		os.Exit(0)
	}

	ldg := ledger.New(pg, nil, nil, ledger.DefaultConfig())

	trades := []struct {
		action string
		req    ledger.TradeRequest
	}{
		{"BUY", trade("BTC", "Bitcoin", "0.05", "64000")},
		{"BUY", trade("ETH", "Ethereum", "1.2", "3400")},
		{"BUY", trade("SOL", "Solana", "10", "145")},
		{"SELL", trade("ETH", "Ethereum", "0.4", "3550")},
	}

	for _, t := range trades {
		var err error
		if t.action == "BUY" {
			_, err = ldg.ExecuteBuy(ctx, user.ID, t.req)
		} else {
			_, err = ldg.ExecuteSell(ctx, user.ID, t.req)
		}
		if err != nil {
			log.Fatalf("Failed to seed %s %s: %v", t.action, t.req.Symbol, err)
		}
	}

	fmt.Println("Successfully seeded the demo account!")
}

func trade(symbol, name, quantity, price string) ledger.TradeRequest {
	return ledger.TradeRequest{
		Symbol:    symbol,
		Name:      name,
		Quantity:  decimal.RequireFromString(quantity),
		Price:     decimal.RequireFromString(price),
		OrderType: fees.Market,
		Exchange:  "binance",
	}
}
