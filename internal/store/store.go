package store

import (
	"context"
	"errors"

	"github.com/itsrichardmai/crypto-dashboard/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Tx is the set of ledger mutations available inside an atomic scope.
// Implementations guarantee that everything done through a Tx is applied
// completely or not at all, and that only one atomic scope runs per
// account at a time.
type Tx interface {
	GetAccountBalance(ctx context.Context, userID int) (decimal.Decimal, error)
	SetAccountBalance(ctx context.Context, userID int, balance decimal.Decimal) error
	GetHolding(ctx context.Context, userID int, symbol string) (models.Holding, error)
	UpsertHolding(ctx context.Context, userID int, holding models.Holding) error
	DeleteHolding(ctx context.Context, userID int, symbol string) error
	AppendTransaction(ctx context.Context, userID int, tx models.Transaction) (string, error)
}

// Store is the persistence contract consumed by the ledger and handlers
type Store interface {
	Tx

	// Atomic runs fn inside a transaction serialized per account. If fn
	// returns an error nothing it did through the Tx is applied.
	Atomic(ctx context.Context, userID int, fn func(tx Tx) error) error

	ListHoldings(ctx context.Context, userID int) ([]models.Holding, error)
	// ListTransactions returns the user's trades, newest first.
	ListTransactions(ctx context.Context, userID int) ([]models.Transaction, error)

	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	GetSettings(ctx context.Context, userID int) (models.Settings, error)
	SaveSettings(ctx context.Context, userID int, s models.Settings) error

	GetUsage(ctx context.Context, userID int) (models.UsageRecord, error)
	// RecordUsage increments the counter for feature ("analysis" or
	// "forecast"), creating the record on first use.
	RecordUsage(ctx context.Context, userID int, feature string) error
}
