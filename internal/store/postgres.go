package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itsrichardmai/crypto-dashboard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres implements Store on a pgx connection pool
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres initializes a new database connection pool
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection pool
func (s *Postgres) Close() {
	s.Pool.Close()
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccountBalance(ctx context.Context, q rowQuerier, userID int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE user_id = $1",
		userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get account balance: %w", err)
	}
	return balance, nil
}

// GetAccountBalance retrieves a user's cash balance
func (s *Postgres) GetAccountBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	return getAccountBalance(ctx, s.Pool, userID)
}

// SetAccountBalance upserts a user's cash balance
func (s *Postgres) SetAccountBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO accounts (user_id, balance) VALUES ($1, $2) "+
			"ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance",
		userID, balance)
	if err != nil {
		return fmt.Errorf("failed to set account balance: %w", err)
	}
	return nil
}

func scanHolding(row pgx.Row) (models.Holding, error) {
	var h models.Holding
	err := row.Scan(&h.Symbol, &h.Name, &h.Quantity, &h.AvgCostBasis, &h.TotalCost, &h.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Holding{}, ErrNotFound
		}
		return models.Holding{}, fmt.Errorf("failed to scan holding: %w", err)
	}
	return h, nil
}

const holdingColumns = "symbol, name, quantity, avg_cost_basis, total_cost, last_updated"

// GetHolding retrieves a user's position in one symbol
func (s *Postgres) GetHolding(ctx context.Context, userID int, symbol string) (models.Holding, error) {
	return scanHolding(s.Pool.QueryRow(ctx,
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = $1 AND symbol = $2",
		userID, symbol))
}

// UpsertHolding creates or replaces a user's position in one symbol
func (s *Postgres) UpsertHolding(ctx context.Context, userID int, h models.Holding) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO holdings (user_id, symbol, name, quantity, avg_cost_basis, total_cost, last_updated) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"ON CONFLICT (user_id, symbol) DO UPDATE SET "+
			"name = EXCLUDED.name, quantity = EXCLUDED.quantity, "+
			"avg_cost_basis = EXCLUDED.avg_cost_basis, total_cost = EXCLUDED.total_cost, "+
			"last_updated = EXCLUDED.last_updated",
		userID, h.Symbol, h.Name, h.Quantity, h.AvgCostBasis, h.TotalCost, h.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

// DeleteHolding removes a user's position in one symbol
func (s *Postgres) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	_, err := s.Pool.Exec(ctx,
		"DELETE FROM holdings WHERE user_id = $1 AND symbol = $2", userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// AppendTransaction records an executed trade and returns its id
func (s *Postgres) AppendTransaction(ctx context.Context, userID int, t models.Transaction) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO transactions (id, user_id, symbol, name, action, quantity, price, fee, order_type, exchange, total, executed_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		t.ID, userID, t.Symbol, t.Name, t.Action, t.Quantity, t.Price, t.Fee, t.OrderType, t.Exchange, t.Total, t.Timestamp)
	if err != nil {
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}
	return t.ID, nil
}

// ListHoldings retrieves all of a user's positions
func (s *Postgres) ListHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// ListTransactions retrieves a user's trade history, newest first
func (s *Postgres) ListTransactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT id, symbol, name, action, quantity, price, fee, order_type, exchange, total, executed_at "+
			"FROM transactions WHERE user_id = $1 ORDER BY executed_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &t.Action, &t.Quantity, &t.Price,
			&t.Fee, &t.OrderType, &t.Exchange, &t.Total, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Atomic runs fn inside a database transaction. The account row is locked
// FOR UPDATE for the duration, so concurrent buy/sell operations on the
// same account serialize instead of both reading pre-trade state.
func (s *Postgres) Atomic(ctx context.Context, userID int, fn func(tx Tx) error) error {
	pgtx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	// The lock needs a row to land on; first touch provisions one with
	// the schema's default starting balance.
	if _, err := pgtx.Exec(ctx,
		"INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING",
		userID); err != nil {
		return fmt.Errorf("failed to provision account: %w", err)
	}
	var locked decimal.Decimal
	if err := pgtx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&locked); err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx exposes the Tx operations on an open pgx transaction
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccountBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	return getAccountBalance(ctx, t.tx, userID)
}

func (t *pgTx) SetAccountBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO accounts (user_id, balance) VALUES ($1, $2) "+
			"ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance",
		userID, balance)
	if err != nil {
		return fmt.Errorf("failed to set account balance: %w", err)
	}
	return nil
}

func (t *pgTx) GetHolding(ctx context.Context, userID int, symbol string) (models.Holding, error) {
	return scanHolding(t.tx.QueryRow(ctx,
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = $1 AND symbol = $2",
		userID, symbol))
}

func (t *pgTx) UpsertHolding(ctx context.Context, userID int, h models.Holding) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO holdings (user_id, symbol, name, quantity, avg_cost_basis, total_cost, last_updated) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"ON CONFLICT (user_id, symbol) DO UPDATE SET "+
			"name = EXCLUDED.name, quantity = EXCLUDED.quantity, "+
			"avg_cost_basis = EXCLUDED.avg_cost_basis, total_cost = EXCLUDED.total_cost, "+
			"last_updated = EXCLUDED.last_updated",
		userID, h.Symbol, h.Name, h.Quantity, h.AvgCostBasis, h.TotalCost, h.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	_, err := t.tx.Exec(ctx,
		"DELETE FROM holdings WHERE user_id = $1 AND symbol = $2", userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, userID int, tx models.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	_, err := t.tx.Exec(ctx,
		"INSERT INTO transactions (id, user_id, symbol, name, action, quantity, price, fee, order_type, exchange, total, executed_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		tx.ID, userID, tx.Symbol, tx.Name, tx.Action, tx.Quantity, tx.Price, tx.Fee, tx.OrderType, tx.Exchange, tx.Total, tx.Timestamp)
	if err != nil {
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}
	return tx.ID, nil
}

// CreateUser inserts a new user
func (s *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetSettings retrieves a user's trading preferences, defaults if unset
func (s *Postgres) GetSettings(ctx context.Context, userID int) (models.Settings, error) {
	var out models.Settings
	err := s.Pool.QueryRow(ctx,
		"SELECT selected_exchange, default_order_type FROM settings WHERE user_id = $1",
		userID).Scan(&out.SelectedExchange, &out.DefaultOrderType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DefaultSettings(), nil
		}
		return models.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return out, nil
}

// SaveSettings upserts a user's trading preferences
func (s *Postgres) SaveSettings(ctx context.Context, userID int, set models.Settings) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO settings (user_id, selected_exchange, default_order_type) VALUES ($1, $2, $3) "+
			"ON CONFLICT (user_id) DO UPDATE SET "+
			"selected_exchange = EXCLUDED.selected_exchange, default_order_type = EXCLUDED.default_order_type",
		userID, set.SelectedExchange, set.DefaultOrderType)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetUsage retrieves a user's AI usage counters, zeroes if unset
func (s *Postgres) GetUsage(ctx context.Context, userID int) (models.UsageRecord, error) {
	var u models.UsageRecord
	err := s.Pool.QueryRow(ctx,
		"SELECT analysis_count, forecast_count, last_analysis_at, last_forecast_at FROM ai_usage WHERE user_id = $1",
		userID).Scan(&u.AnalysisCount, &u.ForecastCount, &u.LastAnalysisAt, &u.LastForecastAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UsageRecord{}, nil
		}
		return models.UsageRecord{}, fmt.Errorf("failed to get usage: %w", err)
	}
	u.AnalysisUsed = u.AnalysisCount > 0
	u.ForecastUsed = u.ForecastCount > 0
	return u, nil
}

// RecordUsage increments a feature counter, creating the row on first use
func (s *Postgres) RecordUsage(ctx context.Context, userID int, feature string) error {
	var column, stamp string
	switch feature {
	case "analysis":
		column, stamp = "analysis_count", "last_analysis_at"
	case "forecast":
		column, stamp = "forecast_count", "last_forecast_at"
	default:
		return fmt.Errorf("unknown usage feature %q", feature)
	}
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO ai_usage (user_id, "+column+", "+stamp+") VALUES ($1, 1, NOW()) "+
			"ON CONFLICT (user_id) DO UPDATE SET "+
			column+" = ai_usage."+column+" + 1, "+stamp+" = NOW(), updated_at = NOW()",
		userID)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
