package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itsrichardmai/crypto-dashboard/internal/models"
	"github.com/shopspring/decimal"
)

// Memory is an in-memory Store used by tests and local development.
// Atomic scopes hold a per-account mutex, and mutations inside a scope
// are staged and applied only if the callback succeeds.
type Memory struct {
	mu       sync.RWMutex
	accounts map[int]decimal.Decimal
	holdings map[int]map[string]models.Holding
	txs      map[int][]models.Transaction
	users    map[string]*models.User
	settings map[int]models.Settings
	usage    map[int]models.UsageRecord
	nextUser int

	lockMu   sync.Mutex
	acctLock map[int]*sync.Mutex
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[int]decimal.Decimal),
		holdings: make(map[int]map[string]models.Holding),
		txs:      make(map[int][]models.Transaction),
		users:    make(map[string]*models.User),
		settings: make(map[int]models.Settings),
		usage:    make(map[int]models.UsageRecord),
		nextUser: 1,
		acctLock: make(map[int]*sync.Mutex),
	}
}

func (m *Memory) accountMutex(userID int) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.acctLock[userID]
	if !ok {
		l = &sync.Mutex{}
		m.acctLock[userID] = l
	}
	return l
}

// GetAccountBalance retrieves a user's cash balance
func (m *Memory) GetAccountBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal, ok := m.accounts[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return bal, nil
}

// SetAccountBalance upserts a user's cash balance
func (m *Memory) SetAccountBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = balance
	return nil
}

// GetHolding retrieves a user's position in one symbol
func (m *Memory) GetHolding(ctx context.Context, userID int, symbol string) (models.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[userID][symbol]
	if !ok {
		return models.Holding{}, ErrNotFound
	}
	return h, nil
}

// UpsertHolding creates or replaces a user's position in one symbol
func (m *Memory) UpsertHolding(ctx context.Context, userID int, h models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[userID]; !ok {
		m.holdings[userID] = make(map[string]models.Holding)
	}
	m.holdings[userID][h.Symbol] = h
	return nil
}

// DeleteHolding removes a user's position in one symbol
func (m *Memory) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holdings[userID], symbol)
	return nil
}

// AppendTransaction records an executed trade and returns its id
func (m *Memory) AppendTransaction(ctx context.Context, userID int, t models.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	m.txs[userID] = append(m.txs[userID], t)
	return t.ID, nil
}

// Atomic serializes per-account read-modify-write sequences. Mutations
// are staged against a shadow Tx and applied in one critical section only
// if fn succeeds, so a failing operation leaves no partial state.
func (m *Memory) Atomic(ctx context.Context, userID int, fn func(tx Tx) error) error {
	l := m.accountMutex(userID)
	l.Lock()
	defer l.Unlock()

	stage := &memTx{store: m, userID: userID}
	if err := fn(stage); err != nil {
		return err
	}
	return stage.apply(ctx)
}

// memTx stages mutations until the atomic callback completes
type memTx struct {
	store  *Memory
	userID int

	balance    *decimal.Decimal
	upserts    []models.Holding
	deletes    []string
	appends    []models.Transaction
	appendedID string
}

func (t *memTx) GetAccountBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	if t.balance != nil {
		return *t.balance, nil
	}
	return t.store.GetAccountBalance(ctx, userID)
}

func (t *memTx) SetAccountBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	t.balance = &balance
	return nil
}

func (t *memTx) GetHolding(ctx context.Context, userID int, symbol string) (models.Holding, error) {
	for i := len(t.upserts) - 1; i >= 0; i-- {
		if t.upserts[i].Symbol == symbol {
			return t.upserts[i], nil
		}
	}
	for _, s := range t.deletes {
		if s == symbol {
			return models.Holding{}, ErrNotFound
		}
	}
	return t.store.GetHolding(ctx, userID, symbol)
}

func (t *memTx) UpsertHolding(ctx context.Context, userID int, h models.Holding) error {
	t.upserts = append(t.upserts, h)
	return nil
}

func (t *memTx) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	t.deletes = append(t.deletes, symbol)
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, userID int, tx models.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	t.appends = append(t.appends, tx)
	t.appendedID = tx.ID
	return tx.ID, nil
}

func (t *memTx) apply(ctx context.Context) error {
	if t.balance != nil {
		if err := t.store.SetAccountBalance(ctx, t.userID, *t.balance); err != nil {
			return err
		}
	}
	for _, h := range t.upserts {
		if err := t.store.UpsertHolding(ctx, t.userID, h); err != nil {
			return err
		}
	}
	for _, s := range t.deletes {
		if err := t.store.DeleteHolding(ctx, t.userID, s); err != nil {
			return err
		}
	}
	for _, tx := range t.appends {
		if _, err := t.store.AppendTransaction(ctx, t.userID, tx); err != nil {
			return err
		}
	}
	return nil
}

// ListHoldings retrieves all of a user's positions, sorted by symbol
func (m *Memory) ListHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Holding, 0, len(m.holdings[userID]))
	for _, h := range m.holdings[userID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ListTransactions retrieves a user's trade history, newest first
func (m *Memory) ListTransactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Transaction, len(m.txs[userID]))
	copy(out, m.txs[userID])
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// CreateUser inserts a new user
func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, fmt.Errorf("username %q already taken", username)
	}
	u := &models.User{
		ID:           m.nextUser,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.nextUser++
	m.users[username] = u
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// GetSettings retrieves a user's trading preferences, defaults if unset
func (m *Memory) GetSettings(ctx context.Context, userID int) (models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return models.DefaultSettings(), nil
	}
	return s, nil
}

// SaveSettings upserts a user's trading preferences
func (m *Memory) SaveSettings(ctx context.Context, userID int, s models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

// GetUsage retrieves a user's AI usage counters, zeroes if unset
func (m *Memory) GetUsage(ctx context.Context, userID int) (models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[userID], nil
}

// RecordUsage increments a feature counter
func (m *Memory) RecordUsage(ctx context.Context, userID int, feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage[userID]
	now := time.Now()
	switch feature {
	case "analysis":
		u.AnalysisUsed = true
		u.AnalysisCount++
		u.LastAnalysisAt = &now
	case "forecast":
		u.ForecastUsed = true
		u.ForecastCount++
		u.LastForecastAt = &now
	default:
		return fmt.Errorf("unknown usage feature %q", feature)
	}
	m.usage[userID] = u
	return nil
}
