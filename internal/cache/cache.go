// Package cache is the TTL cache used in front of third-party market
// data APIs. The Memory backend suits a single instance; Redis keeps
// replicas answering consistently in a multi-instance deployment.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache maps a key to a value with an expiry
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expired entries are evicted on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory creates an empty in-process cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Get returns the cached value if present and unexpired
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}
