package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MockCache is an in-memory implementation of cache.Store.
// Used for testing without requiring a real Redis instance.
type MockCache struct {
	clock   clockwork.Clock
	data    map[string]string
	expires map[string]time.Time
	mu      sync.Mutex

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockCache creates a new mock cache whose expirations follow clock.
func NewMockCache(clock clockwork.Clock) *MockCache {
	return &MockCache{
		clock:   clock,
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MockCache) liveLocked(key string) bool {
	if _, ok := m.data[key]; !ok {
		return false
	}
	if exp, ok := m.expires[key]; ok && !m.clock.Now().Before(exp) {
		delete(m.data, key)
		delete(m.expires, key)
		return false
	}
	return true
}

func (m *MockCache) setLocked(key string, value interface{}, expiration time.Duration) {
	m.data[key] = fmt.Sprint(value)
	if expiration > 0 {
		m.expires[key] = m.clock.Now().Add(expiration)
	} else {
		delete(m.expires, key)
	}
}

// Get retrieves a value, or "" for a missing key (like Redis).
func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if !m.liveLocked(key) {
		return "", nil
	}
	return m.data[key], nil
}

// Set stores a value.
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.setLocked(key, value, expiration)
	return nil
}

// Del deletes keys.
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, key := range keys {
		delete(m.data, key)
		delete(m.expires, key)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (m *MockCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.liveLocked(key) {
		return false, nil
	}
	m.setLocked(key, value, expiration)
	return true, nil
}

// Clear removes all data from the mock cache.
func (m *MockCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
	m.expires = make(map[string]time.Time)
}
