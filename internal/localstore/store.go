// Package localstore holds device-scoped state that is never synced to the
// backend: the daily mission set, the streak celebration flag, the draft buffer
// and the theme preference.
package localstore

import (
	"errors"
	"strings"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("localstore: closed")

// KV is one device's key-value namespace. A missing key is (nil, false, nil).
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Store hands out per-device namespaces.
type Store interface {
	Device(deviceID string) KV
	Close() error
}

// deviceKey prefixes key with the device namespace.
func deviceKey(deviceID, key string) []byte {
	return []byte("device/" + deviceID + "/" + key)
}

// MemoryStore keeps everything in a map. Used in tests and when
// localstore.in_memory is set.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Device returns deviceID's namespace.
func (m *MemoryStore) Device(deviceID string) KV {
	return &memoryKV{store: m, deviceID: deviceID}
}

// Keys lists the raw keys under a device namespace.
func (m *MemoryStore) Keys(deviceID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := string(deviceKey(deviceID, ""))
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryKV struct {
	store    *MemoryStore
	deviceID string
}

func (k *memoryKV) Get(key string) ([]byte, bool, error) {
	k.store.mu.RLock()
	defer k.store.mu.RUnlock()
	if k.store.closed {
		return nil, false, ErrClosed
	}
	v, ok := k.store.data[string(deviceKey(k.deviceID, key))]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (k *memoryKV) Set(key string, value []byte) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	if k.store.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	k.store.data[string(deviceKey(k.deviceID, key))] = v
	return nil
}

func (k *memoryKV) Delete(key string) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	if k.store.closed {
		return ErrClosed
	}
	delete(k.store.data, string(deviceKey(k.deviceID, key)))
	return nil
}
