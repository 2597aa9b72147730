package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests in place of a live Redis
// instance. go-redis/v8 has no in-process fake in this dependency set, so
// this is a minimal hand-rolled implementation of the Store seam itself.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memVal
}

type memVal struct {
	value   []byte
	expires time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memVal)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !v.expires.IsZero() && time.Now().After(v.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return v.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.entries[key] = memVal{value: value, expires: exp}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) Close() error { return nil }
