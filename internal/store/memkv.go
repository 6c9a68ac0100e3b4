package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemKV is the in-process stand-in for Redis used when running without it.
type MemKV struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	val     []byte
	expires time.Time
}

func NewMemKV() *MemKV {
	return &MemKV{items: make(map[string]memItem), now: time.Now}
}

func (m *MemKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return nil, nil
	}
	return append([]byte(nil), it.val...), nil
}

// Set stores val; ttl <= 0 keeps it until deleted.
func (m *MemKV) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memItem{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Incr behaves like Redis INCR: a missing or expired key counts from 0.
func (m *MemKV) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if ok && !it.expires.IsZero() && !m.now().Before(it.expires) {
		ok = false
		it = memItem{}
	}
	var n int64
	if ok {
		v, err := strconv.ParseInt(string(it.val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = v
	}
	n++
	it.val = []byte(strconv.FormatInt(n, 10))
	m.items[key] = it
	return n, nil
}
