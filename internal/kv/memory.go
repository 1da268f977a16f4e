package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store and SeenSet.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
	seen   map[string]time.Time
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]int64),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *Memory) Set(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn func(int64) int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := fn(m.values[key])
	m.values[key] = v
	return v, nil
}

func (m *Memory) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}
