package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and single-replica runs.
// Watchers on the same Memory instance see each other's writes, which
// makes it usable as the shared store between two managers in one
// process (the multi-tab scenario, compressed into one test binary).
type Memory struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[chan Event]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string]string),
		watchers: make(map[chan Event]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.notifyLocked(key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.notifyLocked(key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) notifyLocked(key string) {
	for ch := range m.watchers {
		select {
		case ch <- Event{Key: key}:
		default:
		}
	}
}

func (m *Memory) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()

	return ch, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	for ch := range m.watchers {
		delete(m.watchers, ch)
		close(ch)
	}
	m.mu.Unlock()
	return nil
}
