package pushdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Offers are made under the store mutex
// so every subscriber observes writes in order.
type Memory struct {
	mu     sync.Mutex
	data   map[string]Snapshot
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]Snapshot),
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

func (m *Memory) Subscribe(_ context.Context, path string, fn Handler) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(path, fn)
	sub.stop = func() {
		m.mu.Lock()
		delete(m.subs[path], sub)
		m.mu.Unlock()
	}
	if m.subs[path] == nil {
		m.subs[path] = make(map[*Subscription]struct{})
	}
	m.subs[path][sub] = struct{}{}
	sub.offer(m.data[path].clone())
	return sub, nil
}

func (m *Memory) Get(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.data[path].clone(), nil
}

func (m *Memory) Set(_ context.Context, path, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("pushdb: encode %s/%s: %w", path, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.put(path, key, raw)
	return nil
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("pushdb: new key: %w", err)
	}
	key := id.String()
	if err := m.Set(ctx, path, key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Incr(_ context.Context, path, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	if raw, ok := m.data[path][key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("pushdb: %s/%s is not an integer", path, key)
		}
	}
	n += delta
	m.put(path, key, json.RawMessage(strconv.FormatInt(n, 10)))
	return n, nil
}

func (m *Memory) Delete(_ context.Context, path, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.data[path][key]; !ok {
		return nil
	}
	delete(m.data[path], key)
	m.broadcast(path)
	return nil
}

// Close cancels every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*Subscription
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range all {
		sub.Cancel()
	}
	return nil
}

// put requires m.mu.
func (m *Memory) put(path, key string, raw json.RawMessage) {
	if m.data[path] == nil {
		m.data[path] = make(Snapshot)
	}
	m.data[path][key] = raw
	m.broadcast(path)
}

// broadcast requires m.mu.
func (m *Memory) broadcast(path string) {
	for sub := range m.subs[path] {
		sub.offer(m.data[path].clone())
	}
}
