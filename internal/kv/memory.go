package kv

import (
	"context"
	"encoding/json"
	"sync"
)

type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Value: cloneRaw(e.Value), Version: e.Version}, true, nil
}

func (m *Memory) Store(_ context.Context, key string, value json.RawMessage, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[key]
	if expected != AnyVersion {
		if !ok && expected != 0 {
			return 0, ErrConflict
		}
		if ok && cur.Version != expected {
			return 0, ErrConflict
		}
	}
	next := cur.Version + 1
	m.entries[key] = Entry{Value: cloneRaw(value), Version: next}
	return next, nil
}

func (m *Memory) Put(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Value: cloneRaw(e.Value), Version: e.Version}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
