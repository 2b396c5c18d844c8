package kv

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and by the CLI when the
// configured KV backend is `memory` (the default). It implements the exact same contract as
// the Postgres/Redis backends so C3/C7 code paths are store-agnostic.
type MemStore struct {
	mu     sync.Mutex
	tables map[DB]map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[DB]map[string][]byte)}
}

func (s *MemStore) Open(_ context.Context, db DB) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[db] == nil {
		s.tables[db] = make(map[string][]byte)
	}
	return &memHandle{store: s, db: db}, nil
}

func (s *MemStore) Close() error { return nil }

type memHandle struct {
	store *MemStore
	db    DB
}

func (h *memHandle) Get(_ context.Context, key string) ([]byte, bool, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	v, ok := h.store.tables[h.db][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (h *memHandle) Put(_ context.Context, key string, value []byte) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	h.store.tables[h.db][key] = cp
	return nil
}

func (h *memHandle) Delete(_ context.Context, key string) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.tables[h.db], key)
	return nil
}

func (h *memHandle) Has(_ context.Context, key string) (bool, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	_, ok := h.store.tables[h.db][key]
	return ok, nil
}

func (h *memHandle) Scan(_ context.Context) (Cursor, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	keys := make([]string, 0, len(h.store.tables[h.db]))
	for k := range h.store.tables[h.db] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memCursor{handle: h, keys: keys, pos: -1}, nil
}

func (h *memHandle) Close() error { return nil }

type memCursor struct {
	handle *memHandle
	keys   []string
	pos    int
}

func (c *memCursor) Next(ctx context.Context) (Entry, bool, error) {
	c.pos++
	if c.pos >= len(c.keys) {
		return Entry{}, false, nil
	}
	key := c.keys[c.pos]
	v, ok, err := c.handle.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		// deleted mid-scan via DeleteCurrent on a prior position; skip
		return c.Next(ctx)
	}
	return Entry{Key: key, Value: v}, true, nil
}

func (c *memCursor) DeleteCurrent(ctx context.Context) error {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return c.handle.Delete(ctx, c.keys[c.pos])
}

func (c *memCursor) Close() error { return nil }
