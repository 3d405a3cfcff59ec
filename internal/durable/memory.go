package durable

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by worker and pipeline tests. It
// can be told to fail the next N mutations to exercise retry paths.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]interface{}

	failN   int
	failErr error
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]map[string]interface{})}
}

// FailNext makes the next n mutations return err before touching state.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
	m.failErr = err
}

// injected must be called with the lock held.
func (m *MemoryStore) injected() error {
	if m.failN > 0 {
		m.failN--
		return m.failErr
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, table, id string, doc map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	t := m.tables[table]
	if t == nil {
		t = make(map[string]map[string]interface{})
		m.tables[table] = t
	}
	t[id] = cloneDoc(doc)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, table, id string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	doc, ok := m.tables[table][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if _, ok := m.tables[table][id]; !ok {
		return ErrNotFound
	}
	delete(m.tables[table], id)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, table, id, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	doc, ok := m.tables[table][id]
	if !ok {
		return ErrNotFound
	}
	// Dotted fields address nested maps, matching SurrealQL path semantics.
	parts := strings.Split(field, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := doc[p]
		if !ok || next == nil {
			child := make(map[string]interface{})
			doc[p] = child
			doc = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("durable: increment %s:%s %s: %q is %T, not a map", table, id, field, p, next)
		}
		doc = child
	}
	leaf := parts[len(parts)-1]
	cur, err := asInt64(doc[leaf])
	if err != nil {
		return fmt.Errorf("durable: increment %s:%s %s: %w", table, id, field, err)
	}
	doc[leaf] = cur + delta
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, table, id string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.tables[table][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

// Count reports how many documents a table holds.
func (m *MemoryStore) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneDoc(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field is %T, not numeric", v)
	}
}
