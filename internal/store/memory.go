package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Memory is a thread-safe in-process Store. It is the single-instance
// deployment backend and the test double for the Postgres store; both apply
// the same path-update semantics so the two are interchangeable.
type Memory struct {
	mu          sync.RWMutex
	collections map[Collection]map[string]Document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[Collection]map[string]Document)}
}

func (m *Memory) Get(ctx context.Context, col Collection, key string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[col][key]
	if !ok {
		return nil, false, nil
	}
	copied, err := normalize(doc)
	if err != nil {
		return nil, false, fmt.Errorf("%w: copy %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return copied.(map[string]any), true, nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, col Collection, key string, initial Document) (bool, error) {
	normalized, err := normalize(initial)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[col][key]; exists {
		return false, nil
	}
	if m.collections[col] == nil {
		m.collections[col] = make(map[string]Document)
	}
	m.collections[col][key] = normalized.(map[string]any)
	return true, nil
}

func (m *Memory) Upsert(ctx context.Context, col Collection, key string, initial Document, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[col][key]
	if !ok {
		normalized, err := normalize(initial)
		if err != nil {
			return fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
		}
		if m.collections[col] == nil {
			m.collections[col] = make(map[string]Document)
		}
		m.collections[col][key] = normalized.(map[string]any)
		return nil
	}
	return m.applyFields(col, key, doc, fields)
}

func (m *Memory) Update(ctx context.Context, col Collection, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[col][key]
	if !ok {
		return nil
	}
	return m.applyFields(col, key, doc, fields)
}

// applyFields merges field paths into doc in sorted order so repeated runs
// are deterministic. Caller holds the lock.
func (m *Memory) applyFields(col Collection, key string, doc Document, fields map[string]any) error {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		value := fields[path]
		if isRemove(value) {
			removeAt(doc, splitPath(path))
			continue
		}
		normalized, err := normalize(value)
		if err != nil {
			return fmt.Errorf("%w: encode %s/%s field %s: %v", ErrUnavailable, col, key, path, err)
		}
		setAt(doc, splitPath(path), normalized)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, col Collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[col], key)
	return nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, col Collection, key string, expected Document) (bool, error) {
	want, err := normalize(expected)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[col][key]
	if !ok || !reflect.DeepEqual(doc, want.(map[string]any)) {
		return false, nil
	}
	delete(m.collections[col], key)
	return true, nil
}

func (m *Memory) ListKeys(ctx context.Context, col Collection) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.collections[col]))
	for k := range m.collections[col] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// setAt writes value at path. A missing intermediate element makes the set a
// no-op, mirroring jsonb_set's behavior in the Postgres store.
func setAt(doc map[string]any, path []string, value any) {
	parent, ok := walk(doc, path[:len(path)-1])
	if !ok {
		return
	}
	parent[path[len(path)-1]] = value
}

func removeAt(doc map[string]any, path []string) {
	parent, ok := walk(doc, path[:len(path)-1])
	if !ok {
		return
	}
	delete(parent, path[len(path)-1])
}

func walk(doc map[string]any, path []string) (map[string]any, bool) {
	current := doc
	for _, elem := range path {
		next, ok := current[elem].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// normalize round-trips a value through JSON so documents held in memory have
// exactly the same shape a document read back from Postgres would have.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
