package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process DocStore for tests and ephemeral environments.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]Document
}

var _ DocStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Document)}
}

func (m *Memory) coll(name string) map[string]Document {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]Document)
		m.data[name] = c
	}
	return c
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.coll(collection)[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Create(ctx context.Context, collection, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	if _, ok := c[id]; ok {
		return ErrAlreadyExists
	}
	c[id] = Document{ID: id, Version: 1, Body: append([]byte(nil), body...)}
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, expected int64, body []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	doc, ok := c[id]
	if !ok {
		return 0, ErrNotFound
	}
	if doc.Version != expected {
		return 0, ErrVersionConflict
	}
	doc.Version++
	doc.Body = append([]byte(nil), body...)
	c[id] = doc
	return doc.Version, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	if _, ok := c[id]; !ok {
		return ErrNotFound
	}
	delete(c, id)
	return nil
}

func (m *Memory) Find(ctx context.Context, collection string, where ...Eq) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, doc := range m.coll(collection) {
		ok, err := matches(doc.Body, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len reports how many documents a collection holds.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.coll(collection))
}

func matches(body []byte, where []Eq) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, err
	}
	for _, w := range where {
		v, ok := fields[w.Field]
		if !ok || v == nil {
			return false, nil
		}
		if fmt.Sprint(v) != w.Value {
			return false, nil
		}
	}
	return true, nil
}

func cloneDoc(d Document) Document {
	d.Body = append([]byte(nil), d.Body...)
	return d
}
