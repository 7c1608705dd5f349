// Package storetest provides DocStore wrappers for exercising partial-failure
// paths in tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
)

var ErrInjected = errors.New("injected store failure")

type Op string

const (
	OpGet    Op = "get"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpFind   Op = "find"
)

type fault struct {
	op         Op
	collection string
	remaining  int
}

// Faulty delegates to an inner DocStore and fails scheduled operations with
// ErrInjected. Faults match on operation and collection and are consumed in
// the order they were scheduled.
type Faulty struct {
	Inner store.DocStore

	mu     sync.Mutex
	faults []*fault
	calls  map[Op]map[string]int
}

var _ store.DocStore = (*Faulty)(nil)

func NewFaulty(inner store.DocStore) *Faulty {
	return &Faulty{Inner: inner, calls: map[Op]map[string]int{}}
}

// FailNext makes the next n matching operations fail.
func (f *Faulty) FailNext(op Op, collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, collection: collection, remaining: n})
}

// Calls reports how many times op reached the store for a collection,
// including failed attempts.
func (f *Faulty) Calls(op Op, collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op][collection]
}

func (f *Faulty) hit(op Op, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls[op] == nil {
		f.calls[op] = map[string]int{}
	}
	f.calls[op][collection]++
	for i, ft := range f.faults {
		if ft.op != op || ft.collection != collection {
			continue
		}
		ft.remaining--
		if ft.remaining <= 0 {
			f.faults = append(f.faults[:i], f.faults[i+1:]...)
		}
		return ErrInjected
	}
	return nil
}

func (f *Faulty) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := f.hit(OpGet, collection); err != nil {
		return store.Document{}, err
	}
	return f.Inner.Get(ctx, collection, id)
}

func (f *Faulty) Create(ctx context.Context, collection, id string, body []byte) error {
	if err := f.hit(OpCreate, collection); err != nil {
		return err
	}
	return f.Inner.Create(ctx, collection, id, body)
}

func (f *Faulty) Update(ctx context.Context, collection, id string, expected int64, body []byte) (int64, error) {
	if err := f.hit(OpUpdate, collection); err != nil {
		return 0, err
	}
	return f.Inner.Update(ctx, collection, id, expected, body)
}

func (f *Faulty) Delete(ctx context.Context, collection, id string) error {
	if err := f.hit(OpDelete, collection); err != nil {
		return err
	}
	return f.Inner.Delete(ctx, collection, id)
}

func (f *Faulty) Find(ctx context.Context, collection string, where ...store.Eq) ([]store.Document, error) {
	if err := f.hit(OpFind, collection); err != nil {
		return nil, err
	}
	return f.Inner.Find(ctx, collection, where...)
}
