// Package registry provides a concurrency-safe, insertion-ordered name to
// value map used for pluggable components such as model providers.
package registry

import (
	"fmt"
	"slices"
	"sync"
)

// OrderedRegistry keeps items in registration order. Set on an existing
// name replaces the item in place.
type OrderedRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func New[T any]() *OrderedRegistry[T] {
	return &OrderedRegistry[T]{items: make(map[string]T)}
}

// Register adds item under a new, non-empty name.
func (r *OrderedRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("registry: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.items[name]; dup {
		return fmt.Errorf("registry: %q already registered", name)
	}
	r.put(name, item)
	return nil
}

// Set adds or replaces item.
func (r *OrderedRegistry[T]) Set(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(name, item)
}

func (r *OrderedRegistry[T]) put(name string, item T) {
	if _, ok := r.items[name]; !ok {
		r.order = append(r.order, name)
	}
	r.items[name] = item
}

func (r *OrderedRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// Names returns a copy of the names in registration order.
func (r *OrderedRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *OrderedRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.order))
	for i, name := range r.order {
		out[i] = r.items[name]
	}
	return out
}

func (r *OrderedRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.order, name)
	if i < 0 {
		return fmt.Errorf("registry: %q not found", name)
	}
	r.order = slices.Delete(r.order, i, i+1)
	delete(r.items, name)
	return nil
}

func (r *OrderedRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
