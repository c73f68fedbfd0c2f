// Package registry implements the opaque-handle table behind the
// boundary's cache handles. The foreign caller holds a pointer-sized
// token and passes it back; it can never construct, inspect, or
// dereference the state the token stands for.
package registry

import (
	"sync"
)

// Handle is the opaque token handed across the boundary. Zero is never
// issued and stands for "no handle".
type Handle uint64

// Dropper is implemented by registered values that need teardown when
// their handle is removed.
type Dropper interface {
	Drop()
}

// Table maps live handles to their values. Handles are allocated from a
// monotonically increasing counter and never reused, so a released or
// foreign token fails the lookup instead of aliasing another entry.
type Table struct {
	mu      sync.RWMutex
	entries map[Handle]any
	next    Handle
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]any)}
}

// Insert registers a value and returns its handle.
func (t *Table) Insert(value any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.entries[h] = value
	return h
}

// Get resolves a handle to its value.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	value, ok := t.entries[h]
	return value, ok
}

// Remove drops a handle and returns its value. The value's Drop runs
// exactly once, on the first removal; later removals of the same handle
// report false and touch nothing.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	value, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	return value, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
