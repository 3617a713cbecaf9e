// Package optimistic applies user mutations to local lists before the
// backend confirms them, and reconciles or reverts afterwards.
package optimistic

import (
	"sync"
)

// Identified is a record with an id. model records satisfy it through
// model.Record.
type Identified interface {
	GetID() string
}

// List is a feature's locally held records, newest first.
type List[T Identified] struct {
	mu    sync.RWMutex
	items []T
}

// NewList creates a list holding items.
func NewList[T Identified](items ...T) *List[T] {
	l := &List[T]{}
	l.Set(items)
	return l
}

// Snapshot returns a copy of the current items.
func (l *List[T]) Snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of items.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the item with id.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexLocked(id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// Set replaces the contents wholesale, as after a refetch.
func (l *List[T]) Set(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make([]T, len(items))
	copy(l.items, items)
}

// Pending returns the items whose ids carry the pending marker.
func (l *List[T]) Pending(isPending func(id string) bool) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []T
	for _, it := range l.items {
		if isPending(it.GetID()) {
			out = append(out, it)
		}
	}
	return out
}

func (l *List[T]) indexLocked(id string) int {
	for i, it := range l.items {
		if it.GetID() == id {
			return i
		}
	}
	return -1
}

// Splice changes a list and returns a function that undoes exactly that change.
type Splice[T Identified] func(l *List[T]) (undo func())

// Prepend inserts item at the front. Used for creations.
func Prepend[T Identified](item T) Splice[T] {
	return func(l *List[T]) func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.items = append([]T{item}, l.items...)
		id := item.GetID()
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if i := l.indexLocked(id); i >= 0 {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
			}
		}
	}
}

// ReplaceByID swaps the item sharing item's id in place. Used for edits.
// Missing ids leave the list unchanged.
func ReplaceByID[T Identified](item T) Splice[T] {
	return func(l *List[T]) func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		id := item.GetID()
		i := l.indexLocked(id)
		if i < 0 {
			return func() {}
		}
		prev := l.items[i]
		l.items[i] = item
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if j := l.indexLocked(id); j >= 0 {
				l.items[j] = prev
			}
		}
	}
}

// RemoveByID deletes the item with id. Used for deletes. Undo reinserts it
// at its old position.
func RemoveByID[T Identified](id string) Splice[T] {
	return func(l *List[T]) func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		i := l.indexLocked(id)
		if i < 0 {
			return func() {}
		}
		prev := l.items[i]
		l.items = append(l.items[:i:i], l.items[i+1:]...)
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.indexLocked(id) >= 0 {
				return
			}
			at := min(i, len(l.items))
			l.items = append(l.items[:at:at], append([]T{prev}, l.items[at:]...)...)
		}
	}
}

// UpsertByID replaces the item sharing item's id or prepends it.
func UpsertByID[T Identified](item T) Splice[T] {
	return func(l *List[T]) func() {
		l.mu.RLock()
		exists := l.indexLocked(item.GetID()) >= 0
		l.mu.RUnlock()
		if exists {
			return ReplaceByID(item)(l)
		}
		return Prepend(item)(l)
	}
}
