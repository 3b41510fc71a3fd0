// Package registry holds rank-ordered collections of registered services.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-bus/contracts"
)

var lastServiceID atomic.Int64

// NextServiceID returns a process-wide unique service id
func NextServiceID() int64 {
	return lastServiceID.Add(1)
}

// Entry is one registration
type Entry[T any] struct {
	ID    int64
	Rank  int
	Props contracts.Properties
	Value T
}

// Ranked keeps registrations ordered by rank, highest first, then by
// service id. Writers replace the backing slice so readers can iterate a
// snapshot without holding the lock.
type Ranked[T any] struct {
	mu      sync.RWMutex
	entries []Entry[T]
}

// New creates an empty registry
func New[T any]() *Ranked[T] {
	return &Ranked[T]{}
}

// Add registers value. A service id is assigned when props lacks one and
// written back into props. Adding an id that is already present replaces
// that registration.
func (r *Ranked[T]) Add(value T, props contracts.Properties) Entry[T] {
	id, ok := props.ServiceID()
	if !ok {
		id = NextServiceID()
		if props != nil {
			props[contracts.PropertyServiceID] = id
		}
	}

	entry := Entry[T]{ID: id, Rank: props.Ranking(), Props: props, Value: value}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Entry[T], 0, len(r.entries)+1)
	for _, e := range r.entries {
		if e.ID != id {
			next = append(next, e)
		}
	}
	next = append(next, entry)
	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Rank != next[j].Rank {
			return next[i].Rank > next[j].Rank
		}
		return next[i].ID < next[j].ID
	})
	r.entries = next

	return entry
}

// Remove unregisters the entry with the given service id
func (r *Ranked[T]) Remove(id int64) (Entry[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ID == id {
			next := make([]Entry[T], 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			next = append(next, r.entries[i+1:]...)
			r.entries = next
			return e, true
		}
	}
	return Entry[T]{}, false
}

// RemoveByProperties unregisters the entry whose service id is in props
func (r *Ranked[T]) RemoveByProperties(props contracts.Properties) (Entry[T], bool) {
	id, ok := props.ServiceID()
	if !ok {
		return Entry[T]{}, false
	}
	return r.Remove(id)
}

// RemoveIf unregisters every entry matching fn and returns them
func (r *Ranked[T]) RemoveIf(fn func(Entry[T]) bool) []Entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry[T]
	next := make([]Entry[T], 0, len(r.entries))
	for _, e := range r.entries {
		if fn(e) {
			removed = append(removed, e)
			continue
		}
		next = append(next, e)
	}
	r.entries = next
	return removed
}

// Entries returns the current snapshot. Callers must not modify it.
func (r *Ranked[T]) Entries() []Entry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

// Values returns the registered values in rank order
func (r *Ranked[T]) Values() []T {
	entries := r.Entries()
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

// Len returns the number of registrations
func (r *Ranked[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
