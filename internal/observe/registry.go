// Package observe provides a small subscription registry whose entries are
// removed through the handle returned when they were added.
package observe

import "sync"

// Handle identifies a registered callback. The zero Handle is never issued.
type Handle uint64

type entry[T any] struct {
	handle Handle
	fn     func(T)
}

// Registry holds callbacks in registration order. The zero value is ready to
// use. Emit never holds the registry lock while running callbacks, so a
// callback may add or remove entries.
type Registry[T any] struct {
	mu      sync.Mutex
	next    Handle
	entries []entry[T]
}

func (r *Registry[T]) Add(fn func(T)) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry[T]{handle: r.next, fn: fn})
	return r.next
}

// Remove reports whether h was registered.
func (r *Registry[T]) Remove(h Handle) bool {
	if h == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry[T]) Emit(v T) {
	r.mu.Lock()
	fns := make([]func(T), len(r.entries))
	for i, e := range r.entries {
		fns[i] = e.fn
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
