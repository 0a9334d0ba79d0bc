// Package ceiling provides a resource lock in the spirit of the
// priority-ceiling protocol: a value shared between interrupt handlers and
// deferred tasks is only reachable inside a short critical section, and the
// section never waits on anything but the lock itself.
package ceiling

import "sync"

// Resource guards a value of type T.
type Resource[T any] struct {
	mu sync.Mutex
	v  T
}

// New wraps v.
func New[T any](v T) *Resource[T] {
	return &Resource[T]{v: v}
}

// Lock runs fn with exclusive access to the value. fn must not block.
func (r *Resource[T]) Lock(fn func(v *T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.v)
}

// TryLock runs fn only if the resource is free and reports whether it ran.
func (r *Resource[T]) TryLock(fn func(v *T)) bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()
	fn(&r.v)
	return true
}

// With runs fn under the lock and returns its result.
func With[T, R any](r *Resource[T], fn func(v *T) R) R {
	var out R
	r.Lock(func(v *T) { out = fn(v) })
	return out
}
