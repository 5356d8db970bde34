// ABOUTME: Tenant-keyed registry of lazily constructed values with explicit invalidation
// ABOUTME: Replaces module-level singleton client caches with per-tenant scoped entries

package registry

import "sync"

// Registry holds one lazily constructed value per tenant. Construction runs
// at most once per tenant until Invalidate is called for that tenant; a
// failed construction is not cached, so the next Get retries.
//
// It is safe for concurrent use. The constructor may be called concurrently
// for different tenants but never concurrently for the same tenant.
type Registry[T any] struct {
	mu      sync.Mutex
	build   func(companyID string) (T, error)
	entries map[string]*entry[T]
}

type entry[T any] struct {
	once  sync.Once
	value T
	err   error
}

// New creates a registry backed by the given per-tenant constructor.
func New[T any](build func(companyID string) (T, error)) *Registry[T] {
	return &Registry[T]{
		build:   build,
		entries: make(map[string]*entry[T]),
	}
}

// Get returns the tenant's value, constructing it on first use.
func (r *Registry[T]) Get(companyID string) (T, error) {
	r.mu.Lock()
	e, ok := r.entries[companyID]
	if !ok {
		e = &entry[T]{}
		r.entries[companyID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = r.build(companyID)
	})

	if e.err != nil {
		// Drop the failed entry so a later Get can retry construction.
		r.mu.Lock()
		if r.entries[companyID] == e {
			delete(r.entries, companyID)
		}
		r.mu.Unlock()
		var zero T
		return zero, e.err
	}
	return e.value, nil
}

// Invalidate discards the tenant's cached value. The next Get reconstructs it.
func (r *Registry[T]) Invalidate(companyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, companyID)
}

// Len reports the number of cached tenants.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
