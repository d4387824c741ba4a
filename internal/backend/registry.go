package backend

import (
	"fmt"
	"sync"
)

// Registry is the declarative catalog of available backends, keyed by role.
// Backends within a role are held in priority order: the first available one
// wins for single-backend calls, and ensemble dispatch takes the head N.
type Registry struct {
	mu    sync.RWMutex
	roles map[Role][]Backend
	byID  map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[Role][]Backend),
		byID:  make(map[string]Backend),
	}
}

// Register adds a backend under its role, appended in priority order.
// Registering a duplicate ID is an error.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[b.ID()]; exists {
		return fmt.Errorf("register backend %q: duplicate id", b.ID())
	}

	r.roles[b.Role()] = append(r.roles[b.Role()], b)
	r.byID[b.ID()] = b
	return nil
}

// ForRole returns the backends registered for a role, in priority order.
// The returned slice is a copy; callers may not mutate registry state.
func (r *Registry) ForRole(role Role) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.roles[role]
	out := make([]Backend, len(list))
	copy(out, list)
	return out
}

// FirstAvailable returns the highest-priority available backend for a role,
// or ErrNoBackend when the role has no reachable backend.
func (r *Registry) FirstAvailable(role Role) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.roles[role] {
		if b.Available() {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoBackend, role)
}

// Get returns a backend by ID.
func (r *Registry) Get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byID[id]
	return b, ok
}

// Count returns the number of registered backends across all roles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
