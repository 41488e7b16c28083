package client

import (
	"sort"
	"sync"
)

// Registry maps API names to their single live client.
type Registry interface {
	Get(name string) (*API, bool)
	Put(name string, api *API)
	Has(name string) bool
	Delete(name string)
	Names() []string
}

// MemoryRegistry is an in-memory, thread-safe Registry.
type MemoryRegistry struct {
	mu   sync.RWMutex
	apis map[string]*API
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{apis: make(map[string]*API)}
}

// Get implements Registry.
func (r *MemoryRegistry) Get(name string) (*API, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[name]
	return api, ok
}

// Put implements Registry.
func (r *MemoryRegistry) Put(name string, api *API) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[name] = api
}

// Has implements Registry.
func (r *MemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apis[name]
	return ok
}

// Delete implements Registry.
func (r *MemoryRegistry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.apis, name)
}

// Names implements Registry. The result is sorted.
func (r *MemoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apis))
	for n := range r.apis {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var _ Registry = (*MemoryRegistry)(nil)
