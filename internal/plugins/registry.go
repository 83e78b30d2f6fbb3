package plugins

import "sync"

// Registry tracks which plugins have had their client resources activated in
// this process. Entries are append-only: activated code cannot be retracted
// without restarting the client, so plugins are never removed here.
type Registry struct {
	mu  sync.RWMutex
	ids []string
	set map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{set: make(map[string]struct{})}
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[id]
	return ok
}

// Add registers the id. Adding an id twice is a no-op.
func (r *Registry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[id]; ok {
		return
	}
	r.set[id] = struct{}{}
	r.ids = append(r.ids, id)
}

// List returns the loaded plugin ids in load order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ids...)
}
