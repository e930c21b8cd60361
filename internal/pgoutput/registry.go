package pgoutput

import "sync"

// Registry maps server-assigned relation ids to their descriptor. It is
// written and read by the decoder only; guarded with a mutex anyway so
// decoding can move to more than one goroutine later without a rewrite
// (the mutex costs nothing in the single-writer case).
type Registry struct {
	mu        sync.RWMutex
	relations map[uint32]RelationDescriptor
}

// NewRegistry returns an empty relation registry.
func NewRegistry() *Registry {
	return &Registry{relations: make(map[uint32]RelationDescriptor)}
}

// Register stores desc, atomically replacing any prior descriptor for the
// same relation id.
func (r *Registry) Register(desc RelationDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relations[desc.RelationID] = desc
}

// Lookup returns the descriptor for id, and whether it is registered.
func (r *Registry) Lookup(id uint32) (RelationDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.relations[id]
	return desc, ok
}

// Len returns the number of registered relations. Mostly useful for tests
// and diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relations)
}
