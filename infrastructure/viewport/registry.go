// Package viewport tracks where the editor currently draws each entity.
// Layout snapshots read from it.
package viewport

import (
	"sync"

	"graphsync/domain/core/valueobjects"
)

// Registry is a concurrent map of entity ID to screen position. The editor
// pushes position updates; layout saves read the whole set.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]valueobjects.Position
}

// NewRegistry creates an empty position registry
func NewRegistry() *Registry {
	return &Registry{positions: make(map[string]valueobjects.Position)}
}

// Set records an entity's current position
func (r *Registry) Set(entityID string, position valueobjects.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[entityID] = position
}

// SetAll replaces the whole position set
func (r *Registry) SetAll(positions map[string]valueobjects.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = make(map[string]valueobjects.Position, len(positions))
	for entityID, position := range positions {
		r.positions[entityID] = position
	}
}

// Remove drops an entity's position, e.g. after the entity is deleted
func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, entityID)
}

// Positions returns a copy of the current entity positions
func (r *Registry) Positions() map[string]valueobjects.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]valueobjects.Position, len(r.positions))
	for entityID, position := range r.positions {
		out[entityID] = position
	}
	return out
}

// Len returns how many entities have a recorded position
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}
