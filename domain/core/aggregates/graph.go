package aggregates

import (
	"errors"
	"sync"

	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

// Graph is the aggregate root for the in-memory entity/connection graph.
// It owns all entities and connections and enforces the uniqueness
// invariants; consumers mutate it only through this API.
//
// The graph is safe for concurrent use. Entity and connection pointers
// handed out remain owned by the graph and should not be retained across
// mutations.
type Graph struct {
	mu             sync.RWMutex
	entities       map[valueobjects.EntityID]*entities.Entity
	entityKeys     map[string]valueobjects.EntityID // (kind, label) dedup key -> ID
	connections    map[valueobjects.ConnectionID]*entities.Connection
	connectionKeys map[string]valueobjects.ConnectionID // (source, target, kind) -> ID
	version        int
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		entities:       make(map[valueobjects.EntityID]*entities.Entity),
		entityKeys:     make(map[string]valueobjects.EntityID),
		connections:    make(map[valueobjects.ConnectionID]*entities.Connection),
		connectionKeys: make(map[string]valueobjects.ConnectionID),
		version:        1,
	}
}

// UpsertEntity merges into an existing entity when the normalized
// (kind, label) key matches, otherwise creates a new one. The source note is
// added to the entity's reference set either way.
func (g *Graph) UpsertEntity(
	kind entities.EntityKind,
	label string,
	attributes map[string]interface{},
	sourceNoteID valueobjects.NoteID,
) (*entities.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := entities.DedupKey(kind, label)

	if id, ok := g.entityKeys[key]; ok {
		existing := g.entities[id]
		existing.MergeAttributes(attributes)
		existing.AddSourceNote(sourceNoteID)
		g.version++
		return existing, nil
	}

	entity, err := entities.NewEntity(kind, label, attributes, sourceNoteID)
	if err != nil {
		return nil, err
	}

	g.entities[entity.ID()] = entity
	g.entityKeys[key] = entity.ID()
	g.version++

	return entity, nil
}

// RemoveSourceReference drops a note from an entity's reference set. When the
// set becomes empty the entity is deleted and all its connections cascade.
// Returns true when the entity was deleted.
func (g *Graph) RemoveSourceReference(entityID valueobjects.EntityID, noteID valueobjects.NoteID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entity, ok := g.entities[entityID]
	if !ok {
		return false, pkgerrors.NewNotFoundError("entity")
	}

	entity.RemoveSourceNote(noteID)
	if !entity.IsOrphaned() {
		g.version++
		return false, nil
	}

	g.deleteEntityLocked(entity)
	g.version++
	return true, nil
}

// UpsertConnection creates a connection unless one already exists for the
// same (source, target, kind) tuple, in which case the existing connection is
// returned unchanged. Both endpoints must exist.
func (g *Graph) UpsertConnection(
	source, target valueobjects.EntityID,
	kind entities.ConnectionKind,
	derivedFromNoteID valueobjects.NoteID,
	confidence float64,
) (*entities.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[source]; !ok {
		return nil, pkgerrors.NewNotFoundError("source entity")
	}
	if _, ok := g.entities[target]; !ok {
		return nil, pkgerrors.NewNotFoundError("target entity")
	}

	key := entities.ConnectionKey(source, target, kind)
	if id, ok := g.connectionKeys[key]; ok {
		return g.connections[id], nil
	}

	conn, err := entities.NewConnection(source, target, kind, derivedFromNoteID, confidence)
	if err != nil {
		return nil, err
	}

	g.connections[conn.ID()] = conn
	g.connectionKeys[key] = conn.ID()
	g.version++

	return conn, nil
}

// RestoreEntity inserts a previously persisted entity, preserving its ID and
// timestamps. When the (kind, label) key is already taken the existing entity
// wins and is returned unchanged.
func (g *Graph) RestoreEntity(entity *entities.Entity) (*entities.Entity, error) {
	if entity == nil {
		return nil, errors.New("entity cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := entity.DedupKey()
	if id, ok := g.entityKeys[key]; ok {
		return g.entities[id], nil
	}

	g.entities[entity.ID()] = entity
	g.entityKeys[key] = entity.ID()
	g.version++

	return entity, nil
}

// RestoreConnection inserts a previously persisted connection, preserving its
// ID. Used by replay; the uniqueness invariant still applies.
func (g *Graph) RestoreConnection(conn *entities.Connection) (*entities.Connection, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[conn.SourceEntityID()]; !ok {
		return nil, pkgerrors.NewNotFoundError("source entity")
	}
	if _, ok := g.entities[conn.TargetEntityID()]; !ok {
		return nil, pkgerrors.NewNotFoundError("target entity")
	}

	key := conn.Key()
	if id, ok := g.connectionKeys[key]; ok {
		return g.connections[id], nil
	}

	g.connections[conn.ID()] = conn
	g.connectionKeys[key] = conn.ID()
	g.version++

	return conn, nil
}

// RemoveConnection deletes a connection by ID
func (g *Graph) RemoveConnection(id valueobjects.ConnectionID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, ok := g.connections[id]
	if !ok {
		return pkgerrors.NewNotFoundError("connection")
	}

	delete(g.connections, id)
	delete(g.connectionKeys, conn.Key())
	g.version++
	return nil
}

// RemoveDerivedConnections removes every derived connection attributed to the
// note and returns the removed connections. Called before a re-synthesis pass
// so stale derivations do not survive an edit.
func (g *Graph) RemoveDerivedConnections(noteID valueobjects.NoteID) []*entities.Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []*entities.Connection
	for id, conn := range g.connections {
		if conn.IsDerived() && conn.DerivedFromNoteID().Equals(noteID) {
			delete(g.connections, id)
			delete(g.connectionKeys, conn.Key())
			removed = append(removed, conn)
		}
	}
	if len(removed) > 0 {
		g.version++
	}
	return removed
}

// EntityByID retrieves an entity by ID
func (g *Graph) EntityByID(id valueobjects.EntityID) (*entities.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	return e, ok
}

// EntityByLabel retrieves an entity by its normalized (kind, label) key
func (g *Graph) EntityByLabel(kind entities.EntityKind, label string) (*entities.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.entityKeys[entities.DedupKey(kind, label)]
	if !ok {
		return nil, false
	}
	return g.entities[id], true
}

// Entities returns all entities
func (g *Graph) Entities() []*entities.Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*entities.Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	return out
}

// Connections returns all connections
func (g *Graph) Connections() []*entities.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*entities.Connection, 0, len(g.connections))
	for _, c := range g.connections {
		out = append(out, c)
	}
	return out
}

// ConnectionsForEntity returns all connections touching the entity
func (g *Graph) ConnectionsForEntity(entityID valueobjects.EntityID) []*entities.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entities.Connection
	for _, c := range g.connections {
		if c.Touches(entityID) {
			out = append(out, c)
		}
	}
	return out
}

// EntitiesForNote returns all entities referenced by the note
func (g *Graph) EntitiesForNote(noteID valueobjects.NoteID) []*entities.Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entities.Entity
	for _, e := range g.entities {
		if e.HasSourceNote(noteID) {
			out = append(out, e)
		}
	}
	return out
}

// Query filters entities and connections with a single predicate. Each match
// is either an *entities.Entity or an *entities.Connection.
func (g *Graph) Query(predicate func(interface{}) bool) []interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []interface{}
	for _, e := range g.entities {
		if predicate(e) {
			out = append(out, e)
		}
	}
	for _, c := range g.connections {
		if predicate(c) {
			out = append(out, c)
		}
	}
	return out
}

// QueryEntities filters entities with a typed predicate
func (g *Graph) QueryEntities(predicate func(*entities.Entity) bool) []*entities.Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entities.Entity
	for _, e := range g.entities {
		if predicate(e) {
			out = append(out, e)
		}
	}
	return out
}

// QueryConnections filters connections with a typed predicate
func (g *Graph) QueryConnections(predicate func(*entities.Connection) bool) []*entities.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entities.Connection
	for _, c := range g.connections {
		if predicate(c) {
			out = append(out, c)
		}
	}
	return out
}

// EntityCount returns the number of entities
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// ConnectionCount returns the number of connections
func (g *Graph) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// Version returns the mutation counter
func (g *Graph) Version() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// Validate ensures graph invariants
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, conn := range g.connections {
		if _, ok := g.entities[conn.SourceEntityID()]; !ok {
			return errors.New("connection references non-existent source entity")
		}
		if _, ok := g.entities[conn.TargetEntityID()]; !ok {
			return errors.New("connection references non-existent target entity")
		}
	}
	if len(g.entityKeys) != len(g.entities) {
		return errors.New("entity key index out of sync")
	}
	if len(g.connectionKeys) != len(g.connections) {
		return errors.New("connection key index out of sync")
	}
	return nil
}

// deleteEntityLocked removes the entity and cascades deletion of its
// connections. Caller holds g.mu.
func (g *Graph) deleteEntityLocked(entity *entities.Entity) {
	for id, conn := range g.connections {
		if conn.Touches(entity.ID()) {
			delete(g.connections, id)
			delete(g.connectionKeys, conn.Key())
		}
	}
	delete(g.entities, entity.ID())
	delete(g.entityKeys, entity.DedupKey())
}
