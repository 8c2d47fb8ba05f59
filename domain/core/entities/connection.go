package entities

import (
	"time"

	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

// ConnectionKind distinguishes user-created from synthesizer-created edges
type ConnectionKind string

const (
	// ConnectionExplicit is created by a direct user action
	ConnectionExplicit ConnectionKind = "explicit"
	// ConnectionDerived is created by the structure synthesizer from note content
	ConnectionDerived ConnectionKind = "derived"
)

// Connection is a graph edge between two entities. At most one connection
// exists per (source, target, kind) tuple; derived connections carry the note
// they were derived from and are regenerated idempotently.
type Connection struct {
	id                valueobjects.ConnectionID
	sourceEntityID    valueobjects.EntityID
	targetEntityID    valueobjects.EntityID
	kind              ConnectionKind
	derivedFromNoteID valueobjects.NoteID
	confidence        float64
	createdAt         time.Time
}

// ConnectionKey returns the uniqueness key for a (source, target, kind) tuple
func ConnectionKey(source, target valueobjects.EntityID, kind ConnectionKind) string {
	return source.String() + "->" + target.String() + "#" + string(kind)
}

// NewConnection creates a connection between two existing entities
func NewConnection(
	source, target valueobjects.EntityID,
	kind ConnectionKind,
	derivedFromNoteID valueobjects.NoteID,
	confidence float64,
) (*Connection, error) {
	if source.IsZero() || target.IsZero() {
		return nil, pkgerrors.NewValidationError("connection requires both source and target entities")
	}
	if source.Equals(target) {
		return nil, pkgerrors.NewValidationError("cannot connect entity to itself")
	}
	if kind != ConnectionExplicit && kind != ConnectionDerived {
		return nil, pkgerrors.NewValidationError("unknown connection kind: " + string(kind))
	}
	if kind == ConnectionDerived && derivedFromNoteID.IsZero() {
		return nil, pkgerrors.NewValidationError("derived connection requires a source note")
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	var id valueobjects.ConnectionID
	if kind == ConnectionDerived {
		// Deterministic so re-synthesis yields the same connection ID
		id = valueobjects.DeterministicConnectionID(source, target, string(kind), derivedFromNoteID.String())
	} else {
		id = valueobjects.NewConnectionID()
	}

	return &Connection{
		id:                id,
		sourceEntityID:    source,
		targetEntityID:    target,
		kind:              kind,
		derivedFromNoteID: derivedFromNoteID,
		confidence:        confidence,
		createdAt:         time.Now(),
	}, nil
}

// ReconstructConnection rebuilds a connection from replayed event data
func ReconstructConnection(
	id valueobjects.ConnectionID,
	source, target valueobjects.EntityID,
	kind ConnectionKind,
	derivedFromNoteID valueobjects.NoteID,
	confidence float64,
	createdAt time.Time,
) (*Connection, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("connection ID is required for reconstruction")
	}
	if source.IsZero() || target.IsZero() {
		return nil, pkgerrors.NewValidationError("connection requires both source and target entities")
	}

	return &Connection{
		id:                id,
		sourceEntityID:    source,
		targetEntityID:    target,
		kind:              kind,
		derivedFromNoteID: derivedFromNoteID,
		confidence:        confidence,
		createdAt:         createdAt,
	}, nil
}

// ID returns the connection's unique identifier
func (c *Connection) ID() valueobjects.ConnectionID {
	return c.id
}

// SourceEntityID returns the source entity
func (c *Connection) SourceEntityID() valueobjects.EntityID {
	return c.sourceEntityID
}

// TargetEntityID returns the target entity
func (c *Connection) TargetEntityID() valueobjects.EntityID {
	return c.targetEntityID
}

// Kind returns whether the connection is explicit or derived
func (c *Connection) Kind() ConnectionKind {
	return c.kind
}

// IsDerived reports whether the synthesizer created this connection
func (c *Connection) IsDerived() bool {
	return c.kind == ConnectionDerived
}

// DerivedFromNoteID returns the note this connection was derived from.
// Zero for explicit connections.
func (c *Connection) DerivedFromNoteID() valueobjects.NoteID {
	return c.derivedFromNoteID
}

// Confidence returns the derivation confidence in [0, 1]
func (c *Connection) Confidence() float64 {
	return c.confidence
}

// Key returns the connection's (source, target, kind) uniqueness key
func (c *Connection) Key() string {
	return ConnectionKey(c.sourceEntityID, c.targetEntityID, c.kind)
}

// Touches reports whether the connection involves the given entity
func (c *Connection) Touches(entityID valueobjects.EntityID) bool {
	return c.sourceEntityID.Equals(entityID) || c.targetEntityID.Equals(entityID)
}

// CreatedAt returns when the connection was created
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}
