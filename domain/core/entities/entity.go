package entities

import (
	"strings"
	"time"

	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

// EntityKind classifies what an entity refers to
type EntityKind string

const (
	KindPerson       EntityKind = "person"
	KindPlace        EntityKind = "place"
	KindConcept      EntityKind = "concept"
	KindEvent        EntityKind = "event"
	KindOrganization EntityKind = "organization"
)

// IsValid reports whether the kind is one of the known values
func (k EntityKind) IsValid() bool {
	switch k {
	case KindPerson, KindPlace, KindConcept, KindEvent, KindOrganization:
		return true
	}
	return false
}

// Entity is a graph node representing a referent shared across notes.
// (kind, label) forms a case-insensitive de-duplication key; the entity is
// kept alive by the set of notes that reference it.
type Entity struct {
	id            valueobjects.EntityID
	kind          EntityKind
	label         string
	attributes    map[string]interface{}
	sourceNoteIDs map[valueobjects.NoteID]struct{}
	createdAt     time.Time
	updatedAt     time.Time
}

// DedupKey returns the normalized de-duplication key for a (kind, label) pair.
// Matching is exact normalized-label equality; fuzzy matching is deliberately
// not attempted.
func DedupKey(kind EntityKind, label string) string {
	return string(kind) + "|" + strings.ToLower(strings.TrimSpace(label))
}

// NewEntity creates an entity referenced by an initial source note
func NewEntity(kind EntityKind, label string, attributes map[string]interface{}, sourceNoteID valueobjects.NoteID) (*Entity, error) {
	if strings.TrimSpace(label) == "" {
		return nil, pkgerrors.NewValidationError("entity label cannot be empty")
	}
	if !kind.IsValid() {
		return nil, pkgerrors.NewValidationError("unknown entity kind: " + string(kind))
	}

	now := time.Now()
	e := &Entity{
		id:            valueobjects.NewEntityID(),
		kind:          kind,
		label:         strings.TrimSpace(label),
		attributes:    make(map[string]interface{}),
		sourceNoteIDs: make(map[valueobjects.NoteID]struct{}),
		createdAt:     now,
		updatedAt:     now,
	}

	for k, v := range attributes {
		e.attributes[k] = v
	}
	if !sourceNoteID.IsZero() {
		e.sourceNoteIDs[sourceNoteID] = struct{}{}
	}

	return e, nil
}

// ReconstructEntity rebuilds an entity from replayed event data
func ReconstructEntity(
	id valueobjects.EntityID,
	kind EntityKind,
	label string,
	attributes map[string]interface{},
	sourceNoteIDs []valueobjects.NoteID,
	createdAt time.Time,
) (*Entity, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("entity ID is required for reconstruction")
	}
	if strings.TrimSpace(label) == "" {
		return nil, pkgerrors.NewValidationError("entity label cannot be empty")
	}

	e := &Entity{
		id:            id,
		kind:          kind,
		label:         strings.TrimSpace(label),
		attributes:    make(map[string]interface{}),
		sourceNoteIDs: make(map[valueobjects.NoteID]struct{}),
		createdAt:     createdAt,
		updatedAt:     createdAt,
	}
	for k, v := range attributes {
		e.attributes[k] = v
	}
	for _, n := range sourceNoteIDs {
		e.sourceNoteIDs[n] = struct{}{}
	}

	return e, nil
}

// ID returns the entity's unique identifier
func (e *Entity) ID() valueobjects.EntityID {
	return e.id
}

// Kind returns the entity's kind
func (e *Entity) Kind() EntityKind {
	return e.kind
}

// Label returns the entity's display label
func (e *Entity) Label() string {
	return e.label
}

// DedupKey returns the entity's normalized (kind, label) key
func (e *Entity) DedupKey() string {
	return DedupKey(e.kind, e.label)
}

// Attributes returns a copy of the entity's attributes
func (e *Entity) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{}, len(e.attributes))
	for k, v := range e.attributes {
		attrs[k] = v
	}
	return attrs
}

// MergeAttributes folds new attributes into the entity. Existing keys are
// overwritten; the entity is never shrunk by a merge.
func (e *Entity) MergeAttributes(attributes map[string]interface{}) {
	if len(attributes) == 0 {
		return
	}
	for k, v := range attributes {
		e.attributes[k] = v
	}
	e.updatedAt = time.Now()
}

// AddSourceNote records that a note references this entity
func (e *Entity) AddSourceNote(noteID valueobjects.NoteID) {
	if noteID.IsZero() {
		return
	}
	if _, ok := e.sourceNoteIDs[noteID]; ok {
		return
	}
	e.sourceNoteIDs[noteID] = struct{}{}
	e.updatedAt = time.Now()
}

// RemoveSourceNote drops a note reference. Returns true when the reference
// existed.
func (e *Entity) RemoveSourceNote(noteID valueobjects.NoteID) bool {
	if _, ok := e.sourceNoteIDs[noteID]; !ok {
		return false
	}
	delete(e.sourceNoteIDs, noteID)
	e.updatedAt = time.Now()
	return true
}

// HasSourceNote reports whether the note references this entity
func (e *Entity) HasSourceNote(noteID valueobjects.NoteID) bool {
	_, ok := e.sourceNoteIDs[noteID]
	return ok
}

// SourceNoteIDs returns a copy of the referencing note IDs
func (e *Entity) SourceNoteIDs() []valueobjects.NoteID {
	ids := make([]valueobjects.NoteID, 0, len(e.sourceNoteIDs))
	for id := range e.sourceNoteIDs {
		ids = append(ids, id)
	}
	return ids
}

// SourceNoteCount returns how many notes reference this entity
func (e *Entity) SourceNoteCount() int {
	return len(e.sourceNoteIDs)
}

// IsOrphaned reports whether no note references the entity anymore
func (e *Entity) IsOrphaned() bool {
	return len(e.sourceNoteIDs) == 0
}

// CreatedAt returns when the entity was first derived or created
func (e *Entity) CreatedAt() time.Time {
	return e.createdAt
}

// UpdatedAt returns when the entity was last merged into
func (e *Entity) UpdatedAt() time.Time {
	return e.updatedAt
}
