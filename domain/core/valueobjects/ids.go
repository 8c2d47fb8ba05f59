package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// EntityID is a value object representing a unique entity identifier
// Value objects are immutable and have no identity beyond their value
type EntityID struct {
	value string
}

// NewEntityID creates a new random EntityID
func NewEntityID() EntityID {
	return EntityID{value: uuid.New().String()}
}

// NewEntityIDFromString creates an EntityID from an existing string
func NewEntityIDFromString(id string) (EntityID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return EntityID{}, errors.New("invalid entity ID: " + id)
	}
	return EntityID{value: id}, nil
}

// String returns the string representation of the EntityID
func (id EntityID) String() string {
	return id.value
}

// Equals checks if two EntityIDs are equal
func (id EntityID) Equals(other EntityID) bool {
	return id.value == other.value
}

// IsZero checks if the EntityID is the zero value
func (id EntityID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id EntityID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *EntityID) UnmarshalJSON(data []byte) error {
	return unmarshalIDString(data, &id.value, "EntityID")
}

// NoteID identifies a note in the surrounding editor. Notes live outside the
// graph; the engine only references them.
type NoteID struct {
	value string
}

// NewNoteID creates a new random NoteID. The surrounding editor usually
// supplies note IDs; this is for tests and internal tooling.
func NewNoteID() NoteID {
	return NoteID{value: uuid.New().String()}
}

// NewNoteIDFromString creates a NoteID from an existing string
func NewNoteIDFromString(id string) (NoteID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return NoteID{}, errors.New("invalid note ID: " + id)
	}
	return NoteID{value: id}, nil
}

// String returns the string representation of the NoteID
func (id NoteID) String() string {
	return id.value
}

// Equals checks if two NoteIDs are equal
func (id NoteID) Equals(other NoteID) bool {
	return id.value == other.value
}

// IsZero checks if the NoteID is the zero value
func (id NoteID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id NoteID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *NoteID) UnmarshalJSON(data []byte) error {
	return unmarshalIDString(data, &id.value, "NoteID")
}

// ConnectionID is a value object representing a unique connection identifier
type ConnectionID struct {
	value string
}

// connectionNamespace seeds deterministic derived-connection IDs.
var connectionNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

// NewConnectionID creates a new random ConnectionID
func NewConnectionID() ConnectionID {
	return ConnectionID{value: uuid.New().String()}
}

// DeterministicConnectionID derives a ConnectionID from the connection's
// identity tuple. The same inputs always yield the same ID, so re-synthesis
// regenerates derived connections idempotently.
func DeterministicConnectionID(source, target EntityID, kind, derivedFromNoteID string) ConnectionID {
	seed := source.String() + "|" + target.String() + "|" + kind + "|" + derivedFromNoteID
	return ConnectionID{value: uuid.NewSHA1(connectionNamespace, []byte(seed)).String()}
}

// NewConnectionIDFromString creates a ConnectionID from an existing string
func NewConnectionIDFromString(id string) (ConnectionID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ConnectionID{}, errors.New("invalid connection ID: " + id)
	}
	return ConnectionID{value: id}, nil
}

// String returns the string representation of the ConnectionID
func (id ConnectionID) String() string {
	return id.value
}

// Equals checks if two ConnectionIDs are equal
func (id ConnectionID) Equals(other ConnectionID) bool {
	return id.value == other.value
}

// IsZero checks if the ConnectionID is the zero value
func (id ConnectionID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id ConnectionID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ConnectionID) UnmarshalJSON(data []byte) error {
	return unmarshalIDString(data, &id.value, "ConnectionID")
}

// LayoutID is a value object representing a unique layout identifier
type LayoutID struct {
	value string
}

// NewLayoutID creates a new random LayoutID
func NewLayoutID() LayoutID {
	return LayoutID{value: uuid.New().String()}
}

// NewLayoutIDFromString creates a LayoutID from an existing string
func NewLayoutIDFromString(id string) (LayoutID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return LayoutID{}, errors.New("invalid layout ID: " + id)
	}
	return LayoutID{value: id}, nil
}

// String returns the string representation of the LayoutID
func (id LayoutID) String() string {
	return id.value
}

// Equals checks if two LayoutIDs are equal
func (id LayoutID) Equals(other LayoutID) bool {
	return id.value == other.value
}

// IsZero checks if the LayoutID is the zero value
func (id LayoutID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id LayoutID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *LayoutID) UnmarshalJSON(data []byte) error {
	return unmarshalIDString(data, &id.value, "LayoutID")
}

func unmarshalIDString(data []byte, dst *string, name string) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New(name + " must be a string")
	}
	*dst = string(data[1 : len(data)-1])
	return nil
}
