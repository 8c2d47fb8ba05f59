package schema

import (
	"encoding/json"

	"graphsync/domain/events"
	pkgerrors "graphsync/pkg/errors"
)

// CurrentVersion is the active payload version for every engine event type
const CurrentVersion = "1.0"

// legacyEntityUpserted is the 0.9 shape of entity.upserted, which carried a
// single source note instead of the reference set
type legacyEntityUpserted struct {
	EntityID     string                 `json:"entityId" validate:"required,uuid4"`
	Kind         string                 `json:"kind" validate:"required"`
	Label        string                 `json:"label" validate:"required"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	SourceNoteID string                 `json:"sourceNoteId" validate:"required,uuid4"`
}

// NewEngineRegistry builds a registry with every engine event schema and
// migration registered
func NewEngineRegistry() (*Registry, error) {
	r := NewRegistry()

	definitions := []struct {
		eventType string
		version   string
		prototype Prototype
	}{
		{events.EventEntityUpserted, "0.9", func() interface{} { return &legacyEntityUpserted{} }},
		{events.EventEntityUpserted, CurrentVersion, func() interface{} { return &events.EntityUpserted{} }},
		{events.EventConnectionUpserted, CurrentVersion, func() interface{} { return &events.ConnectionUpserted{} }},
		{events.EventConnectionRemoved, CurrentVersion, func() interface{} { return &events.ConnectionRemoved{} }},
		{events.EventNoteContentUpdated, CurrentVersion, func() interface{} { return &events.NoteContentUpdated{} }},
		{events.EventNoteDeleted, CurrentVersion, func() interface{} { return &events.NoteDeleted{} }},
		{events.EventLayoutSaved, CurrentVersion, func() interface{} { return &events.LayoutSaved{} }},
	}
	for _, d := range definitions {
		if err := r.Register(d.eventType, d.version, d.prototype); err != nil {
			return nil, err
		}
	}

	if err := r.RegisterMigration(events.EventEntityUpserted, "0.9", "1.0", migrateEntityUpserted09to10); err != nil {
		return nil, err
	}

	return r, nil
}

// migrateEntityUpserted09to10 lifts the singular sourceNoteId into the
// sourceNoteIds list
func migrateEntityUpserted09to10(payload json.RawMessage) (json.RawMessage, error) {
	var old legacyEntityUpserted
	if err := json.Unmarshal(payload, &old); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding 0.9 entity payload")
	}

	migrated := events.EntityUpserted{
		EntityID:   old.EntityID,
		Kind:       old.Kind,
		Label:      old.Label,
		Attributes: old.Attributes,
	}
	if old.SourceNoteID != "" {
		migrated.SourceNoteIDs = []string{old.SourceNoteID}
	}
	return json.Marshal(migrated)
}
