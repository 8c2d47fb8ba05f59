package events

// PositionPayload is an entity screen position inside a layout payload
type PositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EntityUpserted records an entity creation or merge
type EntityUpserted struct {
	EntityID      string                 `json:"entityId" validate:"required,uuid4"`
	Kind          string                 `json:"kind" validate:"required,oneof=person place concept event organization"`
	Label         string                 `json:"label" validate:"required"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	// SourceNoteIDs is the full reference set at the time of the event; an
	// empty set records that the entity lost its last reference
	SourceNoteIDs []string `json:"sourceNoteIds" validate:"omitempty,dive,uuid4"`
}

// ConnectionUpserted records a connection creation
type ConnectionUpserted struct {
	ConnectionID      string  `json:"connectionId" validate:"required"`
	SourceEntityID    string  `json:"sourceEntityId" validate:"required,uuid4"`
	TargetEntityID    string  `json:"targetEntityId" validate:"required,uuid4"`
	Kind              string  `json:"kind" validate:"required,oneof=explicit derived"`
	DerivedFromNoteID string  `json:"derivedFromNoteId,omitempty" validate:"omitempty,uuid4"`
	Confidence        float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// ConnectionRemoved records a connection deletion
type ConnectionRemoved struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	Reason       string `json:"reason,omitempty"`
}

// NoteContentUpdated signals that a note's content changed and the
// synthesizer should re-derive structure for it
type NoteContentUpdated struct {
	NoteID  string `json:"noteId" validate:"required,uuid4"`
	Content string `json:"content"`
}

// NoteDeleted signals that a note was removed
type NoteDeleted struct {
	NoteID string `json:"noteId" validate:"required,uuid4"`
}

// LayoutSaved records a named position snapshot
type LayoutSaved struct {
	LayoutID  string                     `json:"layoutId" validate:"required,uuid4"`
	Name      string                     `json:"name" validate:"required"`
	IsDefault bool                       `json:"isDefault"`
	ClusterID string                     `json:"clusterId,omitempty"`
	Positions map[string]PositionPayload `json:"positions"`
}
