package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type identifiers for every event the engine appends.
const (
	EventEntityUpserted     = "entity.upserted"
	EventConnectionUpserted = "connection.upserted"
	EventConnectionRemoved  = "connection.removed"
	EventNoteContentUpdated = "note.content_updated"
	EventNoteDeleted        = "note.deleted"
	EventLayoutSaved        = "layout.saved"
)

// Envelope wraps every persisted event. The payload stays opaque at this
// level; the schema registry validates and migrates it against the version
// recorded here.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"` // milliseconds since epoch
	StoreID       string          `json:"storeId"`
	SessionID     string          `json:"sessionId"`
	SerializedAt  int64           `json:"serializedAt"`
	SchemaVersion string          `json:"schemaVersion"`
}

// NewEnvelope wraps a payload for appending. The payload must be JSON
// serializable.
func NewEnvelope(eventType string, payload interface{}, storeID, sessionID, schemaVersion string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	now := time.Now().UnixMilli()
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Payload:       raw,
		Timestamp:     now,
		StoreID:       storeID,
		SessionID:     sessionID,
		SerializedAt:  now,
		SchemaVersion: schemaVersion,
	}, nil
}

// DecodePayload unmarshals the envelope's payload into dst
func (e Envelope) DecodePayload(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// WithPayload returns a copy of the envelope carrying a replacement payload
// and schema version. Used after migration; all other fields are preserved.
func (e Envelope) WithPayload(payload json.RawMessage, schemaVersion string) Envelope {
	out := e
	out.Payload = payload
	out.SchemaVersion = schemaVersion
	return out
}

// Time returns the event timestamp as a time.Time
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
