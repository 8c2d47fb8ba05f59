package schema

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/domain/events"
	pkgerrors "graphsync/pkg/errors"
)

type samplePayload struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
}

func sampleProto() interface{} { return &samplePayload{} }

func TestRegistry_Register(t *testing.T) {
	t.Run("duplicate registration fails", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("sample.created", "1.0", sampleProto))

		err := r.Register("sample.created", "1.0", sampleProto)
		assert.True(t, pkgerrors.IsDuplicateSchema(err))
	})

	t.Run("highest version becomes active regardless of order", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("sample.created", "1.10", sampleProto))
		require.NoError(t, r.Register("sample.created", "1.2", sampleProto))

		active, err := r.ActiveVersion("sample.created")
		require.NoError(t, err)
		// 1.10 > 1.2 under numeric part ordering
		assert.Equal(t, "1.10", active)
	})

	t.Run("rejects malformed versions", func(t *testing.T) {
		r := NewRegistry()
		assert.Error(t, r.Register("sample.created", "one.zero", sampleProto))
	})
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("sample.created", "1.0", sampleProto))

	tests := []struct {
		name       string
		payload    string
		valid      bool
		errorField string
	}{
		{
			name:    "valid payload",
			payload: `{"name":"alpha","count":3}`,
			valid:   true,
		},
		{
			name:       "missing required field",
			payload:    `{"count":3}`,
			valid:      false,
			errorField: "Name",
		},
		{
			name:       "constraint violation",
			payload:    `{"name":"alpha","count":-1}`,
			valid:      false,
			errorField: "Count",
		},
		{
			name:       "unknown field",
			payload:    `{"name":"alpha","count":3,"extra":true}`,
			valid:      false,
			errorField: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Validate("sample.created", "1.0", json.RawMessage(tt.payload))
			require.NoError(t, err)

			assert.Equal(t, tt.valid, result.IsValid)
			if !tt.valid {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.errorField, result.Errors[0].Field)
			}
		})
	}

	t.Run("unknown schema is an error, not a result", func(t *testing.T) {
		_, err := r.Validate("sample.created", "9.9", json.RawMessage(`{}`))
		assert.True(t, pkgerrors.IsUnknownSchema(err))

		_, err = r.Validate("never.registered", "1.0", json.RawMessage(`{}`))
		assert.True(t, pkgerrors.IsUnknownSchema(err))
	})
}

func TestRegistry_Migrate(t *testing.T) {
	type v1 struct {
		Name string `json:"name"`
	}
	type v2 struct {
		DisplayName string `json:"displayName"`
	}
	type v3 struct {
		DisplayName string `json:"displayName"`
		Slug        string `json:"slug"`
	}

	newChainRegistry := func(t *testing.T) *Registry {
		r := NewRegistry()
		require.NoError(t, r.Register("sample.created", "1.0", func() interface{} { return &v1{} }))
		require.NoError(t, r.Register("sample.created", "2.0", func() interface{} { return &v2{} }))
		require.NoError(t, r.Register("sample.created", "3.0", func() interface{} { return &v3{} }))
		require.NoError(t, r.RegisterMigration("sample.created", "1.0", "2.0", func(p json.RawMessage) (json.RawMessage, error) {
			var old v1
			if err := json.Unmarshal(p, &old); err != nil {
				return nil, err
			}
			return json.Marshal(v2{DisplayName: old.Name})
		}))
		require.NoError(t, r.RegisterMigration("sample.created", "2.0", "3.0", func(p json.RawMessage) (json.RawMessage, error) {
			var old v2
			if err := json.Unmarshal(p, &old); err != nil {
				return nil, err
			}
			return json.Marshal(v3{DisplayName: old.DisplayName, Slug: old.DisplayName + "-slug"})
		}))
		return r
	}

	t.Run("chains hops to the active version", func(t *testing.T) {
		r := newChainRegistry(t)

		migrated, version, err := r.Migrate("sample.created", "1.0", json.RawMessage(`{"name":"alpha"}`))
		require.NoError(t, err)

		assert.Equal(t, "3.0", version)
		var out v3
		require.NoError(t, json.Unmarshal(migrated, &out))
		assert.Equal(t, "alpha", out.DisplayName)
		assert.Equal(t, "alpha-slug", out.Slug)
	})

	t.Run("active version passes through unchanged", func(t *testing.T) {
		r := newChainRegistry(t)

		payload := json.RawMessage(`{"displayName":"alpha","slug":"alpha-slug"}`)
		migrated, version, err := r.Migrate("sample.created", "3.0", payload)
		require.NoError(t, err)
		assert.Equal(t, "3.0", version)
		assert.JSONEq(t, string(payload), string(migrated))
	})

	t.Run("gap in the chain fails", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("sample.created", "1.0", func() interface{} { return &v1{} }))
		require.NoError(t, r.Register("sample.created", "3.0", func() interface{} { return &v3{} }))

		_, _, err := r.Migrate("sample.created", "1.0", json.RawMessage(`{"name":"alpha"}`))
		assert.Error(t, err)
	})

	t.Run("backward migrations cannot be registered", func(t *testing.T) {
		r := newChainRegistry(t)
		err := r.RegisterMigration("sample.created", "3.0", "2.0", func(p json.RawMessage) (json.RawMessage, error) {
			return p, nil
		})
		assert.Error(t, err)
	})
}

func TestEngineRegistry(t *testing.T) {
	r, err := NewEngineRegistry()
	require.NoError(t, err)

	t.Run("all engine event types are registered", func(t *testing.T) {
		for _, eventType := range []string{
			events.EventEntityUpserted,
			events.EventConnectionUpserted,
			events.EventConnectionRemoved,
			events.EventNoteContentUpdated,
			events.EventNoteDeleted,
			events.EventLayoutSaved,
		} {
			active, err := r.ActiveVersion(eventType)
			require.NoError(t, err, eventType)
			assert.Equal(t, CurrentVersion, active, eventType)
		}
	})

	t.Run("legacy entity payload migrates and then validates", func(t *testing.T) {
		entityID := uuid.New().String()
		noteID := uuid.New().String()
		legacy, err := json.Marshal(map[string]interface{}{
			"entityId":     entityID,
			"kind":         "place",
			"label":        "Paris",
			"sourceNoteId": noteID,
		})
		require.NoError(t, err)

		migrated, version, err := r.Migrate(events.EventEntityUpserted, "0.9", legacy)
		require.NoError(t, err)
		assert.Equal(t, "1.0", version)

		result, err := r.Validate(events.EventEntityUpserted, version, migrated)
		require.NoError(t, err)
		assert.True(t, result.IsValid)

		var payload events.EntityUpserted
		require.NoError(t, json.Unmarshal(migrated, &payload))
		assert.Equal(t, []string{noteID}, payload.SourceNoteIDs)
	})

	t.Run("current payloads validate without migration", func(t *testing.T) {
		payload, err := json.Marshal(events.NoteContentUpdated{
			NoteID:  uuid.New().String(),
			Content: "Visited the Louvre in Paris.",
		})
		require.NoError(t, err)

		result, err := r.Validate(events.EventNoteContentUpdated, CurrentVersion, payload)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})
}
