package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

func TestGraph_UpsertEntity(t *testing.T) {
	noteA := valueobjects.NewNoteID()
	noteB := valueobjects.NewNoteID()

	tests := []struct {
		name        string
		kind        entities.EntityKind
		label       string
		expectError bool
	}{
		{
			name:  "creates a new entity",
			kind:  entities.KindPlace,
			label: "Paris",
		},
		{
			name:  "accepts concept kind",
			kind:  entities.KindConcept,
			label: "Impressionism",
		},
		{
			name:        "rejects empty label",
			kind:        entities.KindPlace,
			label:       "   ",
			expectError: true,
		},
		{
			name:        "rejects unknown kind",
			kind:        entities.EntityKind("vehicle"),
			label:       "Bicycle",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			entity, err := g.UpsertEntity(tt.kind, tt.label, nil, noteA)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, entity)
				assert.Equal(t, 0, g.EntityCount())
				return
			}

			require.NoError(t, err)
			require.NotNil(t, entity)
			assert.Equal(t, 1, g.EntityCount())
			assert.True(t, entity.HasSourceNote(noteA))
		})
	}

	t.Run("merges by normalized kind and label", func(t *testing.T) {
		g := NewGraph()

		first, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
		require.NoError(t, err)

		second, err := g.UpsertEntity(entities.KindPlace, "  paris ", map[string]interface{}{"country": "France"}, noteB)
		require.NoError(t, err)

		assert.Equal(t, 1, g.EntityCount())
		assert.True(t, first.ID().Equals(second.ID()))
		assert.Equal(t, 2, second.SourceNoteCount())
		assert.Equal(t, "France", second.Attributes()["country"])
		// The original label casing is kept
		assert.Equal(t, "Paris", second.Label())
	})

	t.Run("same label under different kinds stays distinct", func(t *testing.T) {
		g := NewGraph()

		_, err := g.UpsertEntity(entities.KindPlace, "Mercury", nil, noteA)
		require.NoError(t, err)
		_, err = g.UpsertEntity(entities.KindConcept, "Mercury", nil, noteA)
		require.NoError(t, err)

		assert.Equal(t, 2, g.EntityCount())
	})
}

func TestGraph_RemoveSourceReference(t *testing.T) {
	noteA := valueobjects.NewNoteID()
	noteB := valueobjects.NewNoteID()

	t.Run("keeps entity while other notes reference it", func(t *testing.T) {
		g := NewGraph()
		entity, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
		require.NoError(t, err)
		_, err = g.UpsertEntity(entities.KindPlace, "Paris", nil, noteB)
		require.NoError(t, err)

		deleted, err := g.RemoveSourceReference(entity.ID(), noteA)
		require.NoError(t, err)

		assert.False(t, deleted)
		assert.Equal(t, 1, g.EntityCount())
		assert.True(t, entity.HasSourceNote(noteB))
	})

	t.Run("deletes orphaned entity and cascades its connections", func(t *testing.T) {
		g := NewGraph()
		paris, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
		require.NoError(t, err)
		louvre, err := g.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
		require.NoError(t, err)
		_, err = g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
		require.NoError(t, err)
		require.Equal(t, 1, g.ConnectionCount())

		deleted, err := g.RemoveSourceReference(paris.ID(), noteA)
		require.NoError(t, err)

		assert.True(t, deleted)
		assert.Equal(t, 1, g.EntityCount())
		assert.Equal(t, 0, g.ConnectionCount())
		_, found := g.EntityByLabel(entities.KindPlace, "Paris")
		assert.False(t, found)
		assert.NoError(t, g.Validate())
	})

	t.Run("unknown entity returns not found", func(t *testing.T) {
		g := NewGraph()
		_, err := g.RemoveSourceReference(valueobjects.NewEntityID(), noteA)
		assert.True(t, pkgerrors.IsNotFound(err))
	})
}

func TestGraph_UpsertConnection(t *testing.T) {
	noteA := valueobjects.NewNoteID()

	setup := func(t *testing.T) (*Graph, *entities.Entity, *entities.Entity) {
		g := NewGraph()
		paris, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
		require.NoError(t, err)
		louvre, err := g.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
		require.NoError(t, err)
		return g, paris, louvre
	}

	t.Run("creates a derived connection", func(t *testing.T) {
		g, paris, louvre := setup(t)

		conn, err := g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
		require.NoError(t, err)

		assert.Equal(t, 1, g.ConnectionCount())
		assert.True(t, conn.IsDerived())
		assert.Equal(t, 1.0, conn.Confidence())
	})

	t.Run("is idempotent for the same tuple", func(t *testing.T) {
		g, paris, louvre := setup(t)

		first, err := g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
		require.NoError(t, err)
		second, err := g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
		require.NoError(t, err)

		assert.Equal(t, 1, g.ConnectionCount())
		assert.True(t, first.ID().Equals(second.ID()))
	})

	t.Run("explicit and derived between the same pair coexist", func(t *testing.T) {
		g, paris, louvre := setup(t)

		_, err := g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
		require.NoError(t, err)
		_, err = g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionExplicit, valueobjects.NoteID{}, 1.0)
		require.NoError(t, err)

		assert.Equal(t, 2, g.ConnectionCount())
	})

	t.Run("rejects self connections", func(t *testing.T) {
		g, paris, _ := setup(t)

		_, err := g.UpsertConnection(paris.ID(), paris.ID(), entities.ConnectionExplicit, valueobjects.NoteID{}, 1.0)
		assert.Error(t, err)
		assert.Equal(t, 0, g.ConnectionCount())
	})

	t.Run("rejects missing endpoints", func(t *testing.T) {
		g, paris, _ := setup(t)

		_, err := g.UpsertConnection(paris.ID(), valueobjects.NewEntityID(), entities.ConnectionDerived, noteA, 1.0)
		assert.True(t, pkgerrors.IsNotFound(err))
	})
}

func TestGraph_RemoveDerivedConnections(t *testing.T) {
	noteA := valueobjects.NewNoteID()
	noteB := valueobjects.NewNoteID()

	g := NewGraph()
	paris, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
	require.NoError(t, err)
	louvre, err := g.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
	require.NoError(t, err)
	seine, err := g.UpsertEntity(entities.KindPlace, "Seine", nil, noteB)
	require.NoError(t, err)

	_, err = g.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
	require.NoError(t, err)
	_, err = g.UpsertConnection(paris.ID(), seine.ID(), entities.ConnectionDerived, noteB, 1.0)
	require.NoError(t, err)
	_, err = g.UpsertConnection(louvre.ID(), seine.ID(), entities.ConnectionExplicit, valueobjects.NoteID{}, 1.0)
	require.NoError(t, err)

	removed := g.RemoveDerivedConnections(noteA)

	require.Len(t, removed, 1)
	assert.True(t, removed[0].DerivedFromNoteID().Equals(noteA))
	// The other note's derivation and the explicit connection survive
	assert.Equal(t, 2, g.ConnectionCount())

	// A second pass is a no-op
	assert.Empty(t, g.RemoveDerivedConnections(noteA))
}

func TestGraph_Query(t *testing.T) {
	noteA := valueobjects.NewNoteID()

	g := NewGraph()
	paris, err := g.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
	require.NoError(t, err)
	monet, err := g.UpsertEntity(entities.KindPerson, "Monet", nil, noteA)
	require.NoError(t, err)
	_, err = g.UpsertConnection(monet.ID(), paris.ID(), entities.ConnectionDerived, noteA, 1.0)
	require.NoError(t, err)

	t.Run("typed entity predicate", func(t *testing.T) {
		people := g.QueryEntities(func(e *entities.Entity) bool {
			return e.Kind() == entities.KindPerson
		})
		require.Len(t, people, 1)
		assert.Equal(t, "Monet", people[0].Label())
	})

	t.Run("typed connection predicate", func(t *testing.T) {
		derived := g.QueryConnections(func(c *entities.Connection) bool {
			return c.IsDerived()
		})
		assert.Len(t, derived, 1)
	})

	t.Run("untyped predicate spans both element types", func(t *testing.T) {
		all := g.Query(func(interface{}) bool { return true })
		assert.Len(t, all, 3)
	})
}

func TestGraph_Validate(t *testing.T) {
	g := NewGraph()
	assert.NoError(t, g.Validate())

	noteA := valueobjects.NewNoteID()
	a, err := g.UpsertEntity(entities.KindConcept, "Jazz", nil, noteA)
	require.NoError(t, err)
	b, err := g.UpsertEntity(entities.KindPerson, "Coltrane", nil, noteA)
	require.NoError(t, err)
	_, err = g.UpsertConnection(a.ID(), b.ID(), entities.ConnectionDerived, noteA, 1.0)
	require.NoError(t, err)

	assert.NoError(t, g.Validate())
}
