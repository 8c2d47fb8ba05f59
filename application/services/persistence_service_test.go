package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/domain/schema"
	"graphsync/infrastructure/persistence/memory"
	pkgerrors "graphsync/pkg/errors"
)

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry, err := schema.NewEngineRegistry()
	require.NoError(t, err)
	return registry
}

func newInitializedPersistence(t *testing.T) (*PersistenceService, *memory.EventStore, *aggregates.Graph) {
	t.Helper()
	store := memory.NewEventStore(zap.NewNop())
	t.Cleanup(func() { store.Close() })

	graph := aggregates.NewGraph()
	service := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
	require.NoError(t, service.Initialize(store, graph))
	return service, store, graph
}

// failAfterStore delegates to an inner store and fails every Append once the
// budget is spent
type failAfterStore struct {
	ports.EventStore
	remaining int
}

func (f *failAfterStore) Append(ctx context.Context, envelope events.Envelope) (string, error) {
	if f.remaining <= 0 {
		return "", pkgerrors.NewStorageError("append", errors.New("disk full"))
	}
	f.remaining--
	return f.EventStore.Append(ctx, envelope)
}

func TestPersistenceService_Lifecycle(t *testing.T) {
	store := memory.NewEventStore(zap.NewNop())
	t.Cleanup(func() { store.Close() })
	graph := aggregates.NewGraph()

	service := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")

	t.Run("operations before initialize fail", func(t *testing.T) {
		_, err := service.SaveGraphToStore(context.Background())
		assert.True(t, pkgerrors.IsNotInitialized(err))
	})

	t.Run("double initialize fails", func(t *testing.T) {
		require.NoError(t, service.Initialize(store, graph))
		err := service.Initialize(store, graph)
		assert.True(t, pkgerrors.IsAlreadyInitialized(err))
	})

	t.Run("operations after destroy fail", func(t *testing.T) {
		require.NoError(t, service.Destroy())

		_, err := service.SaveGraphToStore(context.Background())
		assert.True(t, pkgerrors.IsNotInitialized(err))
		_, err = service.LoadGraphFromStore(context.Background())
		assert.True(t, pkgerrors.IsNotInitialized(err))
		err = service.Initialize(store, graph)
		assert.True(t, pkgerrors.IsNotInitialized(err))
		assert.True(t, pkgerrors.IsNotInitialized(service.Destroy()))
	})
}

func TestPersistenceService_SaveLoadRoundTrip(t *testing.T) {
	service, store, graph := newInitializedPersistence(t)
	ctx := context.Background()

	noteA := valueobjects.NewNoteID()
	noteB := valueobjects.NewNoteID()

	paris, err := graph.UpsertEntity(entities.KindPlace, "Paris", map[string]interface{}{"country": "France"}, noteA)
	require.NoError(t, err)
	_, err = graph.UpsertEntity(entities.KindPlace, "Paris", nil, noteB)
	require.NoError(t, err)
	louvre, err := graph.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
	require.NoError(t, err)
	_, err = graph.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
	require.NoError(t, err)

	appended, err := service.SaveGraphToStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, appended)

	// Load into a fresh graph through a fresh service against the same store
	restored := aggregates.NewGraph()
	loader := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
	require.NoError(t, loader.Initialize(store, restored))

	applied, err := loader.LoadGraphFromStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	assert.Equal(t, graph.EntityCount(), restored.EntityCount())
	assert.Equal(t, graph.ConnectionCount(), restored.ConnectionCount())

	restoredParis, ok := restored.EntityByLabel(entities.KindPlace, "Paris")
	require.True(t, ok)
	assert.Equal(t, 2, restoredParis.SourceNoteCount())
	assert.Equal(t, "France", restoredParis.Attributes()["country"])

	restoredLouvre, ok := restored.EntityByLabel(entities.KindPlace, "Louvre")
	require.True(t, ok)
	conns := restored.ConnectionsForEntity(restoredLouvre.ID())
	require.Len(t, conns, 1)
	assert.True(t, conns[0].IsDerived())
	assert.True(t, conns[0].Touches(restoredParis.ID()))
	assert.NoError(t, restored.Validate())
}

func TestPersistenceService_LoadPreservesIdentifiers(t *testing.T) {
	service, store, graph := newInitializedPersistence(t)
	ctx := context.Background()

	noteA := valueobjects.NewNoteID()
	paris, err := graph.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
	require.NoError(t, err)
	louvre, err := graph.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
	require.NoError(t, err)
	conn, err := graph.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionExplicit, valueobjects.NoteID{}, 1.0)
	require.NoError(t, err)

	_, err = service.SaveGraphToStore(ctx)
	require.NoError(t, err)

	restored := aggregates.NewGraph()
	loader := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
	require.NoError(t, loader.Initialize(store, restored))
	_, err = loader.LoadGraphFromStore(ctx)
	require.NoError(t, err)

	// Replayed entities and connections keep the IDs they were persisted with
	restoredParis, ok := restored.EntityByID(paris.ID())
	require.True(t, ok)
	assert.Equal(t, "Paris", restoredParis.Label())
	_, ok = restored.EntityByID(louvre.ID())
	require.True(t, ok)

	restoredConns := restored.Connections()
	require.Len(t, restoredConns, 1)
	assert.True(t, conn.ID().Equals(restoredConns[0].ID()))

	// A removal referencing the persisted ID resolves directly
	removal, err := events.NewEnvelope(events.EventConnectionRemoved,
		events.ConnectionRemoved{ConnectionID: conn.ID().String(), Reason: "unlinked"},
		"store-1", "session-1", "1.0")
	require.NoError(t, err)
	_, err = store.Append(ctx, removal)
	require.NoError(t, err)

	fresh := aggregates.NewGraph()
	replayer := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
	require.NoError(t, replayer.Initialize(store, fresh))
	_, err = replayer.LoadGraphFromStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.ConnectionCount())
	assert.Equal(t, 2, fresh.EntityCount())
}

func TestPersistenceService_LoadSkipsInvalidEvents(t *testing.T) {
	service, store, _ := newInitializedPersistence(t)
	ctx := context.Background()

	// A valid entity event
	valid, err := events.NewEnvelope(events.EventEntityUpserted, events.EntityUpserted{
		EntityID:      uuid.New().String(),
		Kind:          "place",
		Label:         "Paris",
		SourceNoteIDs: []string{uuid.New().String()},
	}, "store-1", "session-1", "1.0")
	require.NoError(t, err)
	_, err = store.Append(ctx, valid)
	require.NoError(t, err)

	// A structurally broken one: missing label
	broken, err := events.NewEnvelope(events.EventEntityUpserted, map[string]interface{}{
		"entityId":      uuid.New().String(),
		"kind":          "place",
		"sourceNoteIds": []string{uuid.New().String()},
	}, "store-1", "session-1", "1.0")
	require.NoError(t, err)
	_, err = store.Append(ctx, broken)
	require.NoError(t, err)

	// And one with an unregistered schema version
	orphanVersion := valid
	orphanVersion.EventID = uuid.New().String()
	orphanVersion.SchemaVersion = "7.7"
	_, err = store.Append(ctx, orphanVersion)
	require.NoError(t, err)

	applied, err := service.LoadGraphFromStore(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, service.Graph().EntityCount())
}

func TestPersistenceService_LoadMigratesLegacyEvents(t *testing.T) {
	service, store, _ := newInitializedPersistence(t)
	ctx := context.Background()

	noteID := uuid.New().String()
	legacy, err := events.NewEnvelope(events.EventEntityUpserted, map[string]interface{}{
		"entityId":     uuid.New().String(),
		"kind":         "place",
		"label":        "Paris",
		"sourceNoteId": noteID,
	}, "store-1", "session-1", "0.9")
	require.NoError(t, err)
	_, err = store.Append(ctx, legacy)
	require.NoError(t, err)

	applied, err := service.LoadGraphFromStore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	paris, ok := service.Graph().EntityByLabel(entities.KindPlace, "Paris")
	require.True(t, ok)
	wantNote, err := valueobjects.NewNoteIDFromString(noteID)
	require.NoError(t, err)
	assert.True(t, paris.HasSourceNote(wantNote))
}

func TestPersistenceService_LoadReplaysNoteDeletion(t *testing.T) {
	service, store, graph := newInitializedPersistence(t)
	ctx := context.Background()

	noteA := valueobjects.NewNoteID()
	noteB := valueobjects.NewNoteID()
	paris, err := graph.UpsertEntity(entities.KindPlace, "Paris", nil, noteA)
	require.NoError(t, err)
	_, err = graph.UpsertEntity(entities.KindPlace, "Paris", nil, noteB)
	require.NoError(t, err)
	louvre, err := graph.UpsertEntity(entities.KindPlace, "Louvre", nil, noteA)
	require.NoError(t, err)
	_, err = graph.UpsertConnection(paris.ID(), louvre.ID(), entities.ConnectionDerived, noteA, 1.0)
	require.NoError(t, err)

	_, err = service.SaveGraphToStore(ctx)
	require.NoError(t, err)

	deletion, err := events.NewEnvelope(events.EventNoteDeleted,
		events.NoteDeleted{NoteID: noteA.String()}, "store-1", "session-1", "1.0")
	require.NoError(t, err)
	_, err = store.Append(ctx, deletion)
	require.NoError(t, err)

	restored := aggregates.NewGraph()
	loader := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
	require.NoError(t, loader.Initialize(store, restored))
	_, err = loader.LoadGraphFromStore(ctx)
	require.NoError(t, err)

	// Louvre was only referenced by the deleted note; Paris survives via noteB
	assert.Equal(t, 1, restored.EntityCount())
	assert.Equal(t, 0, restored.ConnectionCount())
	_, ok := restored.EntityByLabel(entities.KindPlace, "Paris")
	assert.True(t, ok)
}

func TestPersistenceService_SaveLayout(t *testing.T) {
	positions := map[string]valueobjects.Position{
		uuid.New().String(): valueobjects.NewPosition(10, 20),
		uuid.New().String(): valueobjects.NewPosition(-5, 42.5),
	}

	t.Run("layouts are retrievable by ID", func(t *testing.T) {
		service, _, _ := newInitializedPersistence(t)

		layout, err := service.SaveLayout(context.Background(), "reading view", false, "", positions)
		require.NoError(t, err)

		loaded, err := service.LoadLayout(layout.ID())
		require.NoError(t, err)
		assert.Equal(t, "reading view", loaded.Name())
		assert.Equal(t, positions, loaded.Positions())
	})

	t.Run("unknown layout is not found", func(t *testing.T) {
		service, _, _ := newInitializedPersistence(t)
		_, err := service.LoadLayout(valueobjects.NewLayoutID())
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("a new default demotes the previous one", func(t *testing.T) {
		service, store, _ := newInitializedPersistence(t)
		ctx := context.Background()

		first, err := service.SaveLayout(ctx, "first", true, "cluster-1", positions)
		require.NoError(t, err)
		second, err := service.SaveLayout(ctx, "second", true, "cluster-1", positions)
		require.NoError(t, err)

		current, err := service.DefaultLayout("cluster-1")
		require.NoError(t, err)
		assert.True(t, second.ID().Equals(current.ID()))
		assert.False(t, first.IsDefault())

		// The demotion is recorded as an appended event, never an edit
		log, err := store.Query(ctx, ports.EventFilter{Types: []string{events.EventLayoutSaved}})
		require.NoError(t, err)
		require.Len(t, log, 3)

		var demoted events.LayoutSaved
		require.NoError(t, json.Unmarshal(log[1].Payload, &demoted))
		assert.Equal(t, first.ID().String(), demoted.LayoutID)
		assert.False(t, demoted.IsDefault)
	})

	t.Run("a failed save keeps the previous default intact", func(t *testing.T) {
		store := memory.NewEventStore(zap.NewNop())
		t.Cleanup(func() { store.Close() })
		ctx := context.Background()

		// Budget covers the first save plus the demotion event; the new
		// layout's own append then fails
		flaky := &failAfterStore{EventStore: store, remaining: 2}
		service := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
		require.NoError(t, service.Initialize(flaky, aggregates.NewGraph()))

		first, err := service.SaveLayout(ctx, "first", true, "cluster-1", positions)
		require.NoError(t, err)

		_, err = service.SaveLayout(ctx, "second", true, "cluster-1", positions)
		require.Error(t, err)

		current, err := service.DefaultLayout("cluster-1")
		require.NoError(t, err)
		assert.True(t, first.ID().Equals(current.ID()))
		assert.True(t, current.IsDefault())
		assert.Len(t, service.Layouts(), 1)
	})

	t.Run("defaults are per cluster", func(t *testing.T) {
		service, _, _ := newInitializedPersistence(t)
		ctx := context.Background()

		one, err := service.SaveLayout(ctx, "one", true, "cluster-1", positions)
		require.NoError(t, err)
		two, err := service.SaveLayout(ctx, "two", true, "cluster-2", positions)
		require.NoError(t, err)

		assert.True(t, one.IsDefault())
		assert.True(t, two.IsDefault())
	})

	t.Run("layouts replay from the log", func(t *testing.T) {
		service, store, _ := newInitializedPersistence(t)
		ctx := context.Background()

		_, err := service.SaveLayout(ctx, "first", true, "cluster-1", positions)
		require.NoError(t, err)
		saved, err := service.SaveLayout(ctx, "second", true, "cluster-1", positions)
		require.NoError(t, err)

		loader := NewPersistenceService(newTestRegistry(t), zap.NewNop(), "store-1")
		require.NoError(t, loader.Initialize(store, aggregates.NewGraph()))
		_, err = loader.LoadGraphFromStore(ctx)
		require.NoError(t, err)

		layouts := loader.Layouts()
		require.Len(t, layouts, 2)
		names := []string{layouts[0].Name(), layouts[1].Name()}
		sort.Strings(names)
		assert.Equal(t, []string{"first", "second"}, names)

		current, err := loader.DefaultLayout("cluster-1")
		require.NoError(t, err)
		assert.True(t, saved.ID().Equals(current.ID()))
	})
}
