package badgerstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
)

func newEnvelope(t *testing.T, eventType string) events.Envelope {
	t.Helper()
	envelope, err := events.NewEnvelope(eventType, map[string]string{"k": "v"}, "store-1", "session-1", "1.0")
	require.NoError(t, err)
	return envelope
}

func TestEventStore_AppendAndQuery(t *testing.T) {
	store, err := Open("", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	var appended []string
	for i := 0; i < 5; i++ {
		eventType := "entity.upserted"
		if i%2 == 1 {
			eventType = "note.content_updated"
		}
		envelope := newEnvelope(t, eventType)
		id, err := store.Append(ctx, envelope)
		require.NoError(t, err)
		appended = append(appended, id)
	}

	t.Run("returns all events in append order", func(t *testing.T) {
		log, err := store.Query(ctx, ports.EventFilter{})
		require.NoError(t, err)
		require.Len(t, log, 5)
		for i, envelope := range log {
			assert.Equal(t, appended[i], envelope.EventID)
		}
	})

	t.Run("filters by type", func(t *testing.T) {
		log, err := store.Query(ctx, ports.EventFilter{Types: []string{"note.content_updated"}})
		require.NoError(t, err)
		assert.Len(t, log, 2)
	})

	t.Run("applies the limit", func(t *testing.T) {
		log, err := store.Query(ctx, ports.EventFilter{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, log, 3)
	})
}

func TestEventStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	first := newEnvelope(t, "entity.upserted")
	_, err = store.Append(ctx, first)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	second := newEnvelope(t, "entity.upserted")
	_, err = reopened.Append(ctx, second)
	require.NoError(t, err)

	log, err := reopened.Query(ctx, ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, first.EventID, log[0].EventID)
	assert.Equal(t, second.EventID, log[1].EventID)
}

func TestEventStore_Subscribe(t *testing.T) {
	store, err := Open("", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []string
	unsubscribe := store.Subscribe([]string{"note.deleted"}, func(envelope events.Envelope) {
		mu.Lock()
		received = append(received, envelope.EventID)
		mu.Unlock()
	})
	defer unsubscribe()

	matching := newEnvelope(t, "note.deleted")
	_, err = store.Append(ctx, matching)
	require.NoError(t, err)
	_, err = store.Append(ctx, newEnvelope(t, "entity.upserted"))
	require.NoError(t, err)
	store.WaitIdle()

	mu.Lock()
	assert.Equal(t, []string{matching.EventID}, received)
	mu.Unlock()
}

func TestEventStore_OrderingUnderLoad(t *testing.T) {
	store, err := Open("", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		envelope, err := events.NewEnvelope("entity.upserted",
			map[string]int{"n": i}, "store-1", "session-1", "1.0")
		require.NoError(t, err)
		envelope.EventID = fmt.Sprintf("evt-%04d", i)
		_, err = store.Append(ctx, envelope)
		require.NoError(t, err)
	}

	log, err := store.Query(ctx, ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, log, total)
	for i, envelope := range log {
		assert.Equal(t, fmt.Sprintf("evt-%04d", i), envelope.EventID)
	}
}

var _ ports.EventStore = (*EventStore)(nil)
