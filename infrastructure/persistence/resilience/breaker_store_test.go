package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
	pkgerrors "graphsync/pkg/errors"
)

type flakyStore struct {
	failing bool
	appends int
}

func (f *flakyStore) Append(context.Context, events.Envelope) (string, error) {
	f.appends++
	if f.failing {
		return "", errors.New("disk gone")
	}
	return "event-id", nil
}

func (f *flakyStore) Query(context.Context, ports.EventFilter) ([]events.Envelope, error) {
	if f.failing {
		return nil, errors.New("disk gone")
	}
	return nil, nil
}

func (f *flakyStore) Subscribe([]string, ports.EventHandler) ports.UnsubscribeFunc {
	return func() {}
}

func (f *flakyStore) Close() error { return nil }

func TestBreakerStore_PassesThroughWhenHealthy(t *testing.T) {
	inner := &flakyStore{}
	store := NewBreakerStore(inner, zap.NewNop())

	id, err := store.Append(context.Background(), events.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "event-id", id)

	_, err = store.Query(context.Background(), ports.EventFilter{})
	assert.NoError(t, err)
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{failing: true}
	store := NewBreakerStore(inner, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, events.Envelope{})
		require.Error(t, err)
		assert.False(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable), "breaker should still be closed")
	}

	// Sixth call is rejected without touching the backend
	before := inner.appends
	_, err := store.Append(ctx, events.Envelope{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
	assert.Equal(t, before, inner.appends)
}
