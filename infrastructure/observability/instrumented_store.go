package observability

import (
	"context"

	"graphsync/application/ports"
	"graphsync/domain/events"
)

// InstrumentedStore decorates an event store with append counters
type InstrumentedStore struct {
	inner   ports.EventStore
	metrics *Metrics
}

// NewInstrumentedStore wraps a store
func NewInstrumentedStore(inner ports.EventStore, metrics *Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: metrics}
}

// Append persists an event and counts it by type
func (s *InstrumentedStore) Append(ctx context.Context, envelope events.Envelope) (string, error) {
	id, err := s.inner.Append(ctx, envelope)
	if err == nil {
		s.metrics.EventAppended(envelope.EventType)
	}
	return id, err
}

// Query passes through to the wrapped store
func (s *InstrumentedStore) Query(ctx context.Context, filter ports.EventFilter) ([]events.Envelope, error) {
	return s.inner.Query(ctx, filter)
}

// Subscribe passes through to the wrapped store
func (s *InstrumentedStore) Subscribe(types []string, handler ports.EventHandler) ports.UnsubscribeFunc {
	return s.inner.Subscribe(types, handler)
}

// Close passes through to the wrapped store
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
