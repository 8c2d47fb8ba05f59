// Package memory provides an in-process event store. It backs tests and
// ephemeral sessions where durability is not wanted.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
	"graphsync/infrastructure/persistence/dispatch"
	pkgerrors "graphsync/pkg/errors"
)

// EventStore is an append-only in-memory event log. Appends are serialized;
// subscribers receive events in append order.
type EventStore struct {
	mu     sync.Mutex
	log    []events.Envelope
	closed bool

	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewEventStore creates an empty in-memory event store
func NewEventStore(logger *zap.Logger) *EventStore {
	return &EventStore{
		dispatcher: dispatch.NewDispatcher(),
		logger:     logger,
	}
}

// Append adds an event to the log and queues it for subscribers
func (s *EventStore) Append(_ context.Context, envelope events.Envelope) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", pkgerrors.NewStorageError("append", errClosed)
	}
	s.log = append(s.log, envelope)
	s.mu.Unlock()

	s.dispatcher.Publish(envelope)
	return envelope.EventID, nil
}

// Query returns events matching the filter in append order
func (s *EventStore) Query(_ context.Context, filter ports.EventFilter) ([]events.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pkgerrors.NewStorageError("query", errClosed)
	}

	var types map[string]struct{}
	if len(filter.Types) > 0 {
		types = make(map[string]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			types[t] = struct{}{}
		}
	}

	var out []events.Envelope
	for _, envelope := range s.log {
		if types != nil {
			if _, ok := types[envelope.EventType]; !ok {
				continue
			}
		}
		if filter.Since > 0 && envelope.Timestamp <= filter.Since {
			continue
		}
		out = append(out, envelope)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Subscribe registers a handler for events appended after this call
func (s *EventStore) Subscribe(types []string, handler ports.EventHandler) ports.UnsubscribeFunc {
	return s.dispatcher.Subscribe(types, handler)
}

// Close stops dispatch after draining pending deliveries and rejects further
// operations. Idempotent.
func (s *EventStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.dispatcher.Close()
	s.logger.Debug("event store closed", zap.Int("events", s.Len()))
	return nil
}

// Len returns the number of events in the log
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// WaitIdle blocks until all pending subscriber deliveries are done.
// Intended for tests and shutdown sequencing.
func (s *EventStore) WaitIdle() {
	s.dispatcher.WaitIdle()
}

type storeClosedError struct{}

func (storeClosedError) Error() string { return "event store is closed" }

var errClosed = storeClosedError{}
