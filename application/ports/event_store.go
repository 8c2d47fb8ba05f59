// Package ports defines the interfaces the application services depend on.
// Infrastructure provides the implementations.
package ports

import (
	"context"

	"graphsync/domain/events"
)

// EventFilter narrows an event log query. Zero values match everything.
type EventFilter struct {
	// Types restricts results to these event types; empty means all types
	Types []string
	// Since excludes events with a timestamp at or before this value
	// (milliseconds since epoch)
	Since int64
	// Limit caps the number of returned events; zero means no cap
	Limit int
}

// EventHandler receives appended events for a subscription
type EventHandler func(events.Envelope)

// UnsubscribeFunc cancels a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// EventStore is the append-only event log behind the engine. Events come
// back from Query in append order; subscribers observe every event appended
// after they subscribe, in the same order.
type EventStore interface {
	// Append persists an event and returns its assigned event ID
	Append(ctx context.Context, envelope events.Envelope) (string, error)

	// Query returns events matching the filter in append order
	Query(ctx context.Context, filter EventFilter) ([]events.Envelope, error)

	// Subscribe registers a handler for events of the given types appended
	// after this call. Empty types subscribes to everything.
	Subscribe(types []string, handler EventHandler) UnsubscribeFunc

	// Close releases the store's resources
	Close() error
}
