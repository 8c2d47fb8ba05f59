// Package resilience wraps an event store with a circuit breaker so a
// failing backend degrades fast instead of hanging every caller.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
	pkgerrors "graphsync/pkg/errors"
)

// BreakerStore decorates an EventStore with a circuit breaker around the
// storage operations. Subscriptions pass through untouched; they are
// in-process and cannot fail the way storage can.
type BreakerStore struct {
	inner   ports.EventStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerStore wraps a store. The breaker opens after five consecutive
// failures and probes again after the open interval.
func NewBreakerStore(inner ports.EventStore, logger *zap.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:    "event-store",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("event store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Append persists an event through the breaker
func (s *BreakerStore) Append(ctx context.Context, envelope events.Envelope) (string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Append(ctx, envelope)
	})
	if err != nil {
		return "", s.translate(err)
	}
	return result.(string), nil
}

// Query reads events through the breaker
func (s *BreakerStore) Query(ctx context.Context, filter ports.EventFilter) ([]events.Envelope, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Query(ctx, filter)
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return result.([]events.Envelope), nil
}

// Subscribe passes through to the wrapped store
func (s *BreakerStore) Subscribe(types []string, handler ports.EventHandler) ports.UnsubscribeFunc {
	return s.inner.Subscribe(types, handler)
}

// Close passes through to the wrapped store
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// translate maps breaker rejections to an unavailable error so callers can
// distinguish a tripped breaker from a storage failure
func (s *BreakerStore) translate(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return pkgerrors.NewUnavailableError("event store")
	}
	return err
}
