// Package badgerstore provides the durable event store, backed by an
// embedded Badger database. It is the default store for desktop sessions
// where the graph must survive restarts.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
	"graphsync/infrastructure/persistence/dispatch"
	pkgerrors "graphsync/pkg/errors"
)

const (
	eventKeyPrefix = "event:"
	sequenceKey    = "event-seq"
	sequenceLease  = 128
)

// EventStore is an append-only event log on Badger. Keys order events by
// timestamp then append sequence, so iteration returns them in append order.
type EventStore struct {
	db         *badger.DB
	seq        *badger.Sequence
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// Open opens (or creates) an event store at the given directory. An empty
// path opens an in-memory database, useful for tests.
func Open(path string, logger *zap.Logger) (*EventStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.NewStorageError("open", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
	if err != nil {
		db.Close()
		return nil, pkgerrors.NewStorageError("open", err)
	}

	logger.Info("event store opened", zap.String("path", path), zap.Bool("in_memory", path == ""))
	return &EventStore{
		db:         db,
		seq:        seq,
		dispatcher: dispatch.NewDispatcher(),
		logger:     logger,
	}, nil
}

// Append persists an event and queues it for subscribers
func (s *EventStore) Append(_ context.Context, envelope events.Envelope) (string, error) {
	n, err := s.seq.Next()
	if err != nil {
		return "", pkgerrors.NewStorageError("append", err)
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return "", pkgerrors.NewStorageError("append", err)
	}

	key := eventKey(envelope.Timestamp, n)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return "", pkgerrors.NewStorageError("append", err)
	}

	s.dispatcher.Publish(envelope)
	return envelope.EventID, nil
}

// Query returns events matching the filter in append order
func (s *EventStore) Query(_ context.Context, filter ports.EventFilter) ([]events.Envelope, error) {
	var types map[string]struct{}
	if len(filter.Types) > 0 {
		types = make(map[string]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			types[t] = struct{}{}
		}
	}

	var out []events.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var envelope events.Envelope
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &envelope)
			})
			if err != nil {
				return err
			}

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
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewStorageError("query", err)
	}
	return out, nil
}

// Subscribe registers a handler for events appended after this call
func (s *EventStore) Subscribe(types []string, handler ports.EventHandler) ports.UnsubscribeFunc {
	return s.dispatcher.Subscribe(types, handler)
}

// WaitIdle blocks until all pending subscriber deliveries are done
func (s *EventStore) WaitIdle() {
	s.dispatcher.WaitIdle()
}

// Close releases the sequence and closes the database
func (s *EventStore) Close() error {
	s.dispatcher.Close()
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release event sequence", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		return pkgerrors.NewStorageError("close", err)
	}
	s.logger.Info("event store closed")
	return nil
}

// eventKey orders events by timestamp with the sequence breaking ties
func eventKey(timestamp int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%012d", eventKeyPrefix, timestamp, seq))
}
