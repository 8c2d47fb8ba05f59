package services

import (
	"context"

	"graphsync/application/ports"
	"graphsync/domain/events"
	"graphsync/domain/schema"
	pkgerrors "graphsync/pkg/errors"
)

// appendEvent validates a payload against its active schema version and
// appends it to the store
func appendEvent(
	ctx context.Context,
	store ports.EventStore,
	registry *schema.Registry,
	eventType string,
	payload interface{},
	storeID, sessionID string,
) error {
	version, err := registry.ActiveVersion(eventType)
	if err != nil {
		return err
	}

	envelope, err := events.NewEnvelope(eventType, payload, storeID, sessionID, version)
	if err != nil {
		return pkgerrors.Wrap(err, "serializing event payload")
	}

	result, err := registry.Validate(eventType, version, envelope.Payload)
	if err != nil {
		return err
	}
	if !result.IsValid {
		return pkgerrors.NewValidationError("event payload failed schema validation: " + eventType)
	}

	if _, err := store.Append(ctx, envelope); err != nil {
		return pkgerrors.NewStorageError("append", err)
	}
	return nil
}
