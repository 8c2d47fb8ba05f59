package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/domain/schema"
	pkgerrors "graphsync/pkg/errors"
)

type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateInitialized
	stateDestroyed
)

// PersistenceService saves and loads the graph through the event log and
// manages layout snapshots. It must be initialized with a store and a graph
// before use and refuses all operations after Destroy.
type PersistenceService struct {
	mu       sync.Mutex
	state    lifecycleState
	store    ports.EventStore
	graph    *aggregates.Graph
	registry *schema.Registry
	logger   *zap.Logger

	storeID   string
	sessionID string

	// Replay preserves persisted IDs where it can; when a replayed entity or
	// connection collides with live state the existing one wins and these
	// maps translate the persisted ID to the live one.
	entityAlias     map[string]valueobjects.EntityID
	connectionAlias map[string]valueobjects.ConnectionID

	layouts         map[valueobjects.LayoutID]*entities.Layout
	clusterDefaults map[string]valueobjects.LayoutID

	onEventSkipped func()
}

// NewPersistenceService creates a persistence service. A fresh session ID is
// minted per service instance.
func NewPersistenceService(registry *schema.Registry, logger *zap.Logger, storeID string) *PersistenceService {
	return &PersistenceService{
		registry:        registry,
		logger:          logger,
		storeID:         storeID,
		sessionID:       uuid.New().String(),
		entityAlias:     make(map[string]valueobjects.EntityID),
		connectionAlias: make(map[string]valueobjects.ConnectionID),
		layouts:         make(map[valueobjects.LayoutID]*entities.Layout),
		clusterDefaults: make(map[string]valueobjects.LayoutID),
	}
}

// OnEventSkipped installs a callback fired for every event skipped during a
// load. Used to feed metrics.
func (s *PersistenceService) OnEventSkipped(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEventSkipped = fn
}

// Initialize binds the service to an event store and a graph. Calling it on
// an already initialized or destroyed service is an error.
func (s *PersistenceService) Initialize(store ports.EventStore, graph *aggregates.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateInitialized:
		return pkgerrors.NewAlreadyInitializedError("persistence service")
	case stateDestroyed:
		return pkgerrors.NewNotInitializedError("persistence service")
	}
	if store == nil || graph == nil {
		return pkgerrors.NewValidationError("persistence service requires a store and a graph")
	}

	s.store = store
	s.graph = graph
	s.state = stateInitialized
	s.logger.Info("persistence service initialized",
		zap.String("store_id", s.storeID),
		zap.String("session_id", s.sessionID))
	return nil
}

// Destroy releases the service. Every subsequent operation fails with a
// not-initialized error.
func (s *PersistenceService) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return pkgerrors.NewNotInitializedError("persistence service")
	}
	s.state = stateDestroyed
	s.store = nil
	s.graph = nil
	s.logger.Info("persistence service destroyed", zap.String("session_id", s.sessionID))
	return nil
}

// Graph returns the bound graph, or nil before initialization
func (s *PersistenceService) Graph() *aggregates.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// SaveGraphToStore serializes the current graph state into the event log,
// one event per entity and connection. Returns the number of events appended.
func (s *PersistenceService) SaveGraphToStore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(); err != nil {
		return 0, err
	}

	appended := 0
	for _, entity := range s.graph.Entities() {
		noteIDs := make([]string, 0, entity.SourceNoteCount())
		for _, n := range entity.SourceNoteIDs() {
			noteIDs = append(noteIDs, n.String())
		}
		payload := events.EntityUpserted{
			EntityID:      entity.ID().String(),
			Kind:          string(entity.Kind()),
			Label:         entity.Label(),
			Attributes:    entity.Attributes(),
			SourceNoteIDs: noteIDs,
		}
		if err := s.appendLocked(ctx, events.EventEntityUpserted, payload); err != nil {
			return appended, err
		}
		appended++
	}

	for _, conn := range s.graph.Connections() {
		payload := events.ConnectionUpserted{
			ConnectionID:   conn.ID().String(),
			SourceEntityID: conn.SourceEntityID().String(),
			TargetEntityID: conn.TargetEntityID().String(),
			Kind:           string(conn.Kind()),
			Confidence:     conn.Confidence(),
		}
		if !conn.DerivedFromNoteID().IsZero() {
			payload.DerivedFromNoteID = conn.DerivedFromNoteID().String()
		}
		if err := s.appendLocked(ctx, events.EventConnectionUpserted, payload); err != nil {
			return appended, err
		}
		appended++
	}

	s.logger.Info("graph saved to store",
		zap.Int("events_appended", appended),
		zap.Int("entities", s.graph.EntityCount()),
		zap.Int("connections", s.graph.ConnectionCount()))
	return appended, nil
}

// LoadGraphFromStore replays the event log into the graph. Each payload is
// migrated to its active schema version and validated before being applied;
// events that fail validation are skipped with a warning rather than
// aborting the load. Returns the number of applied events.
func (s *PersistenceService) LoadGraphFromStore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(); err != nil {
		return 0, err
	}

	log, err := s.store.Query(ctx, ports.EventFilter{})
	if err != nil {
		return 0, pkgerrors.Wrap(err, "querying event log")
	}

	applied := 0
	skipped := 0
	skip := func() {
		skipped++
		if s.onEventSkipped != nil {
			s.onEventSkipped()
		}
	}
	for _, envelope := range log {
		migrated, version, err := s.registry.Migrate(envelope.EventType, envelope.SchemaVersion, envelope.Payload)
		if err != nil {
			s.logger.Warn("skipping event with unmigratable payload",
				zap.String("event_id", envelope.EventID),
				zap.String("event_type", envelope.EventType),
				zap.String("schema_version", envelope.SchemaVersion),
				zap.Error(err))
			skip()
			continue
		}

		result, err := s.registry.Validate(envelope.EventType, version, migrated)
		if err != nil || !result.IsValid {
			s.logger.Warn("skipping event with invalid payload",
				zap.String("event_id", envelope.EventID),
				zap.String("event_type", envelope.EventType),
				zap.Any("validation_errors", result.Errors),
				zap.Error(err))
			skip()
			continue
		}

		if err := s.applyLocked(envelope.WithPayload(migrated, version)); err != nil {
			s.logger.Warn("skipping event that failed to apply",
				zap.String("event_id", envelope.EventID),
				zap.String("event_type", envelope.EventType),
				zap.Error(err))
			skip()
			continue
		}
		applied++
	}

	s.logger.Info("graph loaded from store",
		zap.Int("events_applied", applied),
		zap.Int("events_skipped", skipped),
		zap.Int("entities", s.graph.EntityCount()),
		zap.Int("connections", s.graph.ConnectionCount()))
	return applied, nil
}

// SaveLayout snapshots the given positions under a name. When the new layout
// is the default for its cluster, the previous default is re-recorded with
// the flag cleared so the log stays append-only.
func (s *PersistenceService) SaveLayout(
	ctx context.Context,
	name string,
	isDefault bool,
	clusterID string,
	positions map[string]valueobjects.Position,
) (*entities.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(); err != nil {
		return nil, err
	}

	layout, err := entities.NewLayout(name, isDefault, clusterID, positions)
	if err != nil {
		return nil, err
	}

	// Both events must land before any in-memory state changes, so a failed
	// append cannot leave the cluster without a usable default
	var previous *entities.Layout
	if isDefault {
		if previousID, ok := s.clusterDefaults[clusterID]; ok {
			previous = s.layouts[previousID]
			demoted := layoutPayload(previous)
			demoted.IsDefault = false
			if err := s.appendLocked(ctx, events.EventLayoutSaved, demoted); err != nil {
				return nil, err
			}
		}
	}

	if err := s.appendLocked(ctx, events.EventLayoutSaved, layoutPayload(layout)); err != nil {
		return nil, err
	}

	if previous != nil {
		previous.Demote()
	}
	s.layouts[layout.ID()] = layout
	if isDefault {
		s.clusterDefaults[clusterID] = layout.ID()
	}

	s.logger.Info("layout saved",
		zap.String("layout_id", layout.ID().String()),
		zap.String("name", layout.Name()),
		zap.Bool("is_default", isDefault),
		zap.Int("positions", len(positions)))
	return layout, nil
}

// LoadLayout retrieves a saved layout by ID
func (s *PersistenceService) LoadLayout(id valueobjects.LayoutID) (*entities.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(); err != nil {
		return nil, err
	}

	layout, ok := s.layouts[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("layout")
	}
	return layout, nil
}

// DefaultLayout returns the current default layout for a cluster
func (s *PersistenceService) DefaultLayout(clusterID string) (*entities.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(); err != nil {
		return nil, err
	}

	id, ok := s.clusterDefaults[clusterID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("layout")
	}
	return s.layouts[id], nil
}

// Layouts returns every known layout
func (s *PersistenceService) Layouts() []*entities.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entities.Layout, 0, len(s.layouts))
	for _, l := range s.layouts {
		out = append(out, l)
	}
	return out
}

func (s *PersistenceService) requireInitialized() error {
	if s.state != stateInitialized {
		return pkgerrors.NewNotInitializedError("persistence service")
	}
	return nil
}

// appendLocked validates a payload against its active schema and appends it.
// Caller holds s.mu.
func (s *PersistenceService) appendLocked(ctx context.Context, eventType string, payload interface{}) error {
	return appendEvent(ctx, s.store, s.registry, eventType, payload, s.storeID, s.sessionID)
}

// applyLocked folds one replayed event into the graph. Caller holds s.mu.
func (s *PersistenceService) applyLocked(envelope events.Envelope) error {
	switch envelope.EventType {
	case events.EventEntityUpserted:
		return s.applyEntityUpserted(envelope)
	case events.EventConnectionUpserted:
		return s.applyConnectionUpserted(envelope)
	case events.EventConnectionRemoved:
		return s.applyConnectionRemoved(envelope)
	case events.EventNoteDeleted:
		return s.applyNoteDeleted(envelope)
	case events.EventLayoutSaved:
		return s.applyLayoutSaved(envelope)
	case events.EventNoteContentUpdated:
		// Content updates drive synthesis, not replay; the derived structure
		// is already in the log as entity and connection events.
		return nil
	default:
		return pkgerrors.NewValidationError("unknown event type: " + envelope.EventType)
	}
}

// applyEntityUpserted treats the payload's reference set as the full state
// at the time of the event. References not listed are removed, so replaying
// a sequence of upserts for the same entity converges on the latest one.
// An entity unseen so far is restored with its persisted ID; one that
// collides with live state merges into the existing entity instead.
func (s *PersistenceService) applyEntityUpserted(envelope events.Envelope) error {
	var payload events.EntityUpserted
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	kind := entities.EntityKind(payload.Kind)

	listed := make(map[valueobjects.NoteID]struct{}, len(payload.SourceNoteIDs))
	noteIDs := make([]valueobjects.NoteID, 0, len(payload.SourceNoteIDs))
	for _, rawNoteID := range payload.SourceNoteIDs {
		noteID, err := valueobjects.NewNoteIDFromString(rawNoteID)
		if err != nil {
			return err
		}
		if _, ok := listed[noteID]; !ok {
			listed[noteID] = struct{}{}
			noteIDs = append(noteIDs, noteID)
		}
	}

	entity, exists := s.graph.EntityByLabel(kind, payload.Label)
	switch {
	case !exists && len(noteIDs) == 0:
		// Tombstone for an entity that is already gone
		return nil
	case !exists:
		persistedID, err := valueobjects.NewEntityIDFromString(payload.EntityID)
		if err != nil {
			return err
		}
		restored, err := entities.ReconstructEntity(
			persistedID, kind, payload.Label, payload.Attributes, noteIDs, envelope.Time())
		if err != nil {
			return err
		}
		entity, err = s.graph.RestoreEntity(restored)
		if err != nil {
			return err
		}
	default:
		for _, noteID := range noteIDs {
			if _, err := s.graph.UpsertEntity(kind, payload.Label, payload.Attributes, noteID); err != nil {
				return err
			}
		}
	}
	s.entityAlias[payload.EntityID] = entity.ID()

	for _, noteID := range entity.SourceNoteIDs() {
		if _, ok := listed[noteID]; ok {
			continue
		}
		deleted, err := s.graph.RemoveSourceReference(entity.ID(), noteID)
		if err != nil {
			return err
		}
		if deleted {
			delete(s.entityAlias, payload.EntityID)
			break
		}
	}
	return nil
}

// applyConnectionUpserted restores the persisted connection under its
// original ID so later removal events resolve without translation. When the
// (source, target, kind) slot is already taken the existing connection wins
// and the persisted ID is aliased to it.
func (s *PersistenceService) applyConnectionUpserted(envelope events.Envelope) error {
	var payload events.ConnectionUpserted
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	connID, err := valueobjects.NewConnectionIDFromString(payload.ConnectionID)
	if err != nil {
		return err
	}
	source, err := s.resolveEntityID(payload.SourceEntityID)
	if err != nil {
		return err
	}
	target, err := s.resolveEntityID(payload.TargetEntityID)
	if err != nil {
		return err
	}

	var derivedFrom valueobjects.NoteID
	if payload.DerivedFromNoteID != "" {
		derivedFrom, err = valueobjects.NewNoteIDFromString(payload.DerivedFromNoteID)
		if err != nil {
			return err
		}
	}

	restored, err := entities.ReconstructConnection(
		connID, source, target, entities.ConnectionKind(payload.Kind),
		derivedFrom, payload.Confidence, envelope.Time())
	if err != nil {
		return err
	}
	conn, err := s.graph.RestoreConnection(restored)
	if err != nil {
		return err
	}
	s.connectionAlias[payload.ConnectionID] = conn.ID()
	return nil
}

func (s *PersistenceService) applyConnectionRemoved(envelope events.Envelope) error {
	var payload events.ConnectionRemoved
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	id, ok := s.connectionAlias[payload.ConnectionID]
	if !ok {
		parsed, err := valueobjects.NewConnectionIDFromString(payload.ConnectionID)
		if err != nil {
			return err
		}
		id = parsed
	}
	if err := s.graph.RemoveConnection(id); err != nil {
		if pkgerrors.IsNotFound(err) {
			// Already gone, e.g. cascaded by an entity deletion
			return nil
		}
		return err
	}
	return nil
}

func (s *PersistenceService) applyNoteDeleted(envelope events.Envelope) error {
	var payload events.NoteDeleted
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	noteID, err := valueobjects.NewNoteIDFromString(payload.NoteID)
	if err != nil {
		return err
	}

	s.graph.RemoveDerivedConnections(noteID)
	for _, entity := range s.graph.EntitiesForNote(noteID) {
		if _, err := s.graph.RemoveSourceReference(entity.ID(), noteID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PersistenceService) applyLayoutSaved(envelope events.Envelope) error {
	var payload events.LayoutSaved
	if err := envelope.DecodePayload(&payload); err != nil {
		return err
	}

	id, err := valueobjects.NewLayoutIDFromString(payload.LayoutID)
	if err != nil {
		return err
	}

	positions := make(map[string]valueobjects.Position, len(payload.Positions))
	for entityID, p := range payload.Positions {
		positions[entityID] = valueobjects.NewPosition(p.X, p.Y)
	}

	layout, err := entities.ReconstructLayout(
		id, payload.Name, payload.IsDefault, payload.ClusterID, positions, envelope.Time())
	if err != nil {
		return err
	}

	// Later events for the same layout win; the last default recorded for a
	// cluster is its current default.
	s.layouts[id] = layout
	if payload.IsDefault {
		s.clusterDefaults[payload.ClusterID] = id
	} else if current, ok := s.clusterDefaults[payload.ClusterID]; ok && current.Equals(id) {
		delete(s.clusterDefaults, payload.ClusterID)
	}
	return nil
}

// resolveEntityID maps a persisted entity ID to the live graph, preferring
// the replay alias
func (s *PersistenceService) resolveEntityID(raw string) (valueobjects.EntityID, error) {
	if id, ok := s.entityAlias[raw]; ok {
		return id, nil
	}
	id, err := valueobjects.NewEntityIDFromString(raw)
	if err != nil {
		return valueobjects.EntityID{}, err
	}
	if _, ok := s.graph.EntityByID(id); !ok {
		return valueobjects.EntityID{}, pkgerrors.NewNotFoundError("entity")
	}
	return id, nil
}

func layoutPayload(layout *entities.Layout) events.LayoutSaved {
	positions := make(map[string]events.PositionPayload)
	for entityID, p := range layout.Positions() {
		positions[entityID] = events.PositionPayload{X: p.X, Y: p.Y}
	}
	return events.LayoutSaved{
		LayoutID:  layout.ID().String(),
		Name:      layout.Name(),
		IsDefault: layout.IsDefault(),
		ClusterID: layout.ClusterID(),
		Positions: positions,
	}
}
