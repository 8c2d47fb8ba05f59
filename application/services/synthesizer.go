package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	domainservices "graphsync/domain/services"
	"graphsync/domain/events"
	"graphsync/domain/schema"
	pkgerrors "graphsync/pkg/errors"
	"graphsync/pkg/idle"
)

const (
	coMentionConfidence = 1.0
	crossNoteConfidence = 0.75
)

// PassObserver receives synthesis pass outcomes. Implementations feed
// metrics; a nil observer disables observation.
type PassObserver interface {
	PassCompleted(duration time.Duration, entitiesUpserted, connectionsDerived int)
	PassFailed()
}

// Synthesizer derives implicit graph structure from note content. It
// subscribes to note events on the store, debounces per note, and runs a
// synthesis pass once a note goes quiet. A failing pass for one note never
// affects other notes.
type Synthesizer struct {
	mu        sync.Mutex
	state     lifecycleState
	store     ports.EventStore
	graph     *aggregates.Graph
	registry  *schema.Registry
	extractor domainservices.MentionExtractor
	logger    *zap.Logger
	limits    config.LimitsProvider
	observer  PassObserver

	storeID     string
	sessionID   string
	unsubscribe ports.UnsubscribeFunc

	schedulers map[string]*idle.Scheduler // noteID -> debounce timer
	pending    map[string]string          // noteID -> latest content
}

// NewSynthesizer creates a synthesizer. The observer may be nil.
func NewSynthesizer(
	registry *schema.Registry,
	extractor domainservices.MentionExtractor,
	limits config.LimitsProvider,
	observer PassObserver,
	logger *zap.Logger,
	storeID string,
) *Synthesizer {
	if limits == nil {
		limits = config.DefaultSynthesisLimits
	}
	return &Synthesizer{
		registry:   registry,
		extractor:  extractor,
		limits:     limits,
		observer:   observer,
		logger:     logger,
		storeID:    storeID,
		sessionID:  uuid.New().String(),
		schedulers: make(map[string]*idle.Scheduler),
		pending:    make(map[string]string),
	}
}

// Initialize binds the synthesizer to a store and a graph and subscribes to
// note events
func (s *Synthesizer) Initialize(store ports.EventStore, graph *aggregates.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateInitialized:
		return pkgerrors.NewAlreadyInitializedError("synthesizer")
	case stateDestroyed:
		return pkgerrors.NewNotInitializedError("synthesizer")
	}
	if store == nil || graph == nil {
		return pkgerrors.NewValidationError("synthesizer requires a store and a graph")
	}

	s.store = store
	s.graph = graph
	s.unsubscribe = store.Subscribe(
		[]string{events.EventNoteContentUpdated, events.EventNoteDeleted},
		s.handleEvent,
	)
	s.state = stateInitialized
	s.logger.Info("synthesizer initialized", zap.String("session_id", s.sessionID))
	return nil
}

// Destroy unsubscribes and cancels every pending pass. Every subsequent
// operation fails with a not-initialized error.
func (s *Synthesizer) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return pkgerrors.NewNotInitializedError("synthesizer")
	}

	s.unsubscribe()
	s.unsubscribe = nil
	for _, scheduler := range s.schedulers {
		scheduler.Cancel()
	}
	s.schedulers = make(map[string]*idle.Scheduler)
	s.pending = make(map[string]string)
	s.state = stateDestroyed
	s.store = nil
	s.graph = nil
	s.logger.Info("synthesizer destroyed", zap.String("session_id", s.sessionID))
	return nil
}

// UpdateNote records new note content in the event log. The synthesizer's
// own subscription picks the event up and schedules a pass.
func (s *Synthesizer) UpdateNote(ctx context.Context, noteID valueobjects.NoteID, content string) error {
	s.mu.Lock()
	if err := s.requireInitialized(); err != nil {
		s.mu.Unlock()
		return err
	}
	store := s.store
	s.mu.Unlock()

	payload := events.NoteContentUpdated{NoteID: noteID.String(), Content: content}
	return appendEvent(ctx, store, s.registry, events.EventNoteContentUpdated, payload, s.storeID, s.sessionID)
}

// DeleteNote records a note deletion in the event log
func (s *Synthesizer) DeleteNote(ctx context.Context, noteID valueobjects.NoteID) error {
	s.mu.Lock()
	if err := s.requireInitialized(); err != nil {
		s.mu.Unlock()
		return err
	}
	store := s.store
	s.mu.Unlock()

	payload := events.NoteDeleted{NoteID: noteID.String()}
	return appendEvent(ctx, store, s.registry, events.EventNoteDeleted, payload, s.storeID, s.sessionID)
}

// FlushNote runs a pending pass for the note immediately instead of waiting
// for the debounce interval. No-op when nothing is pending.
func (s *Synthesizer) FlushNote(noteID valueobjects.NoteID) error {
	s.mu.Lock()
	if err := s.requireInitialized(); err != nil {
		s.mu.Unlock()
		return err
	}
	scheduler := s.schedulers[noteID.String()]
	s.mu.Unlock()

	if scheduler != nil {
		scheduler.Flush()
	}
	return nil
}

// FlushAll runs every pending pass immediately
func (s *Synthesizer) FlushAll() error {
	s.mu.Lock()
	if err := s.requireInitialized(); err != nil {
		s.mu.Unlock()
		return err
	}
	schedulers := make([]*idle.Scheduler, 0, len(s.schedulers))
	for _, scheduler := range s.schedulers {
		schedulers = append(schedulers, scheduler)
	}
	s.mu.Unlock()

	for _, scheduler := range schedulers {
		scheduler.Flush()
	}
	return nil
}

// PendingNotes returns how many notes have a pass scheduled
func (s *Synthesizer) PendingNotes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, scheduler := range s.schedulers {
		if scheduler.Pending() {
			pending++
		}
	}
	return pending
}

func (s *Synthesizer) requireInitialized() error {
	if s.state != stateInitialized {
		return pkgerrors.NewNotInitializedError("synthesizer")
	}
	return nil
}

// handleEvent reacts to note events from the store subscription
func (s *Synthesizer) handleEvent(envelope events.Envelope) {
	switch envelope.EventType {
	case events.EventNoteContentUpdated:
		var payload events.NoteContentUpdated
		if err := envelope.DecodePayload(&payload); err != nil {
			s.logger.Warn("dropping malformed note update",
				zap.String("event_id", envelope.EventID), zap.Error(err))
			return
		}
		s.scheduleNote(payload.NoteID, payload.Content)

	case events.EventNoteDeleted:
		var payload events.NoteDeleted
		if err := envelope.DecodePayload(&payload); err != nil {
			s.logger.Warn("dropping malformed note deletion",
				zap.String("event_id", envelope.EventID), zap.Error(err))
			return
		}
		s.handleNoteDeleted(payload.NoteID)
	}
}

// scheduleNote stashes the latest content and rearms the note's debounce
// timer. Bursts of edits coalesce into a single pass.
func (s *Synthesizer) scheduleNote(noteID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return
	}

	s.pending[noteID] = content

	// The provider is re-read on every edit so a reloaded debounce window
	// applies to notes whose scheduler predates the reload
	interval := s.limits().DebounceInterval
	scheduler, ok := s.schedulers[noteID]
	if !ok {
		scheduler = idle.NewScheduler(interval, func() {
			s.runPass(noteID)
		})
		s.schedulers[noteID] = scheduler
	}
	scheduler.TouchAfter(interval)
}

// handleNoteDeleted drops pending work for the note and prunes everything
// it contributed to the graph
func (s *Synthesizer) handleNoteDeleted(rawNoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return
	}

	if scheduler, ok := s.schedulers[rawNoteID]; ok {
		scheduler.Cancel()
		delete(s.schedulers, rawNoteID)
	}
	delete(s.pending, rawNoteID)

	noteID, err := valueobjects.NewNoteIDFromString(rawNoteID)
	if err != nil {
		s.logger.Warn("ignoring deletion of malformed note ID", zap.String("note_id", rawNoteID))
		return
	}

	removed := s.graph.RemoveDerivedConnections(noteID)
	deletedEntities := 0
	for _, entity := range s.graph.EntitiesForNote(noteID) {
		deleted, err := s.graph.RemoveSourceReference(entity.ID(), noteID)
		if err != nil {
			s.logger.Warn("failed to drop note reference",
				zap.String("note_id", rawNoteID),
				zap.String("entity_id", entity.ID().String()),
				zap.Error(err))
			continue
		}
		if deleted {
			deletedEntities++
		}
	}

	s.logger.Info("note pruned from graph",
		zap.String("note_id", rawNoteID),
		zap.Int("connections_removed", len(removed)),
		zap.Int("entities_deleted", deletedEntities))
}

// runPass executes one synthesis pass for a note. Errors are logged and
// counted, never propagated; one bad note cannot take down the pipeline.
func (s *Synthesizer) runPass(noteID string) {
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return
	}
	content, ok := s.pending[noteID]
	if !ok {
		return
	}
	delete(s.pending, noteID)

	entitiesUpserted, connectionsDerived, err := s.synthesizeLocked(noteID, content)
	if err != nil {
		s.logger.Error("synthesis pass failed",
			zap.String("note_id", noteID),
			zap.Error(err))
		if s.observer != nil {
			s.observer.PassFailed()
		}
		return
	}

	duration := time.Since(started)
	if s.observer != nil {
		s.observer.PassCompleted(duration, entitiesUpserted, connectionsDerived)
	}
	s.logger.Info("synthesis pass completed",
		zap.String("note_id", noteID),
		zap.Int("entities", entitiesUpserted),
		zap.Int("connections", connectionsDerived),
		zap.Duration("duration", duration))
}

// synthesizeLocked derives structure for one note. Caller holds s.mu.
//
// The pass upserts an entity per extracted mention, drops references to
// entities the note no longer mentions, rebuilds the note's derived
// connections from co-mentions, and links this note's entities to entities
// of other notes that share a mention.
func (s *Synthesizer) synthesizeLocked(rawNoteID, content string) (int, int, error) {
	noteID, err := valueobjects.NewNoteIDFromString(rawNoteID)
	if err != nil {
		return 0, 0, err
	}
	ctx := context.Background()
	limits := s.limits().Normalize()

	mentions := s.extractor.Extract(content)
	if len(mentions) > limits.MaxEntitiesPerNote {
		s.logger.Warn("mention limit reached, truncating",
			zap.String("note_id", rawNoteID),
			zap.Int("mentions", len(mentions)),
			zap.Int("limit", limits.MaxEntitiesPerNote))
		mentions = mentions[:limits.MaxEntitiesPerNote]
	}

	noteEntities := make([]*entities.Entity, 0, len(mentions))
	mentioned := make(map[string]struct{}, len(mentions))
	for _, mention := range mentions {
		entity, err := s.graph.UpsertEntity(mention.KindHint, mention.Label, nil, noteID)
		if err != nil {
			return 0, 0, pkgerrors.NewExtractionError(rawNoteID, err)
		}
		noteEntities = append(noteEntities, entity)
		mentioned[entity.ID().String()] = struct{}{}
	}

	recordedRemovals := make(map[string]struct{})

	// Entities the note mentioned before but no longer does lose this
	// note's reference; orphans cascade.
	for _, entity := range s.graph.EntitiesForNote(noteID) {
		if _, ok := mentioned[entity.ID().String()]; ok {
			continue
		}
		attached := s.graph.ConnectionsForEntity(entity.ID())
		deleted, err := s.graph.RemoveSourceReference(entity.ID(), noteID)
		if err != nil {
			return 0, 0, err
		}
		if deleted {
			for _, conn := range attached {
				if err := s.recordConnectionRemoved(ctx, conn, "entity removed"); err != nil {
					return 0, 0, err
				}
				recordedRemovals[conn.ID().String()] = struct{}{}
			}
		}
		// The entity's reference set is now empty for deleted entities, so
		// this doubles as a tombstone on replay
		if err := s.recordEntityUpserted(ctx, entity); err != nil {
			return 0, 0, err
		}
	}

	for _, conn := range s.graph.RemoveDerivedConnections(noteID) {
		if _, ok := recordedRemovals[conn.ID().String()]; ok {
			continue
		}
		if err := s.recordConnectionRemoved(ctx, conn, "resynthesis"); err != nil {
			return 0, 0, err
		}
	}

	for _, entity := range noteEntities {
		if err := s.recordEntityUpserted(ctx, entity); err != nil {
			return 0, 0, err
		}
	}

	connectionsDerived := 0
	derivedPairs := make(map[string]struct{})

	// Entities mentioned together in one note are connected directly
	for i := 0; i < len(noteEntities); i++ {
		for j := i + 1; j < len(noteEntities); j++ {
			if connectionsDerived >= limits.MaxConnectionsPerPass {
				break
			}
			created, err := s.deriveConnection(ctx, noteEntities[i], noteEntities[j], noteID, coMentionConfidence, derivedPairs)
			if err != nil {
				return 0, 0, err
			}
			if created {
				connectionsDerived++
			}
		}
	}

	// Entities of different notes that share a mention are linked with
	// lower confidence
	for _, shared := range noteEntities {
		if shared.SourceNoteCount() < 2 {
			continue
		}
		for _, otherNote := range shared.SourceNoteIDs() {
			if otherNote.Equals(noteID) {
				continue
			}
			for _, other := range s.graph.EntitiesForNote(otherNote) {
				if _, ok := mentioned[other.ID().String()]; ok {
					continue
				}
				for _, local := range noteEntities {
					if connectionsDerived >= limits.MaxConnectionsPerPass {
						break
					}
					if local.ID().Equals(shared.ID()) {
						continue
					}
					created, err := s.deriveConnection(ctx, local, other, noteID, crossNoteConfidence, derivedPairs)
					if err != nil {
						return 0, 0, err
					}
					if created {
						connectionsDerived++
					}
				}
			}
		}
	}

	return len(noteEntities), connectionsDerived, nil
}

// deriveConnection upserts a derived connection with canonical endpoint
// ordering and records it in the log. Returns false when the tuple already
// existed.
func (s *Synthesizer) deriveConnection(
	ctx context.Context,
	a, b *entities.Entity,
	noteID valueobjects.NoteID,
	confidence float64,
	derivedPairs map[string]struct{},
) (bool, error) {
	source, target := orderEndpoints(a, b)
	key := entities.ConnectionKey(source.ID(), target.ID(), entities.ConnectionDerived)
	if _, ok := derivedPairs[key]; ok {
		return false, nil
	}
	derivedPairs[key] = struct{}{}

	conn, err := s.graph.UpsertConnection(source.ID(), target.ID(), entities.ConnectionDerived, noteID, confidence)
	if err != nil {
		return false, err
	}
	if !conn.DerivedFromNoteID().Equals(noteID) {
		// Another note already derived this pair
		return false, nil
	}

	payload := events.ConnectionUpserted{
		ConnectionID:      conn.ID().String(),
		SourceEntityID:    conn.SourceEntityID().String(),
		TargetEntityID:    conn.TargetEntityID().String(),
		Kind:              string(conn.Kind()),
		DerivedFromNoteID: conn.DerivedFromNoteID().String(),
		Confidence:        conn.Confidence(),
	}
	if err := appendEvent(ctx, s.store, s.registry, events.EventConnectionUpserted, payload, s.storeID, s.sessionID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Synthesizer) recordEntityUpserted(ctx context.Context, entity *entities.Entity) error {
	noteIDs := make([]string, 0, entity.SourceNoteCount())
	for _, n := range entity.SourceNoteIDs() {
		noteIDs = append(noteIDs, n.String())
	}
	sort.Strings(noteIDs)

	payload := events.EntityUpserted{
		EntityID:      entity.ID().String(),
		Kind:          string(entity.Kind()),
		Label:         entity.Label(),
		Attributes:    entity.Attributes(),
		SourceNoteIDs: noteIDs,
	}
	return appendEvent(ctx, s.store, s.registry, events.EventEntityUpserted, payload, s.storeID, s.sessionID)
}

func (s *Synthesizer) recordConnectionRemoved(ctx context.Context, conn *entities.Connection, reason string) error {
	payload := events.ConnectionRemoved{
		ConnectionID: conn.ID().String(),
		Reason:       reason,
	}
	return appendEvent(ctx, s.store, s.registry, events.EventConnectionRemoved, payload, s.storeID, s.sessionID)
}

// orderEndpoints gives every derived pair a canonical direction so the same
// two entities always produce the same connection tuple
func orderEndpoints(a, b *entities.Entity) (*entities.Entity, *entities.Entity) {
	if a.ID().String() <= b.ID().String() {
		return a, b
	}
	return b, a
}
