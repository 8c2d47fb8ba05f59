package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"graphsync/application/services"
	"graphsync/domain/core/entities"
)

// GraphHandler exposes the graph and its persistence operations
type GraphHandler struct {
	persistence *services.PersistenceService
	logger      *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(persistence *services.PersistenceService, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{persistence: persistence, logger: logger}
}

type entityDTO struct {
	ID            string                 `json:"id"`
	Kind          string                 `json:"kind"`
	Label         string                 `json:"label"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	SourceNoteIDs []string               `json:"sourceNoteIds"`
}

type connectionDTO struct {
	ID                string  `json:"id"`
	SourceEntityID    string  `json:"sourceEntityId"`
	TargetEntityID    string  `json:"targetEntityId"`
	Kind              string  `json:"kind"`
	DerivedFromNoteID string  `json:"derivedFromNoteId,omitempty"`
	Confidence        float64 `json:"confidence"`
}

type graphDTO struct {
	Entities    []entityDTO     `json:"entities"`
	Connections []connectionDTO `json:"connections"`
	Version     int             `json:"version"`
}

// GetGraph handles GET /graph
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	graph := h.persistence.Graph()

	dto := graphDTO{
		Entities:    make([]entityDTO, 0, graph.EntityCount()),
		Connections: make([]connectionDTO, 0, graph.ConnectionCount()),
		Version:     graph.Version(),
	}

	for _, entity := range graph.Entities() {
		dto.Entities = append(dto.Entities, toEntityDTO(entity))
	}
	for _, conn := range graph.Connections() {
		dto.Connections = append(dto.Connections, toConnectionDTO(conn))
	}

	respondJSON(w, http.StatusOK, dto)
}

// SaveGraph handles POST /graph/save
func (h *GraphHandler) SaveGraph(w http.ResponseWriter, r *http.Request) {
	appended, err := h.persistence.SaveGraphToStore(r.Context())
	if err != nil {
		h.logger.Error("failed to save graph", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"eventsAppended": appended})
}

// LoadGraph handles POST /graph/load
func (h *GraphHandler) LoadGraph(w http.ResponseWriter, r *http.Request) {
	applied, err := h.persistence.LoadGraphFromStore(r.Context())
	if err != nil {
		h.logger.Error("failed to load graph", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"eventsApplied": applied})
}

func toEntityDTO(entity *entities.Entity) entityDTO {
	noteIDs := make([]string, 0, entity.SourceNoteCount())
	for _, n := range entity.SourceNoteIDs() {
		noteIDs = append(noteIDs, n.String())
	}
	return entityDTO{
		ID:            entity.ID().String(),
		Kind:          string(entity.Kind()),
		Label:         entity.Label(),
		Attributes:    entity.Attributes(),
		SourceNoteIDs: noteIDs,
	}
}

func toConnectionDTO(conn *entities.Connection) connectionDTO {
	dto := connectionDTO{
		ID:             conn.ID().String(),
		SourceEntityID: conn.SourceEntityID().String(),
		TargetEntityID: conn.TargetEntityID().String(),
		Kind:           string(conn.Kind()),
		Confidence:     conn.Confidence(),
	}
	if !conn.DerivedFromNoteID().IsZero() {
		dto.DerivedFromNoteID = conn.DerivedFromNoteID().String()
	}
	return dto
}
