package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"graphsync/application/services"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/infrastructure/viewport"
	pkgerrors "graphsync/pkg/errors"
)

// LayoutHandler manages layout snapshots and the live viewport
type LayoutHandler struct {
	persistence *services.PersistenceService
	viewport    *viewport.Registry
	logger      *zap.Logger
}

// NewLayoutHandler creates a new layout handler
func NewLayoutHandler(persistence *services.PersistenceService, vp *viewport.Registry, logger *zap.Logger) *LayoutHandler {
	return &LayoutHandler{persistence: persistence, viewport: vp, logger: logger}
}

type positionDTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type saveLayoutRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	ClusterID string `json:"clusterId"`
	// Positions overrides the live viewport when given
	Positions map[string]positionDTO `json:"positions,omitempty"`
}

type layoutDTO struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	IsDefault bool                   `json:"isDefault"`
	ClusterID string                 `json:"clusterId,omitempty"`
	Positions map[string]positionDTO `json:"positions"`
	CreatedAt int64                  `json:"createdAt"`
}

// SaveLayout handles POST /layouts. Without explicit positions it snapshots
// the live viewport.
func (h *LayoutHandler) SaveLayout(w http.ResponseWriter, r *http.Request) {
	var req saveLayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	var positions map[string]valueobjects.Position
	if len(req.Positions) > 0 {
		positions = make(map[string]valueobjects.Position, len(req.Positions))
		for entityID, p := range req.Positions {
			positions[entityID] = valueobjects.NewPosition(p.X, p.Y)
		}
	} else {
		positions = h.viewport.Positions()
	}

	layout, err := h.persistence.SaveLayout(r.Context(), req.Name, req.IsDefault, req.ClusterID, positions)
	if err != nil {
		h.logger.Error("failed to save layout", zap.String("name", req.Name), zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toLayoutDTO(layout))
}

// GetLayout handles GET /layouts/{layoutID}
func (h *LayoutHandler) GetLayout(w http.ResponseWriter, r *http.Request) {
	layoutID, err := valueobjects.NewLayoutIDFromString(chi.URLParam(r, "layoutID"))
	if err != nil {
		respondError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	layout, err := h.persistence.LoadLayout(layoutID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toLayoutDTO(layout))
}

// GetDefaultLayout handles GET /layouts/default?cluster={clusterID}
func (h *LayoutHandler) GetDefaultLayout(w http.ResponseWriter, r *http.Request) {
	layout, err := h.persistence.DefaultLayout(r.URL.Query().Get("cluster"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toLayoutDTO(layout))
}

// ListLayouts handles GET /layouts
func (h *LayoutHandler) ListLayouts(w http.ResponseWriter, r *http.Request) {
	layouts := h.persistence.Layouts()
	out := make([]layoutDTO, 0, len(layouts))
	for _, layout := range layouts {
		out = append(out, toLayoutDTO(layout))
	}
	respondJSON(w, http.StatusOK, out)
}

type updateViewportRequest struct {
	Positions map[string]positionDTO `json:"positions"`
}

// UpdateViewport handles PUT /viewport. The editor pushes the full position
// set whenever the user rearranges the canvas.
func (h *LayoutHandler) UpdateViewport(w http.ResponseWriter, r *http.Request) {
	var req updateViewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	positions := make(map[string]valueobjects.Position, len(req.Positions))
	for entityID, p := range req.Positions {
		positions[entityID] = valueobjects.NewPosition(p.X, p.Y)
	}
	h.viewport.SetAll(positions)

	respondJSON(w, http.StatusOK, map[string]int{"positions": len(positions)})
}

func toLayoutDTO(layout *entities.Layout) layoutDTO {
	positions := make(map[string]positionDTO)
	for entityID, p := range layout.Positions() {
		positions[entityID] = positionDTO{X: p.X, Y: p.Y}
	}
	return layoutDTO{
		ID:        layout.ID().String(),
		Name:      layout.Name(),
		IsDefault: layout.IsDefault(),
		ClusterID: layout.ClusterID(),
		Positions: positions,
		CreatedAt: layout.CreatedAt().UnixMilli(),
	}
}
