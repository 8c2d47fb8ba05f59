package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"graphsync/application/services"
	"graphsync/domain/core/valueobjects"
	pkgerrors "graphsync/pkg/errors"
)

// NoteHandler feeds note lifecycle events into the engine
type NoteHandler struct {
	synthesizer *services.Synthesizer
	logger      *zap.Logger
}

// NewNoteHandler creates a new note handler
func NewNoteHandler(synthesizer *services.Synthesizer, logger *zap.Logger) *NoteHandler {
	return &NoteHandler{synthesizer: synthesizer, logger: logger}
}

type updateNoteRequest struct {
	Content string `json:"content"`
}

// UpdateNote handles PUT /notes/{noteID}
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	noteID, err := valueobjects.NewNoteIDFromString(chi.URLParam(r, "noteID"))
	if err != nil {
		respondError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	var req updateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	if err := h.synthesizer.UpdateNote(r.Context(), noteID, req.Content); err != nil {
		h.logger.Error("failed to record note update",
			zap.String("note_id", noteID.String()), zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"noteId": noteID.String()})
}

// DeleteNote handles DELETE /notes/{noteID}
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	noteID, err := valueobjects.NewNoteIDFromString(chi.URLParam(r, "noteID"))
	if err != nil {
		respondError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	if err := h.synthesizer.DeleteNote(r.Context(), noteID); err != nil {
		h.logger.Error("failed to record note deletion",
			zap.String("note_id", noteID.String()), zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"noteId": noteID.String()})
}

// FlushNote handles POST /notes/{noteID}/flush. It runs a pending synthesis
// pass immediately instead of waiting out the debounce.
func (h *NoteHandler) FlushNote(w http.ResponseWriter, r *http.Request) {
	noteID, err := valueobjects.NewNoteIDFromString(chi.URLParam(r, "noteID"))
	if err != nil {
		respondError(w, pkgerrors.NewValidationError(err.Error()))
		return
	}

	if err := h.synthesizer.FlushNote(noteID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"noteId": noteID.String()})
}
