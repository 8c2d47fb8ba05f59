package handlers

import (
	"encoding/json"
	"net/http"

	pkgerrors "graphsync/pkg/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// respondJSON writes a JSON response with the given status
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError writes an error response. AppErrors carry their own HTTP
// status; anything else is an internal error.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := errorDetail{Type: string(pkgerrors.ErrorTypeInternal), Message: "internal error"}

	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		status = appErr.HTTPStatus
		detail = errorDetail{Type: string(appErr.Type), Message: appErr.Message}
	}

	respondJSON(w, status, errorBody{Error: detail})
}
