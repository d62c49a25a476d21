package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
)

// envelope is the success body of every JSON endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type errorBody struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	TraceID string         `json:"trace_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data any, message string) {
	writeJSON(w, status, envelope{
		Success: true,
		Data:    data,
		Message: message,
		TraceID: TraceID(r.Context()),
	})
}

// writeError maps err onto the error envelope. Unclassified errors become
// a generic 500 without leaking the cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(r, err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "trace_id", body.TraceID, "error", err)
	} else {
		slog.Warn("Request rejected", "method", r.Method, "path", r.URL.Path, "trace_id", body.TraceID, "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func errorResponse(r *http.Request, err error) (int, errorBody) {
	traceID := TraceID(r.Context())

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		return http.StatusInternalServerError, errorBody{
			Type:    "InternalServerError",
			Message: "An unexpected error occurred. Please try again later.",
			TraceID: traceID,
		}
	}
	return appErr.HTTPStatus(), errorBody{
		Type:    string(appErr.Kind),
		Message: appErr.Message,
		TraceID: traceID,
		Context: appErr.Context,
	}
}
