// Package response writes the JSON envelopes every API endpoint answers with:
// {"data": ...} on success and {"error": {...}} on failure.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes clients can match on.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeInvalidState      = "INVALID_STATE"
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateActive   = "DUPLICATE_ACTIVE"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeDegraded          = "DEGRADED"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInternal          = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON answers 200 with data wrapped in the success envelope.
func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// Accepted answers 202 for work that continues in the background.
func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// Error writes an error envelope. details is omitted when nil.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response body failed", "status", status, "error", err)
	}
}
