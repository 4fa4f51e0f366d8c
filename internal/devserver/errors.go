package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes follow PostgREST where one exists.
const (
	ErrCodeBadRequest   = "PGRST100"
	ErrCodeInvalidBody  = "PGRST102"
	ErrCodeUnauthorized = "PGRST301"
	ErrCodeNoTable      = "42P01"
	ErrCodeInternal     = "internal"
	ErrCodeInvalidData  = "invalid_data"
)

// APIError is the error body returned by every failing request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}
