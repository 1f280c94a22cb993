package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteErrorKind writes a JSON error response tagged with an error kind
// such as "validation" or "not_found"
func WriteErrorKind(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// WriteBadRequest writes a 400 response
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorKind(w, http.StatusBadRequest, "validation", message)
}

// WriteNotFound writes a 404 response
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorKind(w, http.StatusNotFound, "not_found", message)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
