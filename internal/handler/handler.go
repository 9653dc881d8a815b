// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"net/http"
)

// Version is reported by the index endpoint. Overridden at build time.
var Version = "0.1.0"

// Handler serves the static service endpoints.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// IndexResponse is the body of GET /.
type IndexResponse struct {
	Text    string `json:"text"`
	Version string `json:"version"`
}

// Index describes the service.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{
		Text:    "Product classification",
		Version: Version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Detail: "Not Found",
		Error:  ErrorBody{Code: "NOT_FOUND", Message: "resource not found"},
	})
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Detail: "Method Not Allowed",
		Error:  ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"},
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already sent; an encode failure means the client went away.
	_ = json.NewEncoder(w).Encode(data)
}
