// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dualauth/dualauth/internal/handler/dto"
	"github.com/dualauth/dualauth/internal/service"
)

// Version is reported by the index endpoint.
const Version = "0.1.0"

// endpoints lists the public routes for the index response.
var endpoints = []string{
	"GET /",
	"GET /healthz",
	"GET /readyz",
	"GET /metrics",
	"POST /register",
	"POST /login",
	"POST /refresh",
	"GET /protected",
	"GET /users/{username}",
}

// Handler serves the service-level endpoints.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// IndexResponse describes the service.
type IndexResponse struct {
	OK        bool     `json:"ok"`
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Index returns service info and the endpoint list.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{
		OK:        true,
		Service:   "dualauth",
		Version:   Version,
		Endpoints: endpoints,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode error can only be a broken connection.
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON decodes the request body into dst, writing the error
// response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return false
	}
	return true
}

// handleServiceError maps service errors to HTTP responses.
// writeUnauthorized answers a missing or rejected bearer token.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="dualauth"`)
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token")
}

func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrMissingField):
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", err.Error())
	case errors.Is(err, service.ErrInvalidField):
		writeError(w, http.StatusBadRequest, "INVALID_FIELD", err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", service.ErrInvalidCredentials.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeUnauthorized(w)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	case errors.Is(err, service.ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "USER_EXISTS", "username already registered")
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.Error("store unavailable", "error", err)
		writeError(w, http.StatusBadGateway, "STORE_UNAVAILABLE", "credential store unavailable")
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
