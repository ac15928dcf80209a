package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tallyhq/tally/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error   string                   `json:"error"`
	Code    string                   `json:"code,omitempty"`
	Details []models.ValidationIssue `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteDomainError maps a domain error kind to its HTTP status code and
// writes the response. The core never sees status codes; this is the
// single place the mapping lives.
func WriteDomainError(w http.ResponseWriter, err error) {
	var de *models.Error
	if !errors.As(err, &de) {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := ErrorResponse{Error: de.Message, Code: string(de.Kind), Details: de.Details}
	WriteJSON(w, statusForKind(de.Kind), resp)
}

// statusForKind is the web adapter's view of the error taxonomy.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrValidation:
		return http.StatusUnprocessableEntity
	case models.ErrUnbalanced, models.ErrCurrencyMismatch, models.ErrInvalidTransition,
		models.ErrMissingBucket, models.ErrInvalidBucket, models.ErrInsufficientFunds,
		models.ErrNegativeBalance, models.ErrInvalidAmount:
		return http.StatusBadRequest
	case models.ErrDuplicateKey:
		return http.StatusConflict
	case models.ErrUnauthorized:
		return http.StatusUnauthorized
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrMisconfigured, models.ErrChaos, models.ErrInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// ReadBody reads the request body with a 1MB limit. Returns false and
// writes a 400 error when the body is missing or unreadable.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read request body: "+err.Error())
		return nil, false
	}
	return body, true
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, ok := ReadBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path. For a pattern
// like /accounts/{id}/history, calling PathParam(r, "/accounts/", "/history")
// extracts the {id} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
