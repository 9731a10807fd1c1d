package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/depot-core/internal/auth"
)

// retryAfterSeconds is advertised on 503 responses caused by store failures.
const retryAfterSeconds = 5

// Error is the body of every non-2xx response.
type Error struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
		Errors:  details,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string, details ...string) {
	writeError(w, http.StatusBadRequest, auth.KindInvalidInput.Code(), message, details...)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, auth.KindNotFound.Code(), message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, auth.KindInternal.Code(), message)
}

// writeRateLimited writes a 429 with Retry-After rounded up to whole seconds.
func writeRateLimited(w http.ResponseWriter, message string, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, auth.KindRateLimited.Code(), message)
}

// writeAuthError renders an error returned by the auth package. The kind
// decides the status; only the caller-safe message and details are shown.
func writeAuthError(w http.ResponseWriter, err error) {
	kind := auth.KindOf(err)
	if kind == auth.KindTransient {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, kind.HTTPStatus(), kind.Code(), auth.MessageOf(err), auth.DetailsOf(err)...)
}

// decodeJSON decodes the request body into v. An oversized body is reported
// separately from malformed JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, auth.KindInvalidInput.Code(), "Request body too large")
			return false
		}
		writeBadRequest(w, "Invalid JSON body")
		return false
	}
	return true
}
