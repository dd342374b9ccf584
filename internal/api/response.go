package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
)

// ErrorResponse wraps the serialized error payload.
type ErrorResponse struct {
	Error apperrors.ErrorBody `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError into the error response envelope.
// Rate-limited errors also surface a Retry-After header.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)

	if appErr.StatusCode == http.StatusTooManyRequests {
		if retryAfter, ok := appErr.Details["retry_after_seconds"].(int); ok && retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}

	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}

// SingleResponse writes a single resource response with a dynamic resource key.
// Example: SingleResponse(w, r, http.StatusOK, "device", device)
// Produces: {"request_id": "...", "device": {...}}
func SingleResponse(w http.ResponseWriter, r *http.Request, status int, key string, resource any) error {
	resp := map[string]any{
		"request_id": GetRequestID(r),
		key:          resource,
	}
	return WriteJSON(w, status, resp)
}

// ListResponse writes a collection response with a dynamic collection key.
func ListResponse(w http.ResponseWriter, r *http.Request, status int, key string, items any) error {
	resp := map[string]any{
		"request_id": GetRequestID(r),
		key:          items,
	}
	return WriteJSON(w, status, resp)
}

// ActionResponse writes a response for non-CRUD action endpoints.
// Every action response is timestamped.
func ActionResponse(w http.ResponseWriter, r *http.Request, status int, result map[string]any) error {
	if result == nil {
		result = map[string]any{}
	}
	if _, ok := result["timestamp"]; !ok {
		result["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	result["request_id"] = GetRequestID(r)
	return WriteJSON(w, status, result)
}
