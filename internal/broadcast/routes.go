package broadcast

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// Authorizer is the registry's ownership check.
type Authorizer interface {
	Authorize(caller auth.User, deviceID, screenID string) error
}

// RegisterRoutes wires broadcast routes to the router.
func RegisterRoutes(router chi.Router, coordinator *Coordinator, authorizer Authorizer) {
	router.Method(http.MethodPost, "/v1/broadcast", api.Handler(handleAction(coordinator, authorizer)))
	router.Method(http.MethodGet, "/v1/broadcast/ws", api.Handler(handleWebSocket(coordinator, authorizer)))
}

type actionRequest struct {
	Action     string `json:"action"`
	ScreenID   string `json:"screen_id"`
	BookingID  string `json:"booking_id,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func handleAction(coordinator *Coordinator, authorizer Authorizer) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		result, err := dispatchAction(coordinator, authorizer, caller, req)
		if err != nil {
			return err
		}
		return api.ActionResponse(w, r, http.StatusOK, result)
	}
}

// dispatchAction runs one broadcast action. Shared by the HTTP handler and
// the websocket frame loop so both transports behave identically.
func dispatchAction(coordinator *Coordinator, authorizer Authorizer, caller auth.User, req actionRequest) (map[string]any, error) {
	if req.ScreenID == "" {
		return nil, apperrors.NewValidationError("screen_id is required", nil)
	}
	if err := authorizer.Authorize(caller, "", req.ScreenID); err != nil {
		return nil, err
	}

	switch req.Action {
	case "start":
		if caller.IsDevice() {
			return nil, apperrors.NewForbiddenError("devices cannot start broadcasts")
		}
		state, err := coordinator.Start(req.ScreenID, req.BookingID, req.ContentURL)
		if err != nil {
			return nil, err
		}
		return sessionStateMap(state), nil

	case "stop":
		if caller.IsDevice() {
			return nil, apperrors.NewForbiddenError("devices cannot stop broadcasts")
		}
		state, err := coordinator.Stop(req.ScreenID)
		if err != nil {
			return nil, err
		}
		return sessionStateMap(state), nil

	case "status":
		return coordinator.Status(req.ScreenID)

	case "schedule":
		bookings, err := coordinator.Schedule(req.ScreenID, req.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"screen_id": req.ScreenID,
			"bookings":  bookings,
		}, nil

	default:
		return nil, apperrors.NewValidationError("action must be one of: start, stop, status, schedule", nil)
	}
}

func sessionStateMap(state *SessionState) map[string]any {
	result := map[string]any{
		"screen_id": state.ScreenID,
		"status":    state.Status,
		"changed":   state.Changed,
	}
	if state.BookingID != "" {
		result["booking_id"] = state.BookingID
	}
	if state.ContentURL != "" {
		result["content_url"] = state.ContentURL
	}
	if state.Warning != "" {
		result["warning"] = state.Warning
	}
	return result
}
