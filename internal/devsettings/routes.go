package devsettings

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// RegisterRoutes wires the settings endpoint to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/device-settings", api.Handler(handleSettings(service)))
}

type settingsRequest struct {
	Mode     string         `json:"mode"`
	DeviceID string         `json:"device_id,omitempty"`
	ScreenID string         `json:"screen_id,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

func handleSettings(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		switch req.Mode {
		case "get":
			if req.DeviceID == "" && req.ScreenID == "" {
				return apperrors.NewValidationError("at least one of device_id or screen_id is required", nil)
			}
			settings := service.Get(req.DeviceID, req.ScreenID)
			return api.WriteJSON(w, http.StatusOK, map[string]any{
				"settings": settings,
			})

		case "set":
			if err := service.Set(caller, req.DeviceID, req.ScreenID, req.Settings); err != nil {
				return err
			}
			return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})

		default:
			return apperrors.NewValidationError("mode must be one of: get, set", nil)
		}
	}
}
