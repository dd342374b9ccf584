package registry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// RegisterRoutes wires registry routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/device-bind-screen", api.Handler(handleBind(service)))
	router.Method(http.MethodPost, "/v1/devices/provision", api.Handler(handleProvision(service)))
	router.Method(http.MethodGet, "/v1/devices", api.Handler(handleListDevices(service)))
	router.Method(http.MethodGet, "/v1/devices/{device_id}", api.Handler(handleGetDevice(service)))
	router.Method(http.MethodPost, "/v1/devices/{device_id}/retire", api.Handler(handleRetire(service)))
}

type bindInput struct {
	DeviceID   string `json:"device_id"`
	ScreenID   string `json:"screen_id"`
	ScreenName string `json:"screen_name,omitempty"`
}

func handleBind(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		var input bindInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		result, err := service.Bind(caller, input.DeviceID, input.ScreenID, input.ScreenName)
		if err != nil {
			return err
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"device_id":   result.DeviceID,
			"screen_id":   result.ScreenID,
			"screen_name": result.ScreenName,
		})
	}
}

type provisionInput struct {
	DeviceID string `json:"device_id"`
}

func handleProvision(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		if caller.IsDevice() {
			return apperrors.NewForbiddenError("devices cannot provision devices")
		}

		var input provisionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		device, token, err := service.Provision(caller, input.DeviceID)
		if err != nil {
			return err
		}

		return api.WriteJSON(w, http.StatusCreated, map[string]any{
			"device":             formatDevice(*device),
			"provisioning_token": token,
		})
	}
}

func handleListDevices(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		devices, err := service.ListDevices(caller)
		if err != nil {
			return err
		}

		formatted := make([]map[string]any, 0, len(devices))
		for _, device := range devices {
			formatted = append(formatted, formatDevice(device))
		}
		return api.ListResponse(w, r, http.StatusOK, "devices", formatted)
	}
}

func handleGetDevice(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		deviceID := chi.URLParam(r, "device_id")

		if err := service.Authorize(caller, deviceID, ""); err != nil {
			return err
		}
		device, err := service.GetDevice(deviceID)
		if err != nil {
			return err
		}
		return api.SingleResponse(w, r, http.StatusOK, "device", formatDevice(*device))
	}
}

func handleRetire(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		deviceID := chi.URLParam(r, "device_id")

		if err := service.Retire(caller, deviceID); err != nil {
			return err
		}
		return api.ActionResponse(w, r, http.StatusOK, map[string]any{
			"device_id": deviceID,
			"retired":   true,
		})
	}
}

func formatDevice(device Device) map[string]any {
	var lastSeen any
	if device.LastSeen != nil {
		lastSeen = device.LastSeen.UTC().Format(time.RFC3339)
	}
	var screenID any
	if device.ScreenID != nil {
		screenID = *device.ScreenID
	}
	return map[string]any{
		"device_id":  device.DeviceID,
		"owner_id":   device.OwnerID,
		"screen_id":  screenID,
		"status":     string(device.Status),
		"last_seen":  lastSeen,
		"created_at": device.CreatedAt.UTC().Format(time.RFC3339),
	}
}
