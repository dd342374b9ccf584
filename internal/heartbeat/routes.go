package heartbeat

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// Authorizer is the registry's ownership check.
type Authorizer interface {
	Authorize(caller auth.User, deviceID, screenID string) error
}

// RegisterRoutes wires heartbeat and alert routes to the router.
func RegisterRoutes(router chi.Router, monitor *Monitor, alerts *AlertRepository, authorizer Authorizer) {
	router.Method(http.MethodPost, "/v1/heartbeat", api.Handler(handleRecord(monitor, authorizer)))
	router.Method(http.MethodGet, "/v1/heartbeat/{screen_id}", api.Handler(handleStatus(monitor, authorizer)))
	router.Method(http.MethodGet, "/v1/alerts", api.Handler(handleListAlerts(alerts)))
}

type heartbeatRequest struct {
	ScreenID       string  `json:"screen_id"`
	Status         *string `json:"status,omitempty"`
	CurrentContent *string `json:"current_content,omitempty"`
	SignalStrength *int    `json:"signal_strength,omitempty"`
}

func handleRecord(monitor *Monitor, authorizer Authorizer) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		var req heartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if req.ScreenID == "" {
			return apperrors.NewValidationError("screen_id is required", nil)
		}
		if err := authorizer.Authorize(caller, "", req.ScreenID); err != nil {
			return err
		}

		input := HeartbeatInput{
			CurrentContent: req.CurrentContent,
			SignalStrength: req.SignalStrength,
		}
		if req.Status != nil {
			status := ScreenStatus(*req.Status)
			switch status {
			case StatusOnline, StatusError, StatusBroadcasting:
				input.Status = &status
			default:
				return apperrors.NewValidationError("status must be one of: online, error, broadcasting", nil)
			}
		}

		if err := monitor.RecordHeartbeat(req.ScreenID, input); err != nil {
			return apperrors.NewInternalError("Failed to record heartbeat")
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func handleStatus(monitor *Monitor, authorizer Authorizer) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		screenID := chi.URLParam(r, "screen_id")
		if err := authorizer.Authorize(caller, "", screenID); err != nil {
			return err
		}

		record, err := monitor.Status(screenID)
		if err != nil {
			return apperrors.NewInternalError("Failed to load heartbeat record")
		}
		if record == nil {
			return apperrors.NewNotFoundResource("Heartbeat record", screenID)
		}
		return api.SingleResponse(w, r, http.StatusOK, "heartbeat", formatRecord(*record))
	}
}

func handleListAlerts(alerts *AlertRepository) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}
		if caller.IsDevice() {
			return apperrors.NewForbiddenError("devices cannot read alerts")
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		list, err := alerts.ListByOwner(caller.Sub, limit)
		if err != nil {
			return apperrors.NewInternalError("Failed to list alerts")
		}
		return api.ListResponse(w, r, http.StatusOK, "alerts", list)
	}
}

func formatRecord(record Record) map[string]any {
	var lastHeartbeat any
	if record.LastHeartbeat != nil {
		lastHeartbeat = record.LastHeartbeat.UTC().Format(time.RFC3339)
	}
	var currentContent any
	if record.CurrentContent != nil {
		currentContent = *record.CurrentContent
	}
	var signalStrength any
	if record.SignalStrength != nil {
		signalStrength = *record.SignalStrength
	}
	return map[string]any{
		"screen_id":       record.ScreenID,
		"status":          string(record.Status),
		"last_heartbeat":  lastHeartbeat,
		"current_content": currentContent,
		"signal_strength": signalStrength,
		"updated_at":      record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
