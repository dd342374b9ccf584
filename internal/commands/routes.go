package commands

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// RegisterRoutes wires the command queue endpoint to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/device-commands", api.Handler(handleCommands(service)))
}

type commandRequest struct {
	Action   string         `json:"action"`
	DeviceID string         `json:"device_id,omitempty"`
	ScreenID string         `json:"screen_id,omitempty"`
	Command  string         `json:"command,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	AckIDs   []string       `json:"ack_ids,omitempty"`
}

func handleCommands(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing caller identity")
		}

		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		switch req.Action {
		case "enqueue":
			return handleEnqueue(w, r, service, caller, req)
		case "poll":
			return handlePoll(w, r, service, caller, req)
		case "ack":
			return handleAck(w, r, service, caller, req)
		default:
			return apperrors.NewValidationError("action must be one of: enqueue, poll, ack", nil)
		}
	}
}

func handleEnqueue(w http.ResponseWriter, r *http.Request, service *Service, caller auth.User, req commandRequest) error {
	target, err := ParseTarget(req.DeviceID, req.ScreenID)
	if err != nil {
		return err
	}

	commandID, err := service.Enqueue(caller, target, req.Command, req.Payload)
	if err != nil {
		return err
	}

	return api.WriteJSON(w, http.StatusCreated, map[string]any{
		"ok": true,
		"id": commandID,
	})
}

func handlePoll(w http.ResponseWriter, r *http.Request, service *Service, caller auth.User, req commandRequest) error {
	if req.DeviceID == "" {
		return apperrors.NewValidationError("device_id is required", nil)
	}
	// Devices may only poll their own queue.
	if caller.IsDevice() && caller.Sub != req.DeviceID {
		return apperrors.NewForbiddenError("device may only poll its own queue")
	}

	commands := service.Poll(req.DeviceID, req.ScreenID)

	formatted := make([]map[string]any, 0, len(commands))
	for _, command := range commands {
		formatted = append(formatted, map[string]any{
			"id":      command.CommandID,
			"command": command.Command,
			"payload": command.Payload,
		})
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"commands": formatted,
	})
}

func handleAck(w http.ResponseWriter, r *http.Request, service *Service, caller auth.User, req commandRequest) error {
	if req.DeviceID == "" {
		return apperrors.NewValidationError("device_id is required", nil)
	}
	if len(req.AckIDs) == 0 {
		return apperrors.NewValidationError("ack_ids is required", nil)
	}
	if caller.IsDevice() && caller.Sub != req.DeviceID {
		return apperrors.NewForbiddenError("device may only ack its own commands")
	}

	service.Ack(req.DeviceID, req.AckIDs)

	return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}
