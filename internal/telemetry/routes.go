package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
)

// RegisterRoutes wires telemetry routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/frontend-telemetry", api.Handler(handleIngest(service)))
}

type ingestRequest struct {
	Metrics []Event `json:"metrics"`
}

func handleIngest(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if len(req.Metrics) == 0 {
			return apperrors.NewValidationError("metrics is required and must be non-empty", nil)
		}

		accepted, err := service.Ingest(req.Metrics)
		if err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusAccepted, map[string]any{
			"accepted": accepted,
		})
	}
}
