package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/config"
)

// DeviceProvisioner consumes a one-time provisioning token and returns the
// device it belongs to. Implemented by the registry service.
type DeviceProvisioner interface {
	ConsumeProvisioningToken(token string) (deviceID string, err error)
}

// RegisterRoutes wires the auth routes to the router.
func RegisterRoutes(router chi.Router, provisioner DeviceProvisioner, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/device", api.Handler(handleDeviceExchange(provisioner, cfg)))
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(handleRefresh(cfg)))
}

type deviceExchangeInput struct {
	ProvisioningToken string `json:"provisioning_token"`
}

// handleDeviceExchange swaps a one-time provisioning token for a device
// token pair. The token is cleared on first use.
func handleDeviceExchange(provisioner DeviceProvisioner, cfg config.Config) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input deviceExchangeInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if input.ProvisioningToken == "" {
			return apperrors.NewValidationError("provisioning_token is required", nil)
		}

		deviceID, err := provisioner.ConsumeProvisioningToken(input.ProvisioningToken)
		if err != nil {
			return err
		}

		pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: deviceID, Role: RoleDevice})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate tokens")
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"device_id":      deviceID,
			"access_token":   pair.AccessToken,
			"refresh_token":  pair.RefreshToken,
			"expires_in_sec": pair.ExpiresInSec,
		})
	}
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token"`
}

func handleRefresh(cfg config.Config) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input refreshInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if input.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, input.RefreshToken)
		if err != nil {
			if err == ErrTokenExpired {
				return apperrors.NewUnauthorizedError("Refresh token has expired", apperrors.ErrorCodeTokenExpired)
			}
			return apperrors.NewUnauthorizedError("Invalid refresh token", apperrors.ErrorCodeTokenInvalid)
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}
}
