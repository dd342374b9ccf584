package registry

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// RoleLookup is the external collaborator consulted for administrative
// capability. The default implementation trusts the role claim already
// carried by the caller's token.
type RoleLookup interface {
	IsAdmin(userID string) bool
}

type tokenRoleLookup struct{}

func (tokenRoleLookup) IsAdmin(string) bool { return false }

// Service owns the device/screen mapping and all ownership checks. It is the
// sole writer of bindings; other components only read it for authorization.
type Service struct {
	repo   *Repository
	roles  RoleLookup
	logger *log.Logger
}

// NewService creates a new registry service.
func NewService(dbPair DBPair, roles RoleLookup, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if roles == nil {
		roles = tokenRoleLookup{}
	}
	return &Service{
		repo:   NewRepository(dbPair),
		roles:  roles,
		logger: logger,
	}
}

// Repo exposes the underlying repository to collaborating services.
func (s *Service) Repo() *Repository { return s.repo }

// Provision creates a device owned by the caller and mints its one-time
// provisioning token. The token is returned exactly once.
func (s *Service) Provision(caller auth.User, deviceID string) (*Device, string, error) {
	if deviceID == "" {
		return nil, "", apperrors.NewValidationError("device_id is required", nil)
	}

	existing, err := s.repo.GetDevice(deviceID)
	if err != nil {
		return nil, "", apperrors.NewInternalError("Failed to load device")
	}
	if existing != nil {
		return nil, "", apperrors.NewConflictError("device already provisioned", map[string]any{"device_id": deviceID})
	}

	token, err := newProvisioningToken()
	if err != nil {
		return nil, "", apperrors.NewInternalError("Failed to generate provisioning token")
	}

	device, err := s.repo.CreateDevice(deviceID, caller.Sub, token)
	if err != nil {
		return nil, "", apperrors.NewInternalError("Failed to provision device")
	}

	s.logger.Printf("provisioned device %s for owner %s", deviceID, caller.Sub)
	return device, token, nil
}

// ConsumeProvisioningToken validates a one-time token and clears it.
// Implements auth.DeviceProvisioner.
func (s *Service) ConsumeProvisioningToken(token string) (string, error) {
	device, err := s.repo.GetDeviceByProvisioningToken(token)
	if err != nil {
		return "", apperrors.NewInternalError("Failed to look up provisioning token")
	}
	if device == nil {
		return "", apperrors.NewUnauthorizedError("Unknown provisioning token", apperrors.ErrorCodeProvisionToken)
	}
	if err := s.repo.ClearProvisioningToken(device.DeviceID); err != nil {
		return "", apperrors.NewInternalError("Failed to consume provisioning token")
	}
	return device.DeviceID, nil
}

// Bind associates a device with a screen. The screen is created on first
// bind (owned by the caller) and renamed when a new name is supplied.
// Re-binding to the same screen is a no-op beyond the rename.
func (s *Service) Bind(caller auth.User, deviceID, screenID, screenName string) (*BindResult, error) {
	if deviceID == "" || screenID == "" {
		return nil, apperrors.NewValidationError("device_id and screen_id are required", nil)
	}

	device, err := s.repo.GetDevice(deviceID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load device")
	}
	if device == nil {
		return nil, apperrors.NewNotFoundResource("Device", deviceID)
	}
	if device.OwnerID != caller.Sub && !s.isAdmin(caller) {
		return nil, apperrors.NewForbiddenError("caller does not own this device")
	}

	screen, err := s.repo.GetScreen(screenID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load screen")
	}

	if screen == nil {
		name := screenName
		if name == "" {
			name = screenID
		}
		screen, err = s.repo.CreateScreen(screenID, device.OwnerID, name)
		if err != nil {
			return nil, apperrors.NewInternalError("Failed to create screen")
		}
	} else {
		// Ownership transitivity: the device's owner must match the screen's.
		if screen.OwnerID != device.OwnerID && !s.isAdmin(caller) {
			return nil, apperrors.NewForbiddenError("device and screen have different owners")
		}
		if screenName != "" && screenName != screen.DisplayName {
			if err := s.repo.RenameScreen(screenID, screenName); err != nil {
				return nil, apperrors.NewInternalError("Failed to rename screen")
			}
			screen.DisplayName = screenName
		}
	}

	if device.ScreenID == nil || *device.ScreenID != screenID {
		if err := s.repo.SetDeviceScreen(deviceID, &screenID); err != nil {
			return nil, apperrors.NewInternalError("Failed to bind device")
		}
	}

	return &BindResult{
		DeviceID:   deviceID,
		ScreenID:   screenID,
		ScreenName: screen.DisplayName,
	}, nil
}

// Retire soft-retires a device: the binding is cleared and the device is
// marked offline. The row itself is kept.
func (s *Service) Retire(caller auth.User, deviceID string) error {
	device, err := s.repo.GetDevice(deviceID)
	if err != nil {
		return apperrors.NewInternalError("Failed to load device")
	}
	if device == nil {
		return apperrors.NewNotFoundResource("Device", deviceID)
	}
	if device.OwnerID != caller.Sub && !s.isAdmin(caller) {
		return apperrors.NewForbiddenError("caller does not own this device")
	}

	if err := s.repo.SetDeviceScreen(deviceID, nil); err != nil {
		return apperrors.NewInternalError("Failed to retire device")
	}
	if err := s.repo.UpdateDeviceStatus(deviceID, DeviceStatusOffline); err != nil {
		return apperrors.NewInternalError("Failed to retire device")
	}
	return nil
}

// Authorize checks whether the caller may act on the addressed target.
// Exactly one of deviceID/screenID is expected to be non-empty; the command
// layer validates that before calling. Returns a Forbidden or NotFound
// AppError on failure, nil on success.
func (s *Service) Authorize(caller auth.User, deviceID, screenID string) error {
	if s.isAdmin(caller) {
		return nil
	}

	if deviceID != "" {
		device, err := s.repo.GetDevice(deviceID)
		if err != nil {
			return apperrors.NewInternalError("Failed to load device")
		}
		if device == nil {
			return apperrors.NewNotFoundResource("Device", deviceID)
		}
		if device.OwnerID == caller.Sub {
			return nil
		}
		// A device token may act on itself.
		if caller.IsDevice() && caller.Sub == deviceID {
			return nil
		}
		if device.ScreenID != nil {
			screen, err := s.repo.GetScreen(*device.ScreenID)
			if err != nil {
				return apperrors.NewInternalError("Failed to load screen")
			}
			if screen != nil && screen.OwnerID == caller.Sub {
				return nil
			}
		}
		return apperrors.NewForbiddenError("caller does not own this device")
	}

	screen, err := s.repo.GetScreen(screenID)
	if err != nil {
		return apperrors.NewInternalError("Failed to load screen")
	}
	if screen == nil {
		return apperrors.NewNotFoundResource("Screen", screenID)
	}
	if screen.OwnerID == caller.Sub {
		return nil
	}
	// A device token may act on the screen it is bound to.
	if caller.IsDevice() {
		device, err := s.repo.GetDevice(caller.Sub)
		if err == nil && device != nil && device.ScreenID != nil && *device.ScreenID == screenID {
			return nil
		}
	}
	return apperrors.NewForbiddenError("caller does not own this screen")
}

// IsAuthorized is the boolean form of Authorize.
func (s *Service) IsAuthorized(caller auth.User, deviceID, screenID string) bool {
	return s.Authorize(caller, deviceID, screenID) == nil
}

// GetDevice returns a device or a NotFound error.
func (s *Service) GetDevice(deviceID string) (*Device, error) {
	device, err := s.repo.GetDevice(deviceID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load device")
	}
	if device == nil {
		return nil, apperrors.NewNotFoundResource("Device", deviceID)
	}
	return device, nil
}

// GetScreen returns a screen or nil if it does not exist.
func (s *Service) GetScreen(screenID string) (*Screen, error) {
	return s.repo.GetScreen(screenID)
}

// ScreenOwner resolves the owning user for a screen. Used for alert routing.
func (s *Service) ScreenOwner(screenID string) (string, error) {
	screen, err := s.repo.GetScreen(screenID)
	if err != nil || screen == nil {
		return "", err
	}
	return screen.OwnerID, nil
}

// TouchLastSeen refreshes a device's last_seen without changing status.
func (s *Service) TouchLastSeen(deviceID string) error {
	return s.repo.TouchLastSeen(deviceID)
}

// DeviceScreen resolves the screen a device is currently bound to, or "".
func (s *Service) DeviceScreen(deviceID string) (string, error) {
	device, err := s.repo.GetDevice(deviceID)
	if err != nil || device == nil || device.ScreenID == nil {
		return "", err
	}
	return *device.ScreenID, nil
}

// BoundDevices returns the devices currently bound to a screen.
func (s *Service) BoundDevices(screenID string) ([]Device, error) {
	return s.repo.ListDevicesByScreen(screenID)
}

// ListDevices returns the caller's devices.
func (s *Service) ListDevices(caller auth.User) ([]Device, error) {
	devices, err := s.repo.ListDevicesByOwner(caller.Sub)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to list devices")
	}
	return devices, nil
}

func (s *Service) isAdmin(caller auth.User) bool {
	if caller.Role == auth.RoleAdmin {
		return true
	}
	return s.roles.IsAdmin(caller.Sub)
}

func newProvisioningToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
