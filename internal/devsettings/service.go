package devsettings

import (
	"log"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// Authorizer is the registry's ownership check.
type Authorizer interface {
	Authorize(caller auth.User, deviceID, screenID string) error
}

// Service resolves effective configuration for a device by cascading from
// a device-scoped row to the screen default. There is no key-level merging:
// a device row shadows the screen map entirely, so an agent always gets one
// unambiguous settings object.
type Service struct {
	repo       *Repository
	authorizer Authorizer
	logger     *log.Logger
}

// NewService creates a new settings service.
func NewService(dbPair DBPair, authorizer Authorizer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:       NewRepository(dbPair),
		authorizer: authorizer,
		logger:     logger,
	}
}

// Get resolves settings: device row first, then screen default, then an
// empty map. "No settings" is a valid steady state, never an error, and
// transient store failures also degrade to the empty map.
func (s *Service) Get(deviceID, screenID string) map[string]any {
	if deviceID != "" {
		settings, err := s.repo.GetByDevice(deviceID)
		if err != nil {
			s.logger.Printf("settings lookup failed for device %s: %v", deviceID, err)
			return map[string]any{}
		}
		if settings != nil {
			return settings
		}
	}

	if screenID != "" {
		settings, err := s.repo.GetByScreen(screenID)
		if err != nil {
			s.logger.Printf("settings lookup failed for screen %s: %v", screenID, err)
			return map[string]any{}
		}
		if settings != nil {
			return settings
		}
	}

	return map[string]any{}
}

// Set upserts the settings map under the (device_id, screen_id) pair as
// supplied. Both ids may be present to write a device-specific override
// while leaving the screen default intact.
func (s *Service) Set(caller auth.User, deviceID, screenID string, settings map[string]any) error {
	if deviceID == "" && screenID == "" {
		return apperrors.NewValidationError("at least one of device_id or screen_id is required", nil)
	}
	if settings == nil {
		return apperrors.NewValidationError("settings is required", nil)
	}

	// Authorize against the most specific id supplied.
	authDevice, authScreen := deviceID, ""
	if deviceID == "" {
		authDevice, authScreen = "", screenID
	}
	if err := s.authorizer.Authorize(caller, authDevice, authScreen); err != nil {
		return err
	}

	if err := s.repo.Upsert(deviceID, screenID, settings); err != nil {
		s.logger.Printf("settings upsert failed for (%s, %s): %v", deviceID, screenID, err)
		return apperrors.NewInternalError("Failed to store settings")
	}
	return nil
}
