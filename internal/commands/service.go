package commands

import (
	"log"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// Registry is the read-only slice of the device registry the queue needs:
// ownership checks, last_seen refresh, and binding lookups. The queue never
// mutates bindings.
type Registry interface {
	Authorize(caller auth.User, deviceID, screenID string) error
	TouchLastSeen(deviceID string) error
	DeviceScreen(deviceID string) (string, error)
}

// Service implements the at-least-once command queue.
type Service struct {
	repo     *Repository
	registry Registry
	pageSize int
	logger   *log.Logger
}

// NewService creates a new command queue service.
func NewService(dbPair DBPair, registry Registry, pageSize int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Service{
		repo:     NewRepository(dbPair),
		registry: registry,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Enqueue appends a new pending command for the target. Authorization and
// validation failures are terminal and surfaced to the caller; a persistence
// failure bubbles up as retryable.
func (s *Service) Enqueue(caller auth.User, target Target, command string, payload map[string]any) (string, error) {
	if command == "" {
		return "", apperrors.NewValidationError("command is required", nil)
	}
	if err := s.registry.Authorize(caller, target.DeviceID(), target.ScreenID()); err != nil {
		return "", err
	}

	commandID, err := s.repo.Insert(target, command, payload)
	if err != nil {
		s.logger.Printf("enqueue failed for %s %s: %v", target.Kind, target.ID, err)
		return "", apperrors.NewInternalError("Failed to enqueue command")
	}
	return commandID, nil
}

// EnqueueSystem appends a command on behalf of the hub itself. The broadcast
// coordinator uses this path; it has no HTTP caller to authorize.
func (s *Service) EnqueueSystem(target Target, command string, payload map[string]any) (string, error) {
	if command == "" {
		return "", apperrors.NewValidationError("command is required", nil)
	}
	commandID, err := s.repo.Insert(target, command, payload)
	if err != nil {
		s.logger.Printf("system enqueue failed for %s %s: %v", target.Kind, target.ID, err)
		return "", apperrors.NewInternalError("Failed to enqueue command")
	}
	return commandID, nil
}

// Poll returns the oldest pending commands for the device: those addressed
// to it directly plus screen-wide broadcasts for its screen. Polling twice
// before acking returns the same commands twice (at-least-once delivery).
// Transient store errors degrade to an empty page so the agent's loop never
// sees a hard failure.
func (s *Service) Poll(deviceID, screenID string) []Command {
	commands, err := s.repo.PendingFor(deviceID, screenID, s.pageSize)
	if err != nil {
		s.logger.Printf("poll failed for device %s: %v", deviceID, err)
		return []Command{}
	}

	if err := s.registry.TouchLastSeen(deviceID); err != nil {
		s.logger.Printf("touch last_seen failed for device %s: %v", deviceID, err)
	}
	return commands
}

// Ack idempotently flips the listed commands to acknowledged. Ids the device
// never legitimately received, meaning commands addressed to another device
// or another screen, are skipped rather than flipped, so a spoofed id cannot
// consume someone else's queue. The screen dimension of the match comes
// from the device's stored binding, never from anything the device claims
// on the wire. Transient failures are per-id no-ops.
func (s *Service) Ack(deviceID string, ackIDs []string) {
	screenID, err := s.registry.DeviceScreen(deviceID)
	if err != nil {
		s.logger.Printf("ack binding lookup failed for device %s: %v", deviceID, err)
		screenID = ""
	}
	for _, commandID := range ackIDs {
		command, err := s.repo.Get(commandID)
		if err != nil {
			s.logger.Printf("ack lookup failed for command %s: %v", commandID, err)
			continue
		}
		if command == nil {
			continue
		}
		if !targetMatches(command, deviceID, screenID) {
			s.logger.Printf("ack rejected: command %s is not addressed to device %s", commandID, deviceID)
			continue
		}
		if err := s.repo.Acknowledge(commandID); err != nil {
			s.logger.Printf("ack failed for command %s: %v", commandID, err)
		}
	}
}

func targetMatches(command *Command, deviceID, screenID string) bool {
	if command.DeviceID != nil {
		return *command.DeviceID == deviceID
	}
	if command.ScreenID != nil {
		return screenID != "" && *command.ScreenID == screenID
	}
	return false
}
