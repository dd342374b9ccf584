package registry

import "time"

// DeviceStatus tracks the agent-reported state of a device.
type DeviceStatus string

const (
	DeviceStatusIdle    DeviceStatus = "idle"
	DeviceStatusPlaying DeviceStatus = "playing"
	DeviceStatusError   DeviceStatus = "error"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device is a physical or virtual agent capable of polling for commands and
// reporting heartbeats. Devices are never hard-deleted; retiring a device
// clears its screen binding and marks it offline.
type Device struct {
	DeviceID          string       `json:"device_id"`
	OwnerID           string       `json:"owner_id"`
	ScreenID          *string      `json:"screen_id,omitempty"`
	ProvisioningToken *string      `json:"-"`
	Status            DeviceStatus `json:"status"`
	LastSeen          *time.Time   `json:"last_seen,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Screen is the logical advertising surface devices are bound to. One screen
// may be served by several devices (a primary plus replacements); a device
// belongs to at most one screen at a time.
type Screen struct {
	ScreenID    string    `json:"screen_id"`
	OwnerID     string    `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BindResult is returned from a successful bind call.
type BindResult struct {
	DeviceID   string `json:"device_id"`
	ScreenID   string `json:"screen_id"`
	ScreenName string `json:"screen_name"`
}
