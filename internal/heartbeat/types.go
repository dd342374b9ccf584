package heartbeat

import "time"

// ScreenStatus is the monitor's view of a screen.
type ScreenStatus string

const (
	// StatusOnline means the last heartbeat is within the staleness threshold.
	StatusOnline ScreenStatus = "online"
	// StatusOffline means the screen has gone silent past the threshold, or
	// has never reported at all.
	StatusOffline ScreenStatus = "offline"
	// StatusError is explicitly reported by the agent, distinct from
	// silence-based offline.
	StatusError ScreenStatus = "error"
	// StatusBroadcasting is asserted by the broadcast coordinator while a
	// booking is live on the screen.
	StatusBroadcasting ScreenStatus = "broadcasting"
)

// Record is the per-screen liveness row.
type Record struct {
	ScreenID       string       `json:"screen_id"`
	Status         ScreenStatus `json:"status"`
	LastHeartbeat  *time.Time   `json:"last_heartbeat,omitempty"`
	CurrentContent *string      `json:"current_content,omitempty"`
	SignalStrength *int         `json:"signal_strength,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// HeartbeatInput carries the optional diagnostic fields a device reports.
type HeartbeatInput struct {
	Status         *ScreenStatus `json:"status,omitempty"`
	CurrentContent *string       `json:"current_content,omitempty"`
	SignalStrength *int          `json:"signal_strength,omitempty"`
}

// Alert is a routed notification raised by the monitor or by playback
// telemetry.
type Alert struct {
	AlertID   string         `json:"alert_id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	OwnerID   string         `json:"owner_id"`
	ScreenID  *string        `json:"screen_id,omitempty"`
	DeviceID  *string        `json:"device_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// RaiseAlertInput contains the fields for creating a new alert.
type RaiseAlertInput struct {
	Type     string
	Severity string
	OwnerID  string
	ScreenID *string
	DeviceID *string
	Message  string
	Payload  map[string]any
}

// AlertSink receives alerts raised by the monitor. Injected so the core can
// be tested without a live database and swapped for an external notifier.
type AlertSink interface {
	Raise(input RaiseAlertInput) error
}
