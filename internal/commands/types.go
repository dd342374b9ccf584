package commands

import "time"

// CommandStatus is the two-state command lifecycle. The queue is append/ack:
// rows only ever move pending -> acknowledged and are never deleted.
type CommandStatus string

const (
	StatusPending      CommandStatus = "pending"
	StatusAcknowledged CommandStatus = "acknowledged"
)

// Command is a single addressed, ack-able instruction in the queue.
type Command struct {
	CommandID      string         `json:"id"`
	DeviceID       *string        `json:"device_id,omitempty"`
	ScreenID       *string        `json:"screen_id,omitempty"`
	Command        string         `json:"command"`
	Payload        map[string]any `json:"payload"`
	Status         CommandStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}
