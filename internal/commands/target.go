package commands

import (
	"github.com/screenhub/screen-hub-go/internal/apperrors"
)

// TargetKind discriminates command addressing.
type TargetKind string

const (
	// TargetDevice addresses a single device.
	TargetDevice TargetKind = "device"
	// TargetScreen broadcasts to every device bound to the screen.
	TargetScreen TargetKind = "screen"
)

// Target is the validated form of the "exactly one of device_id/screen_id"
// addressing rule. It is built once at the API boundary and passed as a
// value everywhere else, so no downstream call has to re-check the pair.
type Target struct {
	Kind TargetKind
	ID   string
}

// ParseTarget validates the optional id pair into a Target.
func ParseTarget(deviceID, screenID string) (Target, error) {
	switch {
	case deviceID == "" && screenID == "":
		return Target{}, apperrors.NewValidationError("exactly one of device_id or screen_id is required", nil)
	case deviceID != "" && screenID != "":
		return Target{}, apperrors.NewValidationError("device_id and screen_id are mutually exclusive", nil)
	case deviceID != "":
		return Target{Kind: TargetDevice, ID: deviceID}, nil
	default:
		return Target{Kind: TargetScreen, ID: screenID}, nil
	}
}

// DeviceID returns the device id or "" for screen targets.
func (t Target) DeviceID() string {
	if t.Kind == TargetDevice {
		return t.ID
	}
	return ""
}

// ScreenID returns the screen id or "" for device targets.
func (t Target) ScreenID() string {
	if t.Kind == TargetScreen {
		return t.ID
	}
	return ""
}
