package registry

import (
	"database/sql"
	"errors"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for devices and screens.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new registry Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// CreateDevice inserts a new device row with a provisioning token.
func (r *Repository) CreateDevice(deviceID, ownerID, provisioningToken string) (*Device, error) {
	now := nowISO()
	_, err := r.writer.Exec(`
		INSERT INTO devices (device_id, owner_id, provisioning_token, status, created_at, updated_at)
		VALUES (?, ?, ?, 'offline', ?, ?)
	`, deviceID, ownerID, provisioningToken, now, now)
	if err != nil {
		return nil, err
	}
	return r.GetDevice(deviceID)
}

// GetDevice retrieves a device by ID. Returns nil, nil if not found.
func (r *Repository) GetDevice(deviceID string) (*Device, error) {
	row := r.reader.QueryRow(`
		SELECT device_id, owner_id, screen_id, provisioning_token, status, last_seen, created_at, updated_at
		FROM devices
		WHERE device_id = ?
	`, deviceID)
	return scanDevice(row)
}

// GetDeviceByProvisioningToken looks a device up by its one-time token.
// Returns nil, nil if no device holds the token.
func (r *Repository) GetDeviceByProvisioningToken(token string) (*Device, error) {
	row := r.reader.QueryRow(`
		SELECT device_id, owner_id, screen_id, provisioning_token, status, last_seen, created_at, updated_at
		FROM devices
		WHERE provisioning_token = ?
	`, token)
	return scanDevice(row)
}

// ClearProvisioningToken removes the one-time token after a successful exchange.
func (r *Repository) ClearProvisioningToken(deviceID string) error {
	_, err := r.writer.Exec(`
		UPDATE devices SET provisioning_token = NULL, updated_at = ? WHERE device_id = ?
	`, nowISO(), deviceID)
	return err
}

// SetDeviceScreen updates a device's screen binding. A nil screenID clears it.
func (r *Repository) SetDeviceScreen(deviceID string, screenID *string) error {
	_, err := r.writer.Exec(`
		UPDATE devices SET screen_id = ?, updated_at = ? WHERE device_id = ?
	`, screenID, nowISO(), deviceID)
	return err
}

// UpdateDeviceStatus sets the device status and refreshes last_seen.
func (r *Repository) UpdateDeviceStatus(deviceID string, status DeviceStatus) error {
	now := nowISO()
	_, err := r.writer.Exec(`
		UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE device_id = ?
	`, string(status), now, now, deviceID)
	return err
}

// TouchLastSeen refreshes last_seen without changing status.
func (r *Repository) TouchLastSeen(deviceID string) error {
	now := nowISO()
	_, err := r.writer.Exec(`
		UPDATE devices SET last_seen = ?, updated_at = ? WHERE device_id = ?
	`, now, now, deviceID)
	return err
}

// ListDevicesByOwner returns all devices owned by a user.
func (r *Repository) ListDevicesByOwner(ownerID string) ([]Device, error) {
	rows, err := r.reader.Query(`
		SELECT device_id, owner_id, screen_id, provisioning_token, status, last_seen, created_at, updated_at
		FROM devices
		WHERE owner_id = ?
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

// ListDevicesByScreen returns all devices currently bound to a screen.
func (r *Repository) ListDevicesByScreen(screenID string) ([]Device, error) {
	rows, err := r.reader.Query(`
		SELECT device_id, owner_id, screen_id, provisioning_token, status, last_seen, created_at, updated_at
		FROM devices
		WHERE screen_id = ?
		ORDER BY created_at
	`, screenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDevices(rows)
}

// GetScreen retrieves a screen by ID. Returns nil, nil if not found.
func (r *Repository) GetScreen(screenID string) (*Screen, error) {
	row := r.reader.QueryRow(`
		SELECT screen_id, owner_id, display_name, active, created_at, updated_at
		FROM screens
		WHERE screen_id = ?
	`, screenID)
	return scanScreen(row)
}

// CreateScreen inserts a new screen row.
func (r *Repository) CreateScreen(screenID, ownerID, displayName string) (*Screen, error) {
	now := nowISO()
	_, err := r.writer.Exec(`
		INSERT INTO screens (screen_id, owner_id, display_name, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, screenID, ownerID, displayName, now, now)
	if err != nil {
		return nil, err
	}
	return r.GetScreen(screenID)
}

// RenameScreen updates a screen's display name.
func (r *Repository) RenameScreen(screenID, displayName string) error {
	_, err := r.writer.Exec(`
		UPDATE screens SET display_name = ?, updated_at = ? WHERE screen_id = ?
	`, displayName, nowISO(), screenID)
	return err
}

func scanDevice(row *sql.Row) (*Device, error) {
	var device Device
	var screenID, token, lastSeen sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&device.DeviceID, &device.OwnerID, &screenID, &token, &status, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	device.Status = DeviceStatus(status)
	if screenID.Valid {
		device.ScreenID = &screenID.String
	}
	if token.Valid {
		device.ProvisioningToken = &token.String
	}
	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			device.LastSeen = &t
		}
	}
	device.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	device.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &device, nil
}

func collectDevices(rows *sql.Rows) ([]Device, error) {
	devices := []Device{}
	for rows.Next() {
		var device Device
		var screenID, token, lastSeen sql.NullString
		var status, createdAt, updatedAt string

		if err := rows.Scan(&device.DeviceID, &device.OwnerID, &screenID, &token, &status, &lastSeen, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		device.Status = DeviceStatus(status)
		if screenID.Valid {
			device.ScreenID = &screenID.String
		}
		if token.Valid {
			device.ProvisioningToken = &token.String
		}
		if lastSeen.Valid {
			if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
				device.LastSeen = &t
			}
		}
		device.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		device.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

func scanScreen(row *sql.Row) (*Screen, error) {
	var screen Screen
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&screen.ScreenID, &screen.OwnerID, &screen.DisplayName, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	screen.Active = active == 1
	screen.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	screen.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &screen, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
