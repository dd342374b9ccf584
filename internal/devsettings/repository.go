package devsettings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for layered device settings.
// Rows are keyed by the (device_id, screen_id) pair as supplied; the empty
// string stands in for an absent id so the pair can be a primary key.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new settings Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Upsert overwrites the settings map stored under the exact key pair.
func (r *Repository) Upsert(deviceID, screenID string, settings map[string]any) error {
	if settings == nil {
		settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	_, err = r.writer.Exec(`
		INSERT INTO device_settings (device_id, screen_id, settings, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, screen_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`, deviceID, screenID, string(settingsJSON), nowISO())
	return err
}

// GetByDevice returns the settings map of any row scoped to the device,
// regardless of its screen component. Returns nil if no row exists.
func (r *Repository) GetByDevice(deviceID string) (map[string]any, error) {
	row := r.reader.QueryRow(`
		SELECT settings FROM device_settings
		WHERE device_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, deviceID)
	return scanSettings(row)
}

// GetByScreen returns the screen-default settings map: a row scoped to the
// screen with no device component. Returns nil if no row exists.
func (r *Repository) GetByScreen(screenID string) (map[string]any, error) {
	row := r.reader.QueryRow(`
		SELECT settings FROM device_settings
		WHERE screen_id = ? AND device_id = ''
	`, screenID)
	return scanSettings(row)
}

func scanSettings(row *sql.Row) (map[string]any, error) {
	var settingsJSON string
	if err := row.Scan(&settingsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	settings := map[string]any{}
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
