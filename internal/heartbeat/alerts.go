package heartbeat

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertRepository is the sqlite-backed AlertSink plus the query surface
// owners use to read what the sweep raised.
type AlertRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(dbPair DBPair) *AlertRepository {
	return &AlertRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Raise stores a new alert. Implements AlertSink.
func (r *AlertRepository) Raise(input RaiseAlertInput) error {
	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	severity := input.Severity
	if severity == "" {
		severity = "medium"
	}

	_, err = r.writer.Exec(`
		INSERT INTO alerts (alert_id, type, severity, owner_id, screen_id, device_id, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), input.Type, severity, input.OwnerID, input.ScreenID, input.DeviceID, input.Message, string(payloadJSON), nowISO())
	return err
}

// ListByOwner returns the newest alerts for an owner.
func (r *AlertRepository) ListByOwner(ownerID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.reader.Query(`
		SELECT alert_id, type, severity, owner_id, screen_id, device_id, message, payload, created_at
		FROM alerts
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var alert Alert
		var screenID, deviceID sql.NullString
		var payloadJSON, createdAt string

		if err := rows.Scan(&alert.AlertID, &alert.Type, &alert.Severity, &alert.OwnerID, &screenID, &deviceID, &alert.Message, &payloadJSON, &createdAt); err != nil {
			return nil, err
		}
		if screenID.Valid {
			alert.ScreenID = &screenID.String
		}
		if deviceID.Valid {
			alert.DeviceID = &deviceID.String
		}
		if err := json.Unmarshal([]byte(payloadJSON), &alert.Payload); err != nil {
			alert.Payload = map[string]any{}
		}
		alert.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Prune deletes alerts older than the cutoff. Returns rows deleted.
func (r *AlertRepository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`
		DELETE FROM alerts WHERE created_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
