package heartbeat

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

// Repository handles database operations for heartbeat records.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new heartbeat Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Upsert records a heartbeat, always refreshing last_heartbeat to now.
// Status defaults to online unless the agent reports otherwise; a nil
// CurrentContent leaves the stored content untouched.
func (r *Repository) Upsert(screenID string, input HeartbeatInput) error {
	now := nowISO()
	status := StatusOnline
	if input.Status != nil {
		status = *input.Status
	}

	_, err := r.writer.Exec(`
		INSERT INTO heartbeats (screen_id, status, last_heartbeat, current_content, signal_strength, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(screen_id) DO UPDATE SET
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			current_content = COALESCE(excluded.current_content, heartbeats.current_content),
			signal_strength = COALESCE(excluded.signal_strength, heartbeats.signal_strength),
			updated_at = excluded.updated_at
	`, screenID, string(status), now, input.CurrentContent, input.SignalStrength, now)
	return err
}

// Get returns the heartbeat record for a screen. Returns nil, nil if none.
func (r *Repository) Get(screenID string) (*Record, error) {
	row := r.reader.QueryRow(`
		SELECT screen_id, status, last_heartbeat, current_content, signal_strength, updated_at
		FROM heartbeats
		WHERE screen_id = ?
	`, screenID)
	return scanRecord(row)
}

// StaleRecords returns records whose last heartbeat is older than the cutoff
// and that are not already marked offline. Records with no heartbeat at all
// are included: silence since creation is staleness too.
func (r *Repository) StaleRecords(cutoff time.Time) ([]Record, error) {
	rows, err := r.reader.Query(`
		SELECT screen_id, status, last_heartbeat, current_content, signal_strength, updated_at
		FROM heartbeats
		WHERE status != 'offline'
		  AND (last_heartbeat IS NULL OR last_heartbeat < ?)
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var record Record
		var lastHeartbeat, currentContent sql.NullString
		var signalStrength sql.NullInt64
		var status, updatedAt string

		if err := rows.Scan(&record.ScreenID, &status, &lastHeartbeat, &currentContent, &signalStrength, &updatedAt); err != nil {
			return nil, err
		}
		fillRecord(&record, status, lastHeartbeat, currentContent, signalStrength, updatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// SetStatus forces a status transition on a record, creating it if needed.
func (r *Repository) SetStatus(screenID string, status ScreenStatus) error {
	now := nowISO()
	_, err := r.writer.Exec(`
		INSERT INTO heartbeats (screen_id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(screen_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, screenID, string(status), now)
	return err
}

// SetBroadcastState is used by the broadcast coordinator to assert a
// screen's state and current content in one write.
func (r *Repository) SetBroadcastState(screenID string, status ScreenStatus, contentURL *string) error {
	now := nowISO()
	_, err := r.writer.Exec(`
		INSERT INTO heartbeats (screen_id, status, current_content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(screen_id) DO UPDATE SET
			status = excluded.status,
			current_content = excluded.current_content,
			updated_at = excluded.updated_at
	`, screenID, string(status), contentURL, now)
	return err
}

func scanRecord(row *sql.Row) (*Record, error) {
	var record Record
	var lastHeartbeat, currentContent sql.NullString
	var signalStrength sql.NullInt64
	var status, updatedAt string

	err := row.Scan(&record.ScreenID, &status, &lastHeartbeat, &currentContent, &signalStrength, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	fillRecord(&record, status, lastHeartbeat, currentContent, signalStrength, updatedAt)
	return &record, nil
}

func fillRecord(record *Record, status string, lastHeartbeat, currentContent sql.NullString, signalStrength sql.NullInt64, updatedAt string) {
	record.Status = ScreenStatus(status)
	if lastHeartbeat.Valid {
		if t, err := time.Parse(time.RFC3339, lastHeartbeat.String); err == nil {
			record.LastHeartbeat = &t
		}
	}
	if currentContent.Valid {
		record.CurrentContent = &currentContent.String
	}
	if signalStrength.Valid {
		v := int(signalStrength.Int64)
		record.SignalStrength = &v
	}
	record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
