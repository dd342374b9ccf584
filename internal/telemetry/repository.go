package telemetry

import (
	"database/sql"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for telemetry events.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new telemetry Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// InsertBatch stores a batch of events in one transaction.
func (r *Repository) InsertBatch(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO telemetry_events (metric_name, value, id_value, path, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, event := range events {
		recordedAt := event.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		if _, err := stmt.Exec(event.MetricName, event.Value, event.IDValue, event.Path, recordedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountRecent counts events for one session id and metric since the cutoff.
func (r *Repository) CountRecent(idValue, metricName string, cutoff time.Time) (int, error) {
	var count int
	err := r.reader.QueryRow(`
		SELECT COUNT(*) FROM telemetry_events
		WHERE id_value = ? AND metric_name = ? AND recorded_at >= ?
	`, idValue, metricName, cutoff.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}

// Prune deletes events older than the cutoff. Returns rows deleted.
func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`
		DELETE FROM telemetry_events WHERE recorded_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
