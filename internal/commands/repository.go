package commands

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for the command queue.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new command queue Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Insert appends a new pending command. Enqueue never deduplicates:
// identical commands stack up and each must be executed.
func (r *Repository) Insert(target Target, command string, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	commandID := uuid.New().String()
	var deviceID, screenID any
	if target.Kind == TargetDevice {
		deviceID = target.ID
	} else {
		screenID = target.ID
	}

	_, err = r.writer.Exec(`
		INSERT INTO device_commands (command_id, device_id, screen_id, command, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, commandID, deviceID, screenID, command, string(payloadJSON), nowISO())
	if err != nil {
		return "", err
	}
	return commandID, nil
}

// PendingFor returns up to limit pending commands addressed to the device
// directly or broadcast to its screen, oldest first. Polling has no side
// effects; an unacked command shows up in every subsequent poll.
func (r *Repository) PendingFor(deviceID, screenID string, limit int) ([]Command, error) {
	rows, err := r.reader.Query(`
		SELECT command_id, device_id, screen_id, command, payload, status, created_at, acknowledged_at
		FROM device_commands
		WHERE status = 'pending'
		  AND (device_id = ? OR (screen_id = ? AND device_id IS NULL))
		ORDER BY created_at, rowid
		LIMIT ?
	`, deviceID, screenID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		command, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *command)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return commands, nil
}

// Get returns a command by id. Returns nil, nil if not found.
func (r *Repository) Get(commandID string) (*Command, error) {
	rows, err := r.reader.Query(`
		SELECT command_id, device_id, screen_id, command, payload, status, created_at, acknowledged_at
		FROM device_commands
		WHERE command_id = ?
	`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanCommand(rows)
}

// Acknowledge flips a command to acknowledged. Idempotent: a command that is
// already acknowledged keeps its original timestamp and the call is a no-op.
func (r *Repository) Acknowledge(commandID string) error {
	_, err := r.writer.Exec(`
		UPDATE device_commands
		SET status = 'acknowledged', acknowledged_at = ?
		WHERE command_id = ? AND status = 'pending'
	`, nowISO(), commandID)
	return err
}

func scanCommand(rows *sql.Rows) (*Command, error) {
	var command Command
	var deviceID, screenID, ackedAt sql.NullString
	var payloadJSON, status, createdAt string

	err := rows.Scan(&command.CommandID, &deviceID, &screenID, &command.Command, &payloadJSON, &status, &createdAt, &ackedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	command.Status = CommandStatus(status)
	if deviceID.Valid {
		command.DeviceID = &deviceID.String
	}
	if screenID.Valid {
		command.ScreenID = &screenID.String
	}
	command.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if ackedAt.Valid {
		if t, err := time.Parse(time.RFC3339, ackedAt.String); err == nil {
			command.AcknowledgedAt = &t
		}
	}
	if err := json.Unmarshal([]byte(payloadJSON), &command.Payload); err != nil {
		command.Payload = map[string]any{}
	}
	return &command, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
