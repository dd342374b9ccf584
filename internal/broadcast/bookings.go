package broadcast

import (
	"database/sql"
	"errors"
	"time"
)

// BookingStatus mirrors the upstream scheduling system's lifecycle.
type BookingStatus string

const (
	BookingScheduled    BookingStatus = "scheduled"
	BookingBroadcasting BookingStatus = "broadcasting"
	BookingCompleted    BookingStatus = "completed"
)

// Booking is a paid, scheduled content window for a screen. The scheduling
// system upstream guarantees windows for one screen never overlap.
type Booking struct {
	BookingID      string        `json:"booking_id"`
	ScreenID       string        `json:"screen_id"`
	ContentURL     string        `json:"content_url"`
	ScheduledStart time.Time     `json:"scheduled_start"`
	ScheduledEnd   time.Time     `json:"scheduled_end"`
	PaymentStatus  string        `json:"payment_status"`
	Status         BookingStatus `json:"status"`
}

// BookingStore is the external booking collaborator as the coordinator sees
// it. The sqlite-backed BookingRepository implements it; a deployment with a
// remote booking service swaps in a client instead.
type BookingStore interface {
	ActiveBooking(screenID string, now time.Time) (*Booking, error)
	BroadcastingBooking(screenID string) (*Booking, error)
	Upcoming(screenID string, now time.Time, limit int) ([]Booking, error)
	SetStatus(bookingID string, status BookingStatus) error
	ScreensNeedingReconcile(now time.Time) ([]string, error)
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// BookingRepository is the sqlite-backed BookingStore.
type BookingRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewBookingRepository creates a new BookingRepository.
func NewBookingRepository(dbPair DBPair) *BookingRepository {
	return &BookingRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Insert stores a booking row. Used by the upstream feed and by tests.
func (r *BookingRepository) Insert(booking Booking) error {
	if booking.Status == "" {
		booking.Status = BookingScheduled
	}
	_, err := r.writer.Exec(`
		INSERT INTO bookings (booking_id, screen_id, content_url, scheduled_start, scheduled_end, payment_status, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, booking.BookingID, booking.ScreenID, booking.ContentURL,
		booking.ScheduledStart.UTC().Format(time.RFC3339),
		booking.ScheduledEnd.UTC().Format(time.RFC3339),
		booking.PaymentStatus, string(booking.Status), nowISO())
	return err
}

// ActiveBooking returns the completed-payment booking whose window contains
// now for the screen, or nil if there is none.
func (r *BookingRepository) ActiveBooking(screenID string, now time.Time) (*Booking, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	row := r.reader.QueryRow(`
		SELECT booking_id, screen_id, content_url, scheduled_start, scheduled_end, payment_status, status
		FROM bookings
		WHERE screen_id = ?
		  AND payment_status = 'completed'
		  AND scheduled_start <= ?
		  AND scheduled_end >= ?
		ORDER BY scheduled_start
		LIMIT 1
	`, screenID, nowStr, nowStr)
	return scanBooking(row)
}

// BroadcastingBooking returns the booking currently marked broadcasting for
// the screen, or nil if there is none.
func (r *BookingRepository) BroadcastingBooking(screenID string) (*Booking, error) {
	row := r.reader.QueryRow(`
		SELECT booking_id, screen_id, content_url, scheduled_start, scheduled_end, payment_status, status
		FROM bookings
		WHERE screen_id = ? AND status = 'broadcasting'
		ORDER BY scheduled_start DESC
		LIMIT 1
	`, screenID)
	return scanBooking(row)
}

// Upcoming returns bookings for the screen that have not yet ended.
func (r *BookingRepository) Upcoming(screenID string, now time.Time, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.reader.Query(`
		SELECT booking_id, screen_id, content_url, scheduled_start, scheduled_end, payment_status, status
		FROM bookings
		WHERE screen_id = ? AND scheduled_end >= ?
		ORDER BY scheduled_start
		LIMIT ?
	`, screenID, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []Booking{}
	for rows.Next() {
		var booking Booking
		var start, end, status string
		if err := rows.Scan(&booking.BookingID, &booking.ScreenID, &booking.ContentURL, &start, &end, &booking.PaymentStatus, &status); err != nil {
			return nil, err
		}
		booking.ScheduledStart, _ = time.Parse(time.RFC3339, start)
		booking.ScheduledEnd, _ = time.Parse(time.RFC3339, end)
		booking.Status = BookingStatus(status)
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// SetStatus updates a booking's lifecycle status.
func (r *BookingRepository) SetStatus(bookingID string, status BookingStatus) error {
	_, err := r.writer.Exec(`
		UPDATE bookings SET status = ?, updated_at = ? WHERE booking_id = ?
	`, string(status), nowISO(), bookingID)
	return err
}

// GetStatus returns a booking's current status, or "" if unknown.
func (r *BookingRepository) GetStatus(bookingID string) (BookingStatus, error) {
	var status string
	err := r.reader.QueryRow(`SELECT status FROM bookings WHERE booking_id = ?`, bookingID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return BookingStatus(status), nil
}

// ScreensNeedingReconcile returns screens with an active paid window plus
// screens whose heartbeat or booking is still marked broadcasting, so the
// reconcile pass can both start due sessions and wind down expired ones,
// including sessions the screen went offline in the middle of.
func (r *BookingRepository) ScreensNeedingReconcile(now time.Time) ([]string, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	rows, err := r.reader.Query(`
		SELECT DISTINCT screen_id FROM bookings
		WHERE payment_status = 'completed' AND scheduled_start <= ? AND scheduled_end >= ?
		UNION
		SELECT screen_id FROM heartbeats WHERE status = 'broadcasting'
		UNION
		SELECT DISTINCT screen_id FROM bookings WHERE status = 'broadcasting'
	`, nowStr, nowStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	screens := []string{}
	for rows.Next() {
		var screenID string
		if err := rows.Scan(&screenID); err != nil {
			return nil, err
		}
		screens = append(screens, screenID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return screens, nil
}

func scanBooking(row *sql.Row) (*Booking, error) {
	var booking Booking
	var start, end, status string
	err := row.Scan(&booking.BookingID, &booking.ScreenID, &booking.ContentURL, &start, &end, &booking.PaymentStatus, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	booking.ScheduledStart, _ = time.Parse(time.RFC3339, start)
	booking.ScheduledEnd, _ = time.Parse(time.RFC3339, end)
	booking.Status = BookingStatus(status)
	return &booking, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
