package broadcast

import (
	"log"
	"time"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/commands"
	"github.com/screenhub/screen-hub-go/internal/heartbeat"
)

// CommandEnqueuer is the command queue as the coordinator uses it.
type CommandEnqueuer interface {
	EnqueueSystem(target commands.Target, command string, payload map[string]any) (string, error)
}

// ScreenState is what the coordinator reads and asserts about a screen.
// Implemented by the heartbeat monitor.
type ScreenState interface {
	Status(screenID string) (*heartbeat.Record, error)
	IsLive(screenID string) bool
	Repo() *heartbeat.Repository
}

// SessionState is the outcome of a coordinator operation.
type SessionState struct {
	ScreenID   string `json:"screen_id"`
	BookingID  string `json:"booking_id,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
	Status     string `json:"status"`
	Changed    bool   `json:"changed"`
	Warning    string `json:"warning,omitempty"`
}

// Coordinator reconciles booking windows with actual screen state. All
// operations are level-triggered against the stored state, so running the
// same operation twice converges instead of stacking side effects.
type Coordinator struct {
	bookings BookingStore
	screens  ScreenState
	queue    CommandEnqueuer
	locks    *ScreenLock
	logger   *log.Logger
}

// NewCoordinator creates a new broadcast coordinator.
func NewCoordinator(bookings BookingStore, screens ScreenState, queue CommandEnqueuer, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		bookings: bookings,
		screens:  screens,
		queue:    queue,
		locks:    NewScreenLock(),
		logger:   logger,
	}
}

// Start begins broadcasting on a screen. With an empty contentURL the active
// booking's content is used. Starting an already-broadcasting screen with the
// same content is a no-op that reports Changed=false; the booking transition
// and the set_content command fire only on an actual state change.
func (c *Coordinator) Start(screenID, bookingID, contentURL string) (*SessionState, error) {
	if screenID == "" {
		return nil, apperrors.NewValidationError("screen_id is required", nil)
	}

	var state *SessionState
	err := c.locks.WithLock(screenID, func() error {
		booking, err := c.bookings.ActiveBooking(screenID, time.Now())
		if err != nil {
			c.logger.Printf("broadcast start: booking lookup failed for %s: %v", screenID, err)
			return apperrors.NewInternalError("Failed to look up bookings")
		}

		if bookingID == "" && booking != nil {
			bookingID = booking.BookingID
		}
		if contentURL == "" {
			if booking == nil {
				return apperrors.NewValidationError("content_url is required when no booking is active", nil)
			}
			contentURL = booking.ContentURL
		}

		state, err = c.startLocked(screenID, bookingID, contentURL, booking)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// startLocked assumes the screen lock is held. active is the screen's
// current active booking, if any; its status is part of the idempotence
// check.
func (c *Coordinator) startLocked(screenID, bookingID, contentURL string, active *Booking) (*SessionState, error) {
	state := &SessionState{
		ScreenID:   screenID,
		BookingID:  bookingID,
		ContentURL: contentURL,
		Status:     string(heartbeat.StatusBroadcasting),
	}
	if !c.screens.IsLive(screenID) {
		state.Warning = "screen has no recent heartbeat; the device may not pick up the broadcast"
	}

	record, err := c.screens.Status(screenID)
	if err != nil {
		c.logger.Printf("broadcast start: state lookup failed for %s: %v", screenID, err)
		return nil, apperrors.NewInternalError("Failed to look up screen state")
	}
	contentMatches := record != nil && record.CurrentContent != nil && *record.CurrentContent == contentURL
	if contentMatches && record.Status == heartbeat.StatusBroadcasting {
		return state, nil
	}
	// The sweep flips an unreachable screen to offline without touching its
	// content. Once the booking itself is broadcasting the session is
	// already asserted; re-asserting it here would enqueue a duplicate
	// set_content and hand the next sweep a fresh offline transition.
	if contentMatches && active != nil && active.Status == BookingBroadcasting {
		state.Status = string(record.Status)
		return state, nil
	}

	if err := c.screens.Repo().SetBroadcastState(screenID, heartbeat.StatusBroadcasting, &contentURL); err != nil {
		c.logger.Printf("broadcast start: state write failed for %s: %v", screenID, err)
		return nil, apperrors.NewInternalError("Failed to update screen state")
	}
	if bookingID != "" {
		if err := c.bookings.SetStatus(bookingID, BookingBroadcasting); err != nil {
			c.logger.Printf("broadcast start: booking transition failed for %s: %v", bookingID, err)
		}
	}

	payload := map[string]any{"content_url": contentURL}
	if bookingID != "" {
		payload["booking_id"] = bookingID
	}
	target := commands.Target{Kind: commands.TargetScreen, ID: screenID}
	if _, err := c.queue.EnqueueSystem(target, "set_content", payload); err != nil {
		c.logger.Printf("broadcast start: enqueue failed for %s: %v", screenID, err)
	}

	state.Changed = true
	return state, nil
}

// Stop winds down broadcasting on a screen. Stopping a screen that is not
// broadcasting is a no-op that reports Changed=false.
func (c *Coordinator) Stop(screenID string) (*SessionState, error) {
	if screenID == "" {
		return nil, apperrors.NewValidationError("screen_id is required", nil)
	}

	var state *SessionState
	err := c.locks.WithLock(screenID, func() error {
		var err error
		state, err = c.stopLocked(screenID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// stopLocked assumes the screen lock is held.
func (c *Coordinator) stopLocked(screenID string) (*SessionState, error) {
	record, err := c.screens.Status(screenID)
	if err != nil {
		c.logger.Printf("broadcast stop: state lookup failed for %s: %v", screenID, err)
		return nil, apperrors.NewInternalError("Failed to look up screen state")
	}

	state := &SessionState{ScreenID: screenID, Status: statusOf(record)}

	booking, err := c.bookings.BroadcastingBooking(screenID)
	if err != nil {
		c.logger.Printf("broadcast stop: booking lookup failed for %s: %v", screenID, err)
	}
	if booking != nil {
		state.BookingID = booking.BookingID
		if err := c.bookings.SetStatus(booking.BookingID, BookingCompleted); err != nil {
			c.logger.Printf("broadcast stop: booking transition failed for %s: %v", booking.BookingID, err)
		}
	}

	wasBroadcasting := record != nil && record.Status == heartbeat.StatusBroadcasting
	if !wasBroadcasting && booking == nil {
		return state, nil
	}

	// An offline screen keeps its offline status; only the session
	// dimension winds down, so the sweep's verdict survives.
	next := heartbeat.StatusOnline
	if record != nil && record.Status == heartbeat.StatusOffline {
		next = heartbeat.StatusOffline
	}
	if err := c.screens.Repo().SetBroadcastState(screenID, next, nil); err != nil {
		c.logger.Printf("broadcast stop: state write failed for %s: %v", screenID, err)
		return nil, apperrors.NewInternalError("Failed to update screen state")
	}

	target := commands.Target{Kind: commands.TargetScreen, ID: screenID}
	if _, err := c.queue.EnqueueSystem(target, "stop_content", nil); err != nil {
		c.logger.Printf("broadcast stop: enqueue failed for %s: %v", screenID, err)
	}

	state.Status = string(next)
	state.Changed = true
	return state, nil
}

// Status reports the screen's live state alongside its booking context.
func (c *Coordinator) Status(screenID string) (map[string]any, error) {
	if screenID == "" {
		return nil, apperrors.NewValidationError("screen_id is required", nil)
	}

	record, err := c.screens.Status(screenID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to look up screen state")
	}

	status := string(heartbeat.StatusOffline)
	var currentContent any
	if record != nil {
		status = string(record.Status)
		if record.CurrentContent != nil {
			currentContent = *record.CurrentContent
		}
	}

	result := map[string]any{
		"screen_id":       screenID,
		"status":          status,
		"current_content": currentContent,
		"live":            c.screens.IsLive(screenID),
		"in_progress":     c.locks.IsLocked(screenID),
	}

	if booking, err := c.bookings.ActiveBooking(screenID, time.Now()); err == nil && booking != nil {
		result["active_booking"] = booking
	}
	return result, nil
}

// Schedule returns the screen's upcoming bookings.
func (c *Coordinator) Schedule(screenID string, limit int) ([]Booking, error) {
	if screenID == "" {
		return nil, apperrors.NewValidationError("screen_id is required", nil)
	}
	bookings, err := c.bookings.Upcoming(screenID, time.Now(), limit)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to list bookings")
	}
	return bookings, nil
}

// Reconcile converges one screen: a paid window with no broadcast starts one,
// a broadcast with no window winds down, and matching state is left alone.
func (c *Coordinator) Reconcile(screenID string) (*SessionState, error) {
	var state *SessionState
	err := c.locks.WithLock(screenID, func() error {
		booking, err := c.bookings.ActiveBooking(screenID, time.Now())
		if err != nil {
			return err
		}
		record, err := c.screens.Status(screenID)
		if err != nil {
			return err
		}

		broadcasting := record != nil && record.Status == heartbeat.StatusBroadcasting

		switch {
		case booking != nil:
			state, err = c.startLocked(screenID, booking.BookingID, booking.ContentURL, booking)
		case broadcasting:
			state, err = c.stopLocked(screenID)
		default:
			// A session interrupted by an outage can leave its booking
			// stuck in broadcasting after the window ends; wind it down.
			lingering, lerr := c.bookings.BroadcastingBooking(screenID)
			if lerr == nil && lingering != nil {
				state, err = c.stopLocked(screenID)
			} else {
				state = &SessionState{ScreenID: screenID, Status: statusOf(record)}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ReconcileAll runs Reconcile over every screen that has either an active
// paid window or a lingering broadcasting state. Per-screen failures are
// logged and the pass continues. Returns the number of screens changed.
func (c *Coordinator) ReconcileAll() int {
	screens, err := c.bookings.ScreensNeedingReconcile(time.Now())
	if err != nil {
		c.logger.Printf("reconcile: screen query failed: %v", err)
		return 0
	}

	changed := 0
	for _, screenID := range screens {
		state, err := c.Reconcile(screenID)
		if err != nil {
			c.logger.Printf("reconcile: %s failed: %v", screenID, err)
			continue
		}
		if state.Changed {
			c.logger.Printf("reconcile: screen %s -> %s", screenID, state.Status)
			changed++
		}
	}
	return changed
}

func statusOf(record *heartbeat.Record) string {
	if record == nil {
		return string(heartbeat.StatusOffline)
	}
	return string(record.Status)
}
