package broadcast

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
	"github.com/screenhub/screen-hub-go/internal/commands"
	"github.com/screenhub/screen-hub-go/internal/db"
	"github.com/screenhub/screen-hub-go/internal/heartbeat"
	"github.com/screenhub/screen-hub-go/internal/registry"
)

var owner = auth.User{Sub: "owner-1", Role: auth.RoleOwner}

type coordinatorFixture struct {
	coordinator *Coordinator
	bookings    *BookingRepository
	monitor     *heartbeat.Monitor
	queue       *commands.Service
	alerts      *heartbeat.AlertRepository
	dbPair      *db.DBPair
}

func setupCoordinator(t *testing.T) *coordinatorFixture {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	registryService := registry.NewService(dbPair, nil, nil)
	_, _, err = registryService.Provision(owner, "device-1")
	require.NoError(t, err)
	_, err = registryService.Bind(owner, "device-1", "screen-1", "")
	require.NoError(t, err)

	alerts := heartbeat.NewAlertRepository(dbPair)
	monitor := heartbeat.NewMonitor(dbPair, alerts, registryService, 5*time.Minute, nil)
	queue := commands.NewService(dbPair, registryService, 10, nil)
	bookings := NewBookingRepository(dbPair)

	return &coordinatorFixture{
		coordinator: NewCoordinator(bookings, monitor, queue, nil),
		bookings:    bookings,
		monitor:     monitor,
		queue:       queue,
		alerts:      alerts,
		dbPair:      dbPair,
	}
}

func insertBooking(t *testing.T, f *coordinatorFixture, bookingID string, start, end time.Time, paymentStatus string) {
	t.Helper()
	require.NoError(t, f.bookings.Insert(Booking{
		BookingID:      bookingID,
		ScreenID:       "screen-1",
		ContentURL:     "https://cdn.example/" + bookingID + ".mp4",
		ScheduledStart: start,
		ScheduledEnd:   end,
		PaymentStatus:  paymentStatus,
	}))
}

func pendingCommands(f *coordinatorFixture) []commands.Command {
	return f.queue.Poll("device-1", "screen-1")
}

func TestStartWithExplicitContent(t *testing.T) {
	f := setupCoordinator(t)

	state, err := f.coordinator.Start("screen-1", "", "https://cdn.example/manual.mp4")
	require.NoError(t, err)
	require.True(t, state.Changed)
	require.Equal(t, "broadcasting", state.Status)
	// No heartbeat yet, so the operator gets warned.
	require.NotEmpty(t, state.Warning)

	record, err := f.monitor.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, heartbeat.StatusBroadcasting, record.Status)
	require.NotNil(t, record.CurrentContent)
	require.Equal(t, "https://cdn.example/manual.mp4", *record.CurrentContent)

	pending := pendingCommands(f)
	require.Len(t, pending, 1)
	require.Equal(t, "set_content", pending[0].Command)
	require.Equal(t, "https://cdn.example/manual.mp4", pending[0].Payload["content_url"])
}

func TestStartIsIdempotent(t *testing.T) {
	f := setupCoordinator(t)

	first, err := f.coordinator.Start("screen-1", "", "https://cdn.example/a.mp4")
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := f.coordinator.Start("screen-1", "", "https://cdn.example/a.mp4")
	require.NoError(t, err)
	require.False(t, second.Changed)

	require.Len(t, pendingCommands(f), 1)
}

func TestStartSwitchesContent(t *testing.T) {
	f := setupCoordinator(t)

	_, err := f.coordinator.Start("screen-1", "", "https://cdn.example/a.mp4")
	require.NoError(t, err)

	state, err := f.coordinator.Start("screen-1", "", "https://cdn.example/b.mp4")
	require.NoError(t, err)
	require.True(t, state.Changed)

	require.Len(t, pendingCommands(f), 2)
}

func TestStartRequiresContentWithoutBooking(t *testing.T) {
	f := setupCoordinator(t)

	_, err := f.coordinator.Start("screen-1", "", "")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeValidationError, apperrors.EnsureAppError(err).Code)
}

func TestStartUsesActiveBooking(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")

	state, err := f.coordinator.Start("screen-1", "", "")
	require.NoError(t, err)
	require.True(t, state.Changed)
	require.Equal(t, "booking-1", state.BookingID)
	require.Equal(t, "https://cdn.example/booking-1.mp4", state.ContentURL)

	status, err := f.bookings.GetStatus("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingBroadcasting, status)
}

func TestStartSkipsLiveWarningWhenHealthy(t *testing.T) {
	f := setupCoordinator(t)

	require.NoError(t, f.monitor.RecordHeartbeat("screen-1", heartbeat.HeartbeatInput{}))

	state, err := f.coordinator.Start("screen-1", "", "https://cdn.example/a.mp4")
	require.NoError(t, err)
	require.Empty(t, state.Warning)
}

func TestStopWindsDownSession(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")
	_, err := f.coordinator.Start("screen-1", "", "")
	require.NoError(t, err)
	// Consume the set_content command so only stop_content remains pending.
	for _, cmd := range pendingCommands(f) {
		f.queue.Ack("device-1", []string{cmd.CommandID})
	}

	state, err := f.coordinator.Stop("screen-1")
	require.NoError(t, err)
	require.True(t, state.Changed)
	require.Equal(t, "booking-1", state.BookingID)

	record, err := f.monitor.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, heartbeat.StatusOnline, record.Status)
	require.Nil(t, record.CurrentContent)

	status, err := f.bookings.GetStatus("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingCompleted, status)

	pending := pendingCommands(f)
	require.Len(t, pending, 1)
	require.Equal(t, "stop_content", pending[0].Command)
}

func TestStopIsIdempotent(t *testing.T) {
	f := setupCoordinator(t)

	_, err := f.coordinator.Start("screen-1", "", "https://cdn.example/a.mp4")
	require.NoError(t, err)

	first, err := f.coordinator.Stop("screen-1")
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := f.coordinator.Stop("screen-1")
	require.NoError(t, err)
	require.False(t, second.Changed)

	// One set_content plus exactly one stop_content.
	require.Len(t, pendingCommands(f), 2)
}

func TestReconcileStartsDueBooking(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")

	state, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.True(t, state.Changed)

	record, err := f.monitor.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, heartbeat.StatusBroadcasting, record.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")

	first, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.False(t, second.Changed)

	require.Len(t, pendingCommands(f), 1)
}

func TestReconcileStopsExpiredWindow(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")
	_, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)

	// The window ends; the next pass winds the session down.
	_, err = f.dbPair.Writer().Exec(
		`UPDATE bookings SET scheduled_end = ? WHERE booking_id = 'booking-1'`,
		now.Add(-time.Second).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	state, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.True(t, state.Changed)
	require.Equal(t, "online", state.Status)

	status, err := f.bookings.GetStatus("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingCompleted, status)
}

func TestSilentScreenConvergesAcrossSweeps(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")

	// The screen never sends a heartbeat, so every sweep finds it stale.
	// Alternating reconcile and sweep passes must settle after the first
	// round trip: one set_content, one offline alert, no oscillation.
	for i := 0; i < 3; i++ {
		_, err := f.coordinator.Reconcile("screen-1")
		require.NoError(t, err)
		f.monitor.Sweep()
	}

	require.Len(t, pendingCommands(f), 1)

	alerts, err := f.alerts.ListByOwner("owner-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	record, err := f.monitor.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, heartbeat.StatusOffline, record.Status)
}

func TestReconcileWindsDownOfflineSession(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")
	_, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	f.monitor.Sweep()

	// The window ends while the screen is still unreachable.
	_, err = f.dbPair.Writer().Exec(
		`UPDATE bookings SET scheduled_end = ? WHERE booking_id = 'booking-1'`,
		now.Add(-time.Second).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	state, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.True(t, state.Changed)

	status, err := f.bookings.GetStatus("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingCompleted, status)

	// The booking completes and the content clears, but the screen stays
	// offline until a real heartbeat revives it.
	record, err := f.monitor.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, heartbeat.StatusOffline, record.Status)
	require.Nil(t, record.CurrentContent)
}

func TestReconcileIgnoresUnpaidBooking(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "pending")

	state, err := f.coordinator.Reconcile("screen-1")
	require.NoError(t, err)
	require.False(t, state.Changed)
	require.Empty(t, pendingCommands(f))
}

func TestReconcileAll(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")

	changed := f.coordinator.ReconcileAll()
	require.Equal(t, 1, changed)

	// Converged; a second pass changes nothing.
	require.Equal(t, 0, f.coordinator.ReconcileAll())
}

func TestStatus(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(-time.Minute), now.Add(time.Hour), "completed")
	_, err := f.coordinator.Start("screen-1", "", "")
	require.NoError(t, err)

	status, err := f.coordinator.Status("screen-1")
	require.NoError(t, err)
	require.Equal(t, "broadcasting", status["status"])
	require.NotNil(t, status["active_booking"])
	require.Equal(t, false, status["in_progress"])
}

func TestSchedule(t *testing.T) {
	f := setupCoordinator(t)

	now := time.Now()
	insertBooking(t, f, "booking-1", now.Add(time.Hour), now.Add(2*time.Hour), "completed")
	insertBooking(t, f, "booking-2", now.Add(3*time.Hour), now.Add(4*time.Hour), "completed")
	insertBooking(t, f, "booking-0", now.Add(-2*time.Hour), now.Add(-time.Hour), "completed")

	bookings, err := f.coordinator.Schedule("screen-1", 10)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	require.Equal(t, "booking-1", bookings[0].BookingID)
	require.Equal(t, "booking-2", bookings[1].BookingID)
}

func TestScreenLockSerializes(t *testing.T) {
	lock := NewScreenLock()

	var mu sync.Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lock.WithLock("screen-1", func() error {
				mu.Lock()
				counter++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 20, counter)
	require.False(t, lock.IsLocked("screen-1"))
}
