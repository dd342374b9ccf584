package heartbeat

import (
	"fmt"
	"log"
	"time"
)

// OwnerResolver maps a screen to the user its alerts are routed to.
// Implemented by the registry service.
type OwnerResolver interface {
	ScreenOwner(screenID string) (string, error)
}

// Monitor ingests liveness pings and sweeps for staleness. Detection is
// purely recency-based: a screen is offline once its last heartbeat is older
// than the staleness threshold. The offline alert is edge-triggered; it
// rides on the single online->offline transition, so a screen that stays
// silent does not re-alert on every sweep tick.
type Monitor struct {
	repo       *Repository
	alerts     AlertSink
	owners     OwnerResolver
	staleAfter time.Duration
	logger     *log.Logger
}

// NewMonitor creates a new heartbeat monitor.
func NewMonitor(dbPair DBPair, alerts AlertSink, owners OwnerResolver, staleAfter time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Monitor{
		repo:       NewRepository(dbPair),
		alerts:     alerts,
		owners:     owners,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Repo exposes the underlying repository to collaborating services.
func (m *Monitor) Repo() *Repository { return m.repo }

// RecordHeartbeat upserts the screen's record and refreshes last_heartbeat.
func (m *Monitor) RecordHeartbeat(screenID string, input HeartbeatInput) error {
	if screenID == "" {
		return fmt.Errorf("screen_id is required")
	}
	return m.repo.Upsert(screenID, input)
}

// Status returns the current record for a screen, or nil if none exists.
func (m *Monitor) Status(screenID string) (*Record, error) {
	return m.repo.Get(screenID)
}

// IsLive reports whether the screen's last heartbeat is within the
// staleness threshold. Used by the broadcast coordinator to warn operators
// before starting a broadcast on a silent screen.
func (m *Monitor) IsLive(screenID string) bool {
	record, err := m.repo.Get(screenID)
	if err != nil || record == nil || record.LastHeartbeat == nil {
		return false
	}
	if record.Status == StatusOffline || record.Status == StatusError {
		return false
	}
	return time.Since(*record.LastHeartbeat) < m.staleAfter
}

// Sweep scans for records that have gone silent past the threshold,
// transitions each to offline, and raises exactly one device_offline alert
// for the transition. A failure on one record is logged and the sweep moves
// on to the next.
func (m *Monitor) Sweep() {
	cutoff := time.Now().UTC().Add(-m.staleAfter)
	stale, err := m.repo.StaleRecords(cutoff)
	if err != nil {
		m.logger.Printf("heartbeat sweep query failed: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	m.logger.Printf("heartbeat sweep: %d stale record(s)", len(stale))

	for _, record := range stale {
		if err := m.repo.SetStatus(record.ScreenID, StatusOffline); err != nil {
			m.logger.Printf("sweep: failed to mark %s offline: %v", record.ScreenID, err)
			continue
		}

		ownerID, err := m.owners.ScreenOwner(record.ScreenID)
		if err != nil {
			m.logger.Printf("sweep: owner lookup failed for %s: %v", record.ScreenID, err)
			continue
		}
		if ownerID == "" {
			// Unowned heartbeat row; nothing to route the alert to.
			continue
		}

		screenID := record.ScreenID
		lastSeen := "never"
		if record.LastHeartbeat != nil {
			lastSeen = record.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		err = m.alerts.Raise(RaiseAlertInput{
			Type:     "device_offline",
			Severity: "medium",
			OwnerID:  ownerID,
			ScreenID: &screenID,
			Message:  fmt.Sprintf("screen %s went offline (last heartbeat: %s)", screenID, lastSeen),
			Payload: map[string]any{
				"last_heartbeat": lastSeen,
			},
		})
		if err != nil {
			m.logger.Printf("sweep: failed to raise alert for %s: %v", record.ScreenID, err)
		}
	}
}
