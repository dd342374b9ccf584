package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/heartbeat"
)

// Service ingests playback telemetry and watches for rebuffer storms. The
// id_value of a rebuffer sample is the reporting screen's id, which is how a
// storm gets routed to an owner.
type Service struct {
	repo   *Repository
	alerts heartbeat.AlertSink
	owners heartbeat.OwnerResolver
	logger *log.Logger

	stormThreshold int
	stormWindow    time.Duration

	mu          sync.Mutex
	lastAlerted map[string]time.Time
}

// NewService creates a new telemetry service.
func NewService(dbPair DBPair, alerts heartbeat.AlertSink, owners heartbeat.OwnerResolver, stormThreshold int, stormWindow time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if stormThreshold <= 0 {
		stormThreshold = 5
	}
	if stormWindow <= 0 {
		stormWindow = time.Minute
	}
	return &Service{
		repo:           NewRepository(dbPair),
		alerts:         alerts,
		owners:         owners,
		logger:         logger,
		stormThreshold: stormThreshold,
		stormWindow:    stormWindow,
		lastAlerted:    make(map[string]time.Time),
	}
}

// Ingest shape-checks and persists a batch. Only the shape is validated;
// unknown metric names are stored as-is so a frontend rollout never races a
// hub deploy. Returns the number of events accepted; a store failure is
// logged and degrades to zero accepted rather than an error, since players
// fire and forget and must never stall on telemetry.
func (s *Service) Ingest(events []Event) (int, error) {
	for i, event := range events {
		if event.MetricName == "" {
			return 0, apperrors.NewValidationError(fmt.Sprintf("metrics[%d].metric_name is required", i), nil)
		}
		if event.IDValue == "" {
			return 0, apperrors.NewValidationError(fmt.Sprintf("metrics[%d].id_value is required", i), nil)
		}
	}

	if err := s.repo.InsertBatch(events); err != nil {
		s.logger.Printf("telemetry insert failed, dropping %d event(s): %v", len(events), err)
		return 0, nil
	}

	for _, event := range events {
		if event.MetricName == MetricRebuffer {
			s.checkRebufferStorm(event.IDValue)
		}
	}
	return len(events), nil
}

// checkRebufferStorm raises a rebuffer_storm alert when a screen crosses the
// threshold inside the window. At most one alert per screen per window; a
// storm that keeps going does not re-alert every sample.
func (s *Service) checkRebufferStorm(screenID string) {
	now := time.Now()

	s.mu.Lock()
	if last, ok := s.lastAlerted[screenID]; ok && now.Sub(last) < s.stormWindow {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	count, err := s.repo.CountRecent(screenID, MetricRebuffer, now.Add(-s.stormWindow))
	if err != nil {
		s.logger.Printf("rebuffer storm check failed for %s: %v", screenID, err)
		return
	}
	if count < s.stormThreshold {
		return
	}

	ownerID, err := s.owners.ScreenOwner(screenID)
	if err != nil || ownerID == "" {
		// Telemetry from an unregistered screen; nothing to route the alert to.
		return
	}

	err = s.alerts.Raise(heartbeat.RaiseAlertInput{
		Type:     "rebuffer_storm",
		Severity: "high",
		OwnerID:  ownerID,
		ScreenID: &screenID,
		Message:  fmt.Sprintf("screen %s reported %d rebuffer events in %s", screenID, count, s.stormWindow),
		Payload: map[string]any{
			"rebuffer_count": count,
			"window_seconds": int(s.stormWindow.Seconds()),
		},
	})
	if err != nil {
		s.logger.Printf("failed to raise rebuffer storm alert for %s: %v", screenID, err)
		return
	}

	s.mu.Lock()
	s.lastAlerted[screenID] = now
	s.mu.Unlock()
}
