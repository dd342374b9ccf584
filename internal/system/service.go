package system

import (
	"database/sql"
	"log"
	"runtime"
	"time"

	"github.com/screenhub/screen-hub-go/internal/config"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// JobStatusProvider reports whether the background job runner is running.
type JobStatusProvider interface {
	IsRunning() bool
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides system information and dashboard data.
// Uses the reader connection only; this service never writes.
type Service struct {
	cfg       config.Config
	logger    *log.Logger
	reader    *sql.DB
	jobStatus JobStatusProvider
	startTime time.Time
}

// NewService creates a new system service.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger, jobStatus JobStatusProvider) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		reader:    dbPair.Reader(),
		jobStatus: jobStatus,
		startTime: time.Now(),
	}
}

// SystemInfo holds hub process and fleet counters.
type SystemInfo struct {
	HubVersion      string  `json:"hub_version"`
	Uptime          int64   `json:"uptime_seconds"`
	MemoryUsageMB   float64 `json:"memory_mb"`
	SQLiteConnected bool    `json:"sqlite_connected"`
	DevicesOnline   int     `json:"devices_online"`
	DevicesTotal    int     `json:"devices_total"`
	ScreensActive   int     `json:"screens_active"`
	JobsRunning     bool    `json:"jobs_running"`
}

// DashboardData holds the owner-facing operational summary.
type DashboardData struct {
	BroadcastingScreens int             `json:"broadcasting_screens"`
	PendingCommands     int             `json:"pending_commands"`
	AttentionItems      []AttentionItem `json:"attention_items"`
}

// AttentionItem surfaces a recent alert on the dashboard.
type AttentionItem struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	RaisedAt string `json:"raised_at"`
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo() (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sqliteConnected := true
	if err := s.reader.Ping(); err != nil {
		sqliteConnected = false
	}

	info := &SystemInfo{
		HubVersion:      Version,
		Uptime:          int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:   float64(memStats.Alloc) / 1024.0 / 1024.0,
		SQLiteConnected: sqliteConnected,
		JobsRunning:     s.jobStatus != nil && s.jobStatus.IsRunning(),
	}

	// Counter failures degrade to zeroes; info stays serveable while the
	// database is unhappy.
	if err := s.reader.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&info.DevicesTotal); err != nil {
		s.logger.Printf("system info: device count failed: %v", err)
	}
	if err := s.reader.QueryRow(`SELECT COUNT(*) FROM devices WHERE status != 'offline'`).Scan(&info.DevicesOnline); err != nil {
		s.logger.Printf("system info: online count failed: %v", err)
	}
	if err := s.reader.QueryRow(`SELECT COUNT(*) FROM screens WHERE active = 1`).Scan(&info.ScreensActive); err != nil {
		s.logger.Printf("system info: screen count failed: %v", err)
	}

	return info, nil
}

// GetDashboardData returns the operational summary for one owner.
func (s *Service) GetDashboardData(ownerID string) (*DashboardData, error) {
	data := &DashboardData{AttentionItems: []AttentionItem{}}

	err := s.reader.QueryRow(`
		SELECT COUNT(*) FROM heartbeats h
		JOIN screens sc ON sc.screen_id = h.screen_id
		WHERE h.status = 'broadcasting' AND sc.owner_id = ?
	`, ownerID).Scan(&data.BroadcastingScreens)
	if err != nil {
		s.logger.Printf("dashboard: broadcasting count failed: %v", err)
	}

	err = s.reader.QueryRow(`
		SELECT COUNT(*) FROM device_commands dc
		JOIN devices d ON d.device_id = dc.device_id
		WHERE dc.status = 'pending' AND d.owner_id = ?
	`, ownerID).Scan(&data.PendingCommands)
	if err != nil {
		s.logger.Printf("dashboard: pending count failed: %v", err)
	}

	rows, err := s.reader.Query(`
		SELECT type, severity, message, created_at
		FROM alerts
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT 10
	`, ownerID)
	if err != nil {
		s.logger.Printf("dashboard: alert query failed: %v", err)
		return data, nil
	}
	defer rows.Close()

	for rows.Next() {
		var item AttentionItem
		if err := rows.Scan(&item.Type, &item.Severity, &item.Message, &item.RaisedAt); err != nil {
			s.logger.Printf("dashboard: alert scan failed: %v", err)
			continue
		}
		data.AttentionItems = append(data.AttentionItems, item)
	}
	return data, nil
}
