package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the base server configuration.
type Config struct {
	Host          string
	Port          string
	SQLiteDBPath  string
	AppEnv        string
	AllowTestMode bool

	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// HeartbeatStaleAfter is how long a screen may go silent before the
	// sweep marks it offline.
	HeartbeatStaleAfter time.Duration
	SweepInterval       time.Duration
	ReconcileInterval   time.Duration

	// CommandPageSize caps how many pending commands a single poll returns.
	CommandPageSize int

	RateLimitPerMinute int
	RateLimitBurst     int

	AlertRetentionDays int

	// RebufferStormThreshold is the number of rebuffer events from one player
	// session inside RebufferStormWindow that raises a playback alert.
	RebufferStormThreshold int
	RebufferStormWindow    time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                     envString("HOST", "0.0.0.0"),
		Port:                     envString("PORT", "9100"),
		SQLiteDBPath:             envString("SQLITE_DB_PATH", "./data/screen-hub.db"),
		AppEnv:                   envString("APP_ENV", "development"),
		AllowTestMode:            envBool("ALLOW_TEST_MODE", false),
		JWTSecret:                envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		HeartbeatStaleAfter:      time.Duration(envInt("HEARTBEAT_STALE_MINUTES", 5)) * time.Minute,
		SweepInterval:            time.Duration(envInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		ReconcileInterval:        time.Duration(envInt("RECONCILE_INTERVAL_SECONDS", 30)) * time.Second,
		CommandPageSize:          envInt("COMMAND_PAGE_SIZE", 10),
		RateLimitPerMinute:       envInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:           envInt("RATE_LIMIT_BURST", 20),
		AlertRetentionDays:       envInt("ALERT_RETENTION_DAYS", 90),
		RebufferStormThreshold:   envInt("REBUFFER_STORM_THRESHOLD", 5),
		RebufferStormWindow:      time.Duration(envInt("REBUFFER_STORM_WINDOW_SECONDS", 60)) * time.Second,
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.CommandPageSize <= 0 {
		cfg.CommandPageSize = 10
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
