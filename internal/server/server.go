package server

import (
	"context"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/auth"
	"github.com/screenhub/screen-hub-go/internal/broadcast"
	"github.com/screenhub/screen-hub-go/internal/commands"
	"github.com/screenhub/screen-hub-go/internal/config"
	"github.com/screenhub/screen-hub-go/internal/db"
	"github.com/screenhub/screen-hub-go/internal/devsettings"
	"github.com/screenhub/screen-hub-go/internal/heartbeat"
	"github.com/screenhub/screen-hub-go/internal/openapi"
	"github.com/screenhub/screen-hub-go/internal/ratelimit"
	"github.com/screenhub/screen-hub-go/internal/registry"
	"github.com/screenhub/screen-hub-go/internal/system"
	"github.com/screenhub/screen-hub-go/internal/telemetry"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableJobs skips starting the background loops (for tests).
	DisableJobs bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))
	// After auth so authenticated callers are throttled by subject, not
	// by whatever address a fleet NAT presents.
	router.Use(limiter.Middleware)

	registerHealthRoutes(router, dbPair)
	openapi.RegisterRoutes(router)

	registryService := registry.NewService(dbPair, nil, nil)
	auth.RegisterRoutes(router, registryService, cfg)
	registry.RegisterRoutes(router, registryService)

	commandService := commands.NewService(dbPair, registryService, cfg.CommandPageSize, nil)
	commands.RegisterRoutes(router, commandService)

	settingsService := devsettings.NewService(dbPair, registryService, nil)
	devsettings.RegisterRoutes(router, settingsService)

	alertRepo := heartbeat.NewAlertRepository(dbPair)
	monitor := heartbeat.NewMonitor(dbPair, alertRepo, registryService, cfg.HeartbeatStaleAfter, nil)
	heartbeat.RegisterRoutes(router, monitor, alertRepo, registryService)

	bookingRepo := broadcast.NewBookingRepository(dbPair)
	coordinator := broadcast.NewCoordinator(bookingRepo, monitor, commandService, nil)
	broadcast.RegisterRoutes(router, coordinator, registryService)

	telemetryService := telemetry.NewService(dbPair, alertRepo, registryService, cfg.RebufferStormThreshold, cfg.RebufferStormWindow, nil)
	telemetry.RegisterRoutes(router, telemetryService)
	telemetryRepo := telemetry.NewRepository(dbPair)

	jobs := newJobRunner(nil)
	jobs.addEvery("heartbeat sweep", cfg.SweepInterval, monitor.Sweep)
	jobs.addEvery("broadcast reconcile", cfg.ReconcileInterval, func() {
		coordinator.ReconcileAll()
	})
	jobs.addEvery("retention prune", 24*time.Hour, func() {
		cutoff := time.Now().AddDate(0, 0, -cfg.AlertRetentionDays)
		if pruned, err := alertRepo.Prune(cutoff); err != nil {
			log.Printf("alert prune failed: %v", err)
		} else if pruned > 0 {
			log.Printf("pruned %d alert(s)", pruned)
		}
		if pruned, err := telemetryRepo.Prune(cutoff); err != nil {
			log.Printf("telemetry prune failed: %v", err)
		} else if pruned > 0 {
			log.Printf("pruned %d telemetry event(s)", pruned)
		}
	})
	if !options.DisableJobs {
		jobs.Start()
	}

	systemService := system.NewService(cfg, dbPair, nil, jobs)
	system.RegisterRoutes(router, systemService)

	router.Handle("/v1/assets/*", http.StripPrefix("/v1/assets/", http.FileServer(http.Dir("./assets"))))

	shutdown := func(ctx context.Context) error {
		jobs.Stop()
		limiter.Stop()
		if ctx == nil {
			ctx = context.Background()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router, dbPair *db.DBPair) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}))

	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := dbPair.Reader().Ping(); err != nil {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
			})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ready",
		})
	}))
}
