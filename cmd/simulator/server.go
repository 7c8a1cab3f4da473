package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cbgabler/ehr-module-simulator/internal/audit"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/auth"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/events"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/metrics"
	secmiddleware "github.com/cbgabler/ehr-module-simulator/internal/shared/middleware"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
	"github.com/cbgabler/ehr-module-simulator/internal/storage"
	"github.com/cbgabler/ehr-module-simulator/internal/storage/mssql"
)

// App holds the running server's dependencies
type App struct {
	Config  *config.Config
	Backend storage.Backend
	Catalog *mssql.Catalog // nil unless MSSQL_ENABLED
	Bus     events.EventBus
	Engine  *simulation.Engine
	Audit   *audit.Trail
	Limiter *secmiddleware.IPRateLimiter

	logger zerolog.Logger
}

// newApp opens storage, the optional SQL Server catalog and the event bus,
// and starts the engine.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Limiter: secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		logger:  log.WithComponent("server"),
	}

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	app.Backend = backend
	deps := simulation.CollaboratorsFrom(backend)

	if cfg.MSSQL.Enabled {
		catalog, err := mssql.Open(ctx, cfg.MSSQL)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("open scenario catalog: %w", err)
		}
		app.Catalog = catalog
		deps.Scenarios = catalog
		app.logger.Info().Str("table", cfg.MSSQL.ScenarioTable).Msg("resolving scenarios from SQL Server")
	}

	// KurrentDB is optional; without it events stay in process.
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewEventBus(ctx, cfg.KurrentDB)
		if err != nil {
			app.logger.Warn().Err(err).Msg("KurrentDB not available, using in-process event bus")
		} else {
			app.Bus = bus
			app.logger.Info().Str("host", cfg.KurrentDB.Host).Int("port", cfg.KurrentDB.Port).Msg("KurrentDB event bus initialized")
		}
	}
	if app.Bus == nil {
		app.Bus = events.NewMemoryBus()
	}

	app.Audit = audit.NewTrail()
	if err := audit.NewSubscriber(app.Audit, app.Bus).Start(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("audit subscriber failed to start")
	}

	app.Engine = simulation.NewEngine(deps, simulation.EngineConfig{
		DefaultTickInterval: cfg.Simulation.DefaultTickInterval,
		EndedRetention:      cfg.Simulation.EndedRetention,
		JanitorInterval:     cfg.Simulation.JanitorInterval,
		Location:            cfg.Simulation.Location(),
	}, app.Bus)

	return app, nil
}

// Routes builds the HTTP handler
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", a.healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.Limiter.Middleware)
		r.Use(secmiddleware.InputSanitizer)
		r.Use(auth.Middleware(a.Config.Auth))

		r.Get("/scenarios", a.listScenarios)
		r.Mount("/simulation", simulation.NewHandler(a.Engine).Routes())
		r.With(auth.RequireRoles(auth.RoleInstructor, auth.RoleAdmin)).
			Mount("/audit", audit.NewHandler(a.Audit).Routes())
	})

	return r
}

// Close stops the engine and releases every connection
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Bus.Close()
	if a.Catalog != nil {
		if err := a.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close scenario catalog: %w", err))
		}
	}
	if err := a.Backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// pruneLimiters drops rate limiter entries for idle clients until ctx ends
func (a *App) pruneLimiters(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Limiter.Prune(every); n > 0 {
				a.logger.Debug().Int("pruned", n).Msg("pruned idle rate limiters")
			}
		}
	}
}

type scenarioInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// listScenarios lists the scenarios stored in the backend. Scenarios held
// only in the SQL Server catalog are not listed.
func (a *App) listScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := a.Backend.ListScenarios(r.Context())
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).Msg("failed to list scenarios")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "internal server error",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	out := make([]scenarioInfo, 0, len(list))
	for _, sc := range list {
		out = append(out, scenarioInfo{ID: sc.ID.String(), Name: sc.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"server":  "ready",
		"storage": readiness(a.Backend.Health(r.Context())),
	}

	if a.Catalog != nil {
		checks["scenario_catalog"] = readiness(a.Catalog.Health(r.Context()))
	} else {
		checks["scenario_catalog"] = "not configured"
	}

	checks["event_bus"] = readiness(a.Bus.Health())

	allReady := true
	for _, status := range checks {
		if status != "ready" && status != "not configured" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}

func readiness(err error) string {
	if err != nil {
		return "not ready: " + err.Error()
	}
	return "ready"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
