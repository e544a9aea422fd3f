package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/api/handlers"
	mw "github.com/Harshitk-cp/leandeep/internal/api/middleware"
	"github.com/Harshitk-cp/leandeep/internal/buildconfig"
	"github.com/Harshitk-cp/leandeep/internal/engine"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/Harshitk-cp/leandeep/internal/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Options configures the HTTP surface.
type Options struct {
	KeyRing         *mw.KeyRing
	RequireAuth     bool
	RateLimitRPS    float64
	RateLimitBurst  int
	AnalysisTimeout time.Duration
	Watcher         *watcher.RegistryWatcher // optional, reported in /metrics
}

func DefaultOptions() Options {
	return Options{
		KeyRing:         mw.NewKeyRing(nil),
		RateLimitRPS:    100,
		RateLimitBurst:  20,
		AnalysisTimeout: 30 * time.Second,
	}
}

// App holds the router and the state shared with its background loops.
type App struct {
	Router      *chi.Mux
	RateLimiter *mw.RateLimiter
	Metrics     *mw.Metrics
	markers     *service.MarkerService
	watcher     *watcher.RegistryWatcher
	startTime   time.Time
}

func NewApp(analysis *service.AnalysisService, markers *service.MarkerService, opts Options, logger *zap.Logger) *App {
	if opts.KeyRing == nil {
		opts.KeyRing = mw.NewKeyRing(nil)
	}

	analysisHandler := handlers.NewAnalysisHandler(analysis)
	markerHandler := handlers.NewMarkerHandler(markers)

	r := chi.NewRouter()
	app := &App{
		Router:      r,
		RateLimiter: mw.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		Metrics:     &mw.Metrics{},
		markers:     markers,
		watcher:     opts.Watcher,
		startTime:   time.Now(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)                  // Generate/extract request ID first
	r.Use(middleware.RealIP)             // Extract real IP
	r.Use(app.Metrics.Middleware)        // Collect metrics
	r.Use(mw.Logging(logger))            // Log all requests
	r.Use(middleware.Recoverer)          // Recover from panics
	r.Use(mw.RateLimit(app.RateLimiter)) // Rate limiting

	// Health and metrics (no auth)
	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(opts.KeyRing, opts.RequireAuth))

		r.Route("/analyze", func(r chi.Router) {
			if opts.AnalysisTimeout > 0 {
				r.Use(middleware.Timeout(opts.AnalysisTimeout))
			}
			r.Post("/", analysisHandler.Analyze)
			r.Post("/conversation", analysisHandler.Conversation)
			r.Post("/dynamics", analysisHandler.Dynamics)
			r.Post("/batch", analysisHandler.Batch)
		})

		r.Route("/analyses", func(r chi.Router) {
			r.Get("/", analysisHandler.ListAnalyses)
			r.Get("/{id}", analysisHandler.GetAnalysis)
		})

		r.Route("/markers", func(r chi.Router) {
			r.Get("/", markerHandler.List)
			r.Get("/{id}", markerHandler.Get)
		})

		r.Get("/engine/config", markerHandler.EngineConfig)

		r.Route("/registry", func(r chi.Router) {
			r.Get("/stats", markerHandler.Stats)
			r.Post("/reload", markerHandler.Reload)
		})
	})

	return app
}

type healthResponse struct {
	Status        string           `json:"status"`
	EngineVersion string           `json:"engine_version"`
	Build         buildconfig.Info `json:"build"`
	Markers       int              `json:"markers_loaded"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// healthHandler reports 503 until a registry with at least one marker is loaded.
func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:        "ok",
			EngineVersion: engine.Version,
			Build:         buildconfig.Get(),
			Markers:       app.markers.Stats().Markers,
			UptimeSeconds: time.Since(app.startTime).Seconds(),
		}
		status := http.StatusOK
		if resp.Markers == 0 {
			resp.Status = "no markers loaded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		stats := app.markers.Stats()

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"http":           app.Metrics.Snapshot(),
			"registry": map[string]any{
				"markers":            stats.Markers,
				"per_layer":          stats.PerLayer,
				"patterns_total":     stats.PatternsTotal,
				"patterns_failed":    stats.PatternsFailed,
				"invalid_references": len(stats.InvalidReferences),
			},
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}
		if app.watcher != nil {
			response["watcher"] = app.watcher.Stats()
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
