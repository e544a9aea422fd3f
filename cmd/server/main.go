package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/api"
	mw "github.com/Harshitk-cp/leandeep/internal/api/middleware"
	"github.com/Harshitk-cp/leandeep/internal/buildconfig"
	"github.com/Harshitk-cp/leandeep/internal/config"
	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/engine"
	"github.com/Harshitk-cp/leandeep/internal/llm"
	"github.com/Harshitk-cp/leandeep/internal/queue"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/Harshitk-cp/leandeep/internal/store"
	"github.com/Harshitk-cp/leandeep/internal/watcher"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := config.Load(); err != nil {
		// The logger is not configured yet; fall back to a production default.
		zap.Must(zap.NewProduction()).Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	build := buildconfig.Get()
	logger.Info("starting leandeep",
		zap.String("version", build.Version),
		zap.String("commit", build.Commit),
		zap.String("engine", engine.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger.Named("registry"))
	if _, err := reg.LoadFile(config.RegistryPath()); err != nil {
		logger.Fatal("failed to load marker registry", zap.String("path", config.RegistryPath()), zap.Error(err))
	}
	eng := engine.New(reg, engine.DefaultGateConfig(), logger.Named("engine"))

	analysisSvc := service.NewAnalysisService(eng, service.Limits{
		DefaultThreshold: config.DefaultThreshold(),
		MaxTextLength:    config.MaxTextLength(),
		MaxMessages:      config.MaxConversationMessages(),
		MaxBatch:         config.MaxBatchSize(),
		BatchConcurrency: config.BatchConcurrency(),
	}, logger.Named("analysis"))
	markerSvc := service.NewMarkerService(eng, logger.Named("markers"))

	analysisStore, closeStore := setupStore(ctx, analysisSvc, logger)
	defer closeStore()

	if retention := config.AnalysisRetention(); retention > 0 && analysisStore != nil {
		retentionSvc := service.NewRetentionService(analysisStore, retention, logger.Named("retention"))
		retentionSvc.Start()
		defer retentionSvc.Stop()
	}

	if redisURL := config.RedisURL(); redisURL != "" {
		client, err := queue.ConnectRedis(redisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		defer func() { _ = client.Close() }()

		pub := queue.NewPublisher(client, config.DetectionStream())
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("redis not reachable, publish failures will be logged", zap.Error(err))
		}
		analysisSvc.SetPublisher(pub)
		logger.Info("publishing detections", zap.String("stream", pub.Stream()))
	}

	if provider := config.EmotionProvider(); provider != "" {
		scorer, err := llm.NewScorer(provider, config.EmotionAPIKey(), logger.Named("emotion"))
		if err != nil {
			logger.Warn("emotion scorer initialization failed", zap.String("provider", provider), zap.Error(err))
		} else {
			analysisSvc.SetScorer(scorer)
			logger.Info("emotion scorer initialized", zap.String("provider", provider))
		}
	}

	var regWatcher *watcher.RegistryWatcher
	if config.RegistryWatch() {
		w, err := watcher.New(config.RegistryPath(), reg, watcher.DefaultDebounce, logger.Named("watcher"))
		if err != nil {
			logger.Fatal("failed to create registry watcher", zap.Error(err))
		}
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start registry watcher", zap.Error(err))
		}
		defer w.Stop()
		regWatcher = w
	}

	keyRing, err := mw.LoadKeyRing(config.APIKeysFile())
	if err != nil {
		logger.Fatal("failed to load API keys", zap.Error(err))
	}
	if config.RequireAuth() && keyRing.Len() == 0 {
		logger.Warn("authentication required but no API keys loaded", zap.String("file", config.APIKeysFile()))
	}

	app := api.NewApp(analysisSvc, markerSvc, api.Options{
		KeyRing:         keyRing,
		RequireAuth:     config.RequireAuth(),
		RateLimitRPS:    config.RateLimitRPS(),
		RateLimitBurst:  config.RateLimitBurst(),
		AnalysisTimeout: config.AnalysisTimeout(),
		Watcher:         regWatcher,
	}, logger)

	go app.RateLimiter.Run(ctx, 10*time.Minute)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return zap.Must(cfg.Build())
}

// setupStore attaches the Postgres store when DATABASE_URL is set, else the
// SQLite store when SQLITE_PATH is set. Without either, runs are not persisted.
func setupStore(ctx context.Context, svc *service.AnalysisService, logger *zap.Logger) (domain.AnalysisStore, func()) {
	if dbURL := config.DatabaseURL(); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		st := store.NewAnalysisStore(pool)
		if err := st.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		svc.SetStore(st)
		logger.Info("connected to database")
		return st, pool.Close
	}

	if path := config.SQLitePath(); path != "" {
		st, err := store.OpenSQLite(ctx, path)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.String("path", path), zap.Error(err))
		}
		svc.SetStore(st)
		logger.Info("using sqlite store", zap.String("path", path))
		return st, func() { _ = st.Close() }
	}

	logger.Info("analysis persistence disabled")
	return nil, func() {}
}
