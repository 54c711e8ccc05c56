package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-translator/pkg/config"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/handlers"
	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/logging"
	"github.com/ekaya-inc/ekaya-translator/pkg/manifest"
	"github.com/ekaya-inc/ekaya-translator/pkg/middleware"
	"github.com/ekaya-inc/ekaya-translator/pkg/mt"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
	"github.com/ekaya-inc/ekaya-translator/pkg/retry"
	"github.com/ekaya-inc/ekaya-translator/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	syncApps := flag.String("sync", "", "Synchronize the applications listed in this YAML file, then exit")
	singleApp := flag.String("app", "", "With -sync, only synchronize this application URL")
	cached := flag.Bool("cached", false, "With -sync, allow manifests to be served from the cache")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var apps []services.AppRegistration
	if *syncApps != "" {
		apps, err = loadApps(*syncApps)
		if err != nil {
			logger.Fatal("Failed to load applications", zap.Error(err))
		}
	}

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.String("mt_provider", cfg.MachineTranslation.Provider),
		zap.Duration("digest_interval", cfg.Engine.DigestInterval))

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = sqlDB.Close()
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}
	_ = sqlDB.Close()

	redisClient, err := database.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Manifest cache disabled", zap.String("error", logging.SanitizeError(err)))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	eng, err := newEngine(cfg, db, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}

	if *syncApps != "" {
		if err := runSync(ctx, eng, apps, *singleApp, *cached, logger); err != nil {
			logger.Fatal("Synchronization failed", zap.String("error", logging.SanitizeError(err)))
		}
		return
	}

	if cfg.Engine.DigestInterval > 0 {
		eng.Notifications.RunScheduler(ctx, cfg.Engine.DigestInterval)
	}

	if err := serve(ctx, cfg, db, redisClient, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logConfig := zap.NewProductionConfig()
	if cfg.Env == "local" {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := logConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", handlers.ServiceName)), nil
}

// connectDatabase retries while PostgreSQL is still starting.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	retryCfg := retry.StartupConfig()
	retryCfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("error", logging.SanitizeError(err)))
	}

	return retry.DoWithResult(ctx, retryCfg, func() (*database.DB, error) {
		return database.Open(ctx, cfg.Database.URL(), cfg.Database.MaxConnections)
	})
}

// engine holds the wired translation services.
type engine struct {
	Identity      services.IdentityService
	Registry      services.RegistryService
	Reconciler    services.Reconciler
	Translations  services.TranslationService
	Suggestions   services.SuggestionService
	Presence      services.PresenceService
	Stats         services.StatsService
	Notifications services.NotificationService
	SyncAudit     services.SyncAuditService
	Synchronizer  services.Synchronizer
}

func newEngine(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zap.Logger) (*engine, error) {
	langs := languages.New()
	if cfg.LanguagesFile != "" {
		loaded, err := languages.LoadFile(cfg.LanguagesFile)
		if err != nil {
			return nil, err
		}
		langs = loaded
	}

	scope := services.NewScopeFunc(db)

	userRepo := repositories.NewUserRepository()
	sourceRepo := repositories.NewSourceRepository()
	subRepo := repositories.NewSubscriptionRepository()
	bundleRepo := repositories.NewBundleRepository()
	historyRepo := repositories.NewHistoryRepository()
	activeRepo := repositories.NewActiveRepository()
	suggestionRepo := repositories.NewSuggestionRepository()
	externalRepo := repositories.NewExternalSuggestionRepository()
	presenceRepo := repositories.NewPresenceRepository()
	runRepo := repositories.NewSyncRunRepository()

	translator, err := mt.NewFromConfig(&cfg.MachineTranslation, scope, externalRepo, logger)
	if err != nil {
		return nil, err
	}

	httpExtractor := manifest.NewHTTPExtractor(cfg.Manifest.Path, cfg.Manifest.Timeout, logger)
	if cfg.Manifest.ResolveDockerHosts {
		httpExtractor.ResolveDockerHosts()
	}
	var extractor manifest.Extractor = httpExtractor
	if redisClient != nil {
		extractor = manifest.NewCachedExtractor(extractor, manifest.NewRedisCache(redisClient), cfg.Redis.ManifestTTL, logger)
	}

	identity := services.NewIdentityService(scope, userRepo, services.DefaultAuthorConfig{
		Email:       cfg.Engine.DefaultAuthorEmail,
		DisplayName: cfg.Engine.DefaultAuthorName,
	}, logger)
	reconciler := services.NewReconciler(db, bundleRepo, historyRepo, activeRepo, suggestionRepo, logger)
	registry := services.NewRegistryService(scope, db, sourceRepo, subRepo, bundleRepo, historyRepo, activeRepo, logger)
	syncAudit := services.NewSyncAuditService(scope, runRepo, logger)
	suggestions := services.NewSuggestionService(scope, suggestionRepo, translator, services.SuggestionOptions{
		SkipIfStored: cfg.Engine.SkipSuggestionsIfStored,
	}, logger)
	notifications := services.NewNotificationService(scope, identity, subRepo, sourceRepo, historyRepo, userRepo, langs,
		services.NewLogNotifier(logger), cfg.Engine.DigestStillWorking, logger)

	return &engine{
		Identity:      identity,
		Registry:      registry,
		Reconciler:    reconciler,
		Translations:  services.NewTranslationService(scope, registry, reconciler, sourceRepo, bundleRepo, historyRepo, activeRepo, langs, logger),
		Suggestions:   suggestions,
		Presence:      services.NewPresenceService(scope, presenceRepo, bundleRepo, activeRepo, userRepo, cfg.Engine.PresenceWindow, logger),
		Stats:         services.NewStatsService(scope, sourceRepo, activeRepo, langs, logger),
		Notifications: notifications,
		SyncAudit:     syncAudit,
		Synchronizer:  services.NewSynchronizer(scope, syncAudit, registry, reconciler, identity, extractor, bundleRepo, cfg.Engine.SyncConcurrency, logger),
	}, nil
}

func runSync(ctx context.Context, eng *engine, apps []services.AppRegistration, singleApp string, cached bool, logger *zap.Logger) error {
	result, err := eng.Synchronizer.Sync(ctx, services.SyncRequest{
		Source:       "manual",
		Apps:         apps,
		SingleAppURL: singleApp,
		Cached:       cached,
	})
	if err != nil {
		return err
	}

	logger.Info("Synchronization finished",
		zap.String("run_id", result.RunID.String()),
		zap.Strings("synced", result.Synced),
		zap.Int("failed", len(result.Failed)),
		zap.Int("bundles", result.Bundles))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d applications failed", len(result.Failed), len(result.Failed)+len(result.Synced))
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zap.Logger) error {
	checks := map[string]handlers.CheckFunc{"database": db.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-translator",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
