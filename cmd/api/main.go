package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kestrelsec/keyprint/internal/auth"
	"github.com/kestrelsec/keyprint/internal/background"
	"github.com/kestrelsec/keyprint/internal/config"
	"github.com/kestrelsec/keyprint/internal/database"
	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/handlers"
	middlewareCustom "github.com/kestrelsec/keyprint/internal/middleware"
	"github.com/kestrelsec/keyprint/internal/repositories"
	"github.com/kestrelsec/keyprint/internal/routes"
	"github.com/kestrelsec/keyprint/internal/services"
	"github.com/kestrelsec/keyprint/internal/store"
	pkghttp "github.com/kestrelsec/keyprint/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).
			Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	detectorCfg := detector.Config{
		MinTrainSamples:    cfg.Detector.MinTrainSamples,
		Threshold:          cfg.Detector.Threshold,
		BaselineSaturation: cfg.Detector.BaselineSaturation,
		GuardSaturation:    cfg.Detector.GuardSaturation,
		Trees:              cfg.Detector.Trees,
		SampleSize:         cfg.Detector.SampleSize,
		Contamination:      cfg.Detector.Contamination,
		CalibrationTau:     cfg.Detector.CalibrationTau,
		Seed:               cfg.Detector.Seed,
	}

	// Initialize repositories
	profileRepo := repositories.NewProfileRepository(db, detectorCfg, logger)
	sessionRepo := repositories.NewSessionRecordRepository(db)

	// Hydrate the in-memory profile store from persisted state
	profileStore := store.NewProfileStore()
	hydrateCtx, hydrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	persisted, err := profileRepo.LoadAll(hydrateCtx)
	hydrateCancel()
	if err != nil {
		logger.Error("failed to hydrate profiles", slog.Any("error", err))
		os.Exit(1)
	}
	profileStore.Hydrate(persisted)
	logger.Info("profiles hydrated", slog.Int("count", len(persisted)))

	// Initialize token manager for attestation tokens
	tokenManager := auth.NewTokenManager(cfg.Attest.Secret, cfg.Attest.Expiry)

	// Anomaly alerting (SES when configured, no-op otherwise)
	var notifier services.AnomalyNotifier
	if cfg.Alerts.Enabled {
		sesNotifier, err := services.NewAWSSESAlertService(
			cfg.Alerts.AWSRegion,
			cfg.Alerts.FromAddress,
			cfg.Alerts.ToAddress,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = services.NewNoopAlertService(logger)
	}

	// Initialize services
	sessionLogService := services.NewSessionLogService(sessionRepo, logger)
	decisionService := services.NewDecisionService(
		profileStore, profileRepo, sessionLogService, notifier, detectorCfg, logger)

	// Step-up challenge, only when an encryption key is configured
	var challengeHandler *handlers.ChallengeHandler
	var deviceChecker handlers.DeviceChecker
	if cfg.Challenge.Enabled {
		totpManager, err := auth.NewTOTPManager(cfg.Challenge.EncryptionKey, cfg.Challenge.Issuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
		challengeRepo := repositories.NewChallengeSecretRepository(db)
		challengeService := services.NewChallengeService(challengeRepo, totpManager, logger)
		challengeHandler = handlers.NewChallengeHandler(challengeService, logger)
		deviceChecker = challengeService
	}

	// Initialize handlers
	behaviorHandler := handlers.NewBehaviorHandler(
		decisionService, sessionLogService, tokenManager, deviceChecker, logger)

	// Initialize cleanup manager for session record retention
	cleanupManager := background.NewCleanupManager(
		sessionRepo, logger, cfg.Retention.SessionRecordTTL, cfg.Retention.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, &pkghttp.IPConfig{}))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, behaviorHandler, challengeHandler)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
