// Command server is the Crossguard realtime API server.
//
// Usage:
//
//	crossguard-server
//	API_PORT=8080 STORE_BACKEND=postgres DATABASE_URL=... crossguard-server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/crossguard/crossguard/internal/api"
	"github.com/crossguard/crossguard/internal/api/handler"
	"github.com/crossguard/crossguard/internal/cache"
	"github.com/crossguard/crossguard/internal/classifier"
	"github.com/crossguard/crossguard/internal/config"
	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/lease"
	"github.com/crossguard/crossguard/internal/push"
	"github.com/crossguard/crossguard/internal/risk"
	"github.com/crossguard/crossguard/internal/session"
	"github.com/crossguard/crossguard/internal/socket"
	"github.com/crossguard/crossguard/internal/store"
	"github.com/crossguard/crossguard/internal/sweep"
	"github.com/crossguard/crossguard/internal/upload"

	_ "github.com/crossguard/crossguard/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// State store
	var st store.Store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		logger.Info("Connecting to database...")
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{
			DatabaseURL: cfg.DatabaseURL,
			MinConns:    cfg.DBPoolMinConns,
			MaxConns:    cfg.DBPoolMaxConns,
			MaxConnLife: cfg.DBPoolMaxLife,
		})
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	default:
		st = store.NewMemory()
		logger.Info("Using in-memory store (single instance)")
	}

	// Core wiring: registry -> evaluator -> lease coordinator -> sweep
	registry := crosswalk.NewRegistry(st)
	sessions := session.NewRegistry(st)

	hub := push.NewHub(logger)
	defer hub.Close()
	dispatcher := push.NewDispatcher(hub, logger)

	params := risk.Params{
		ReactionTime:  cfg.ReactionTime,
		Deceleration:  cfg.Deceleration,
		SafetyBuffer:  cfg.SafetyBuffer,
		OuterFactor:   cfg.OuterFactor,
		MinAlertSpeed: cfg.MinAlertSpeed,
		DebounceDelta: cfg.DebounceDelta,
		DriverTTL:     cfg.DriverPresenceTTL,
	}
	evaluator := risk.NewEvaluator(registry, dispatcher, params, logger)

	coordinator := lease.NewCoordinator(st, evaluator.Run, logger)
	defer coordinator.Close()

	// Sweep: TTL pruning and alert-end even when no client event arrives
	scheduler := sweep.NewScheduler(registry, coordinator,
		sweep.Config{Interval: cfg.SweepInterval, Workers: cfg.SweepWorkers}, logger)
	go scheduler.Start(ctx)

	// External collaborators
	predictor := classifier.New(cfg.ClassifierURL, cfg.ClassifierTimeout)
	if cfg.ClassifierURL == "" {
		logger.Info("Classifier disabled (no CLASSIFIER_URL)")
	}

	var uploader socket.Uploader
	gcs, err := upload.NewGCS(ctx, cfg.GCSBucket, cfg.GCSCrosswalkPrefix, cfg.GCSNoCrosswalkPrefix, logger)
	if err != nil {
		logger.Error("Failed to initialize frame uploader", "error", err)
		os.Exit(1)
	}
	if gcs != nil {
		uploader = gcs
		logger.Info("Frame uploads enabled", "bucket", cfg.GCSBucket)
	} else {
		logger.Info("Frame uploads disabled (no GCS_BUCKET)")
	}

	gateway := socket.NewGateway(sessions, registry, coordinator, dispatcher, hub, predictor, uploader, logger)

	// Router + HTTP server
	appCache := cache.New(cfg.CacheEnabled)
	router := api.NewRouter(handler.New(st, registry, appCache, cfg), gateway, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 0, // websocket sessions are long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Starting Crossguard API",
			"addr", addr,
			"environment", cfg.Environment,
			"store", cfg.StoreBackend,
			"sweep_interval", cfg.SweepInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
