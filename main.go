package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/config"
	"wellness-activity/internal/database"
	"wellness-activity/internal/handlers"
	"wellness-activity/internal/ingest"
	"wellness-activity/internal/metrics"
	"wellness-activity/internal/middleware"
	"wellness-activity/internal/streak"
	"wellness-activity/internal/tracking"
	"wellness-activity/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting wellness-activity server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel,
		"timezone", cfg.Timezone,
		"kafka_enabled", cfg.KafkaEnabled())

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	clk := clock.Real{}
	engine := streak.NewEngine(db, clk, cfg.Location)
	manager := tracking.NewManager(db, engine, clk, tracking.Options{
		DefaultGoal:   cfg.DefaultStepGoal,
		Threshold:     cfg.StepThreshold,
		FlushInterval: cfg.FlushInterval,
		Location:      cfg.Location,
	})

	// Create handlers
	trackingHandler := handlers.NewTrackingHandler(manager, engine, cfg)
	activitiesHandler := handlers.NewActivitiesHandler(db, clk, cfg)

	// Set up HTTP routes
	mux := http.NewServeMux()

	mux.Handle("/v1/steps", middleware.WrapHandler(metrics.EndpointSteps, trackingHandler.HandleSteps))
	mux.Handle("/v1/steps/manual", middleware.WrapHandler(metrics.EndpointManualSteps, trackingHandler.HandleManualSteps))
	mux.Handle("/v1/tracking/start", middleware.WrapHandler(metrics.EndpointTrackingStart, trackingHandler.HandleStart))
	mux.Handle("/v1/tracking/stop", middleware.WrapHandler(metrics.EndpointTrackingStop, trackingHandler.HandleStop))
	mux.Handle("/v1/tracking/samples", middleware.WrapHandler(metrics.EndpointSamples, trackingHandler.HandleSamples))
	mux.Handle("/v1/goal", middleware.WrapHandler(metrics.EndpointGoal, trackingHandler.HandleGoal))
	mux.Handle("/v1/streak", middleware.WrapHandler(metrics.EndpointStreak, trackingHandler.HandleStreak))
	mux.Handle("/v1/activities", middleware.WrapHandler(metrics.EndpointActivities, activitiesHandler.HandleActivity))

	// Health check endpoint
	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Health(ctx); err != nil {
			logger.Error("Health check failed", "error", err)
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background work shares one context
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Start activity worker in background
	workerInstance := worker.NewWorker(db, engine, cfg.WorkerPollInterval)
	go func() {
		if err := workerInstance.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Activity worker failed", "error", err)
		}
	}()

	// Start Kafka ingestion if configured
	if cfg.KafkaEnabled() {
		reader := ingest.NewReader(ingest.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		processor := ingest.NewProcessor(reader, db, ingest.WithLogger(logger.With("component", "ingest")))
		go func() {
			defer reader.Close()
			logger.Info("Starting Kafka ingestion", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
			if err := processor.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka ingestion failed", "error", err)
			}
		}()
	}

	// Drop idle in-memory sessions
	go runSessionPruner(bgCtx, trackingHandler, manager, cfg.SessionIdleTimeout, logger)

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(bgCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...", "active_sessions", manager.Active())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the final flushes
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if err := manager.StopAll(shutdownCtx); err != nil {
		logger.Error("Failed to flush tracking sessions", "error", err)
	}

	// Stop worker and ingestion
	bgCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}

func runSessionPruner(ctx context.Context, h *handlers.TrackingHandler, manager *tracking.Manager, maxIdle time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := h.Prune(maxIdle); pruned > 0 {
				logger.Info("Pruned idle sessions", "pruned", pruned, "tracking", manager.Active())
			}
		}
	}
}
