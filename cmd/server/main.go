package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woodmarket/orderflow/internal/api"
	"github.com/woodmarket/orderflow/internal/carrier"
	"github.com/woodmarket/orderflow/internal/config"
	"github.com/woodmarket/orderflow/internal/events"
	"github.com/woodmarket/orderflow/internal/marketplace"
	"github.com/woodmarket/orderflow/internal/repository/postgres"
	"github.com/woodmarket/orderflow/internal/service"
	"github.com/woodmarket/orderflow/internal/tracing"
	"github.com/woodmarket/orderflow/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting order workflow server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Environment)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db, logger)

	// Event sinks
	var publishers []events.Publisher
	if cfg.Events.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.NATSSubject, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsPub.Close()
		publishers = append(publishers, natsPub)
	}
	if cfg.Events.WebhookURL != "" {
		publishers = append(publishers, events.NewWebhookNotifier(cfg.Events.WebhookURL, logger))
	}
	dispatcher := events.NewDispatcher(logger, publishers...)

	// Workflow services
	market := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.APIKey, logger)
	carrierClient := carrier.NewClient(carrier.Config{
		BaseURL: cfg.Carrier.BaseURL,
		Token:   cfg.Carrier.Token,
		ShopID:  cfg.Carrier.ShopID,
	}, logger)
	inflight := workflow.NewInFlight()
	shipments := service.NewShipmentCoordinator(carrierClient, market, inflight, service.TrackingOptions{
		Concurrency: cfg.Workflow.TrackingConcurrency,
		PollTimeout: cfg.Workflow.TrackingPollTimeout,
		MaxRetries:  cfg.Workflow.TrackingMaxRetries,
	}, logger)
	payments := service.NewPaymentCoordinator(market, market, shipments, inflight, cfg.Marketplace.PaymentReturnURL, logger)
	svc := service.NewWorkflowService(market, shipments, payments, inflight, repos.WorkflowEvent, dispatcher, cfg.Workflow.ActionTimeout, logger)

	// Initialize router
	router := api.NewRouter(cfg, repos, svc, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Workflow.ActionTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	if cfg.Workflow.TrackingRefreshInterval > 0 {
		refresher := service.NewTrackingRefresher(market, shipments, repos.WorkflowEvent, dispatcher, cfg.Workflow.TrackingLookback, logger)
		go refresher.Run(ctx, cfg.Workflow.TrackingRefreshInterval)
		logger.Info("Tracking refresher started", zap.Duration("interval", cfg.Workflow.TrackingRefreshInterval))
	}

	logger.Info("Server started successfully", zap.String("address", srv.Addr))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newLogger picks the production or development preset and applies LOG_LEVEL
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build(zap.Fields(zap.String("service", cfg.Tracing.ServiceName)))
}

