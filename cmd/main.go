package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"stoflow/internal/bootstrap"
	"stoflow/internal/config"
	"stoflow/internal/dispatch"
	"stoflow/internal/marketplace"
	"stoflow/internal/relay"
	"stoflow/internal/repository"
	"stoflow/internal/router"
	"stoflow/internal/transport"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Repositories ---
	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	credRepo := repository.NewCredentialRepository(db)

	// --- Tenant pauser (Redis with in-memory fallback) ---
	pauser, pauseErr := dispatch.NewPauser(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB)
	if pauseErr != nil {
		logger.Warn("Redis unavailable for pause flags, using in-memory fallback", zap.Error(pauseErr))
	}

	// --- Relay hub + transport ---
	hub := relay.NewHub(logger)
	relayTransport := relay.NewTransport(hub, logger)
	hub.SetSink(relayTransport)

	// --- Direct OAuth2 transports ---
	ebayAPI := transport.NewOAuthClient(marketplace.Ebay, transport.Endpoints{
		APIBase:      cfg.Ebay.APIBase,
		TokenURL:     cfg.Ebay.TokenURL,
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
	}, credRepo, logger)
	etsyAPI := transport.NewOAuthClient(marketplace.Etsy, transport.Endpoints{
		APIBase:      cfg.Etsy.APIBase,
		TokenURL:     cfg.Etsy.TokenURL,
		ClientID:     cfg.Etsy.ClientID,
		ClientSecret: cfg.Etsy.ClientSecret,
	}, credRepo, logger)

	// --- Handler registry ---
	registry, err := marketplace.BuildRegistry(relayTransport, cfg.Dispatcher.RelayTimeout, ebayAPI, etsyAPI)
	if err != nil {
		logger.Fatal("Handler registration failed", zap.Error(err))
	}

	// --- Dispatcher + scheduler ---
	dispatcher := dispatch.NewDispatcher(jobRepo, batchRepo, registry, pauser,
		cfg.Dispatcher.RetryBase, cfg.Dispatcher.RetryMax, logger)
	relayTransport.SetChallengeHook(func(tenantID string) {
		if err := pauser.Pause(context.Background(), tenantID, marketplace.Vinted); err != nil {
			logger.Error("Failed to pause challenged tenant",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
	})
	scheduler := dispatch.NewScheduler(dispatcher, dispatch.Options{
		PollInterval:   cfg.Dispatcher.PollInterval,
		DrainPerCycle:  cfg.Dispatcher.DrainPerCycle,
		VintedInterval: cfg.Dispatcher.VintedInterval,
		VintedJitter:   cfg.Dispatcher.VintedJitter,
		PendingTTL:     cfg.Dispatcher.PendingTTL,
		RunningTimeout: cfg.Dispatcher.RunningTimeout,
	}, logger)
	scheduler.Start()

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, db, registry, hub, pauser, logger, cfg.API.Key)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting StoFlow orchestrator", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop dispatch loops, then fail in-flight relay calls so their jobs
	// retry cleanly after restart.
	ctx := scheduler.Stop()
	<-ctx.Done()
	relayTransport.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
