package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledger-assistant/internal/api/handlers"
	"github.com/dvloznov/ledger-assistant/internal/config"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/inference/providers"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/logger"
	"github.com/dvloznov/ledger-assistant/internal/media"
	"github.com/dvloznov/ledger-assistant/internal/storage"
)

func main() {
	// Parse command-line flags
	var (
		port    = flag.String("port", "", "HTTP server port (overrides APP_HTTP_PORT)")
		envFile = flag.String("env", ".env", "optional env file")
	)
	flag.Parse()

	boot := logger.New()
	cfg, err := config.Load(*envFile)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.HTTPPort = *port
	}

	log := logger.NewFromOptions(logger.Options{Level: cfg.LogLevel, Format: logger.Format(cfg.LogFormat)})

	if err := cfg.Require("BotID", "Provider", "JWTSecret"); err != nil {
		log.Fatal().Err(err).Msg("Incomplete configuration")
	}

	ctx := context.Background()
	var cl closers
	defer cl.closeAll(log)

	kind, err := cfg.ProviderKind()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid provider")
	}
	provider, err := providers.New(ctx, kind, cfg.ProviderSettings(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inference provider")
	}
	orchestrator := inference.NewOrchestrator(provider, log)

	store, err := openLedgerStore(cfg, log, &cl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	coordinator, err := ledger.NewCoordinator(store, ledger.Config{BotID: cfg.BotID}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger coordinator")
	}

	objects, bucket, err := openObjectStore(ctx, cfg, cfg.HTTPPort, log, &cl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open object store")
	}
	ingestor := media.NewIngestor(openDetector(ctx, cfg, log), objects, bucket, log)

	guard, err := openGuard(ctx, cfg, log, &cl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	queue, err := openAuditQueue(workerCtx, cfg, log, &cl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit queue")
	}

	// Initialize handlers
	turns := handlers.NewTurns(orchestrator, coordinator, guard, queue.publisher, handlers.TurnSettings{
		Provider:        string(kind),
		DefaultCurrency: cfg.DefaultCurrency,
	}, log)
	var mediaHandler http.Handler
	if ms, ok := objects.(*storage.MemoryStore); ok {
		mediaHandler = ms
	}
	mux := newRouter(routeHandlers{
		messages:     handlers.NewMessagesHandler(coordinator, turns, log),
		invoices:     handlers.NewInvoicesHandler(ingestor, objects, coordinator, turns, log),
		transactions: handlers.NewTransactionsHandler(coordinator, log),
		categories:   handlers.NewCategoriesHandler(log),
		jobs:         handlers.NewJobsHandler(queue.store, log),
		media:        mediaHandler,
	})

	// Inference and uploads need more than the usual write timeout.
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      withMiddleware(mux, []byte(cfg.JWTSecret), log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("provider", string(kind)).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain audit jobs published by finished requests.
	if err := queue.stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping audit queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
