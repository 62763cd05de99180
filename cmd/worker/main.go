// Command worker consumes audit jobs from Pub/Sub and writes completion rows
// to BigQuery.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	ps "cloud.google.com/go/pubsub"

	"github.com/dvloznov/ledger-assistant/internal/audit"
	"github.com/dvloznov/ledger-assistant/internal/config"
	"github.com/dvloznov/ledger-assistant/internal/jobs/inmemory"
	jobspubsub "github.com/dvloznov/ledger-assistant/internal/jobs/pubsub"
	"github.com/dvloznov/ledger-assistant/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	boot := logger.New()
	cfg, err := config.Load(*envFile)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromOptions(logger.Options{Level: cfg.LogLevel, Format: logger.Format(cfg.LogFormat)})

	if err := cfg.Require("GCPProject", "PubSubSubscription"); err != nil {
		log.Fatal().Err(err).Msg("Incomplete configuration")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink audit.Sink = audit.LogSink{Log: log}
	if cfg.BigQueryDataset != "" {
		bq, err := audit.NewBigQuerySink(ctx, cfg.GCPProject, cfg.BigQueryDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery sink")
		}
		defer bq.Close()
		sink = bq
	} else {
		log.Warn().Msg("No BigQuery dataset configured - completions are audited to the log")
	}

	client, err := ps.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
	}
	defer client.Close()

	consumer := jobspubsub.NewConsumer(client, cfg.PubSubSubscription, inmemory.NewStore(), log)

	log.Info().Str("subscription", cfg.PubSubSubscription).Msg("Starting worker service")

	if err := consumer.Start(ctx, audit.Handler(sink, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop receiving and wait for in-flight jobs
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
