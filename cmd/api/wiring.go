package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	ps "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/audit"
	"github.com/dvloznov/ledger-assistant/internal/config"
	"github.com/dvloznov/ledger-assistant/internal/idempotency"
	"github.com/dvloznov/ledger-assistant/internal/jobs"
	"github.com/dvloznov/ledger-assistant/internal/jobs/inmemory"
	jobspubsub "github.com/dvloznov/ledger-assistant/internal/jobs/pubsub"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/ledger/gormstore"
	"github.com/dvloznov/ledger-assistant/internal/ledger/memstore"
	"github.com/dvloznov/ledger-assistant/internal/storage"
	"github.com/dvloznov/ledger-assistant/internal/vision"
)

const defaultBucket = "invoices"

var errVisionUnavailable = errors.New("text detection is not configured")

// unavailableDetector fails every OCR call when Vision could not be created.
type unavailableDetector struct{}

func (unavailableDetector) DetectText(context.Context, string) (string, error) {
	return "", errVisionUnavailable
}

// closers collects resources released on shutdown, last opened first.
type closers []io.Closer

func (c closers) closeAll(log zerolog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resource")
		}
	}
}

func openLedgerStore(cfg *config.Config, log zerolog.Logger, cl *closers) (ledger.Store, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn().Msg("No database configured - using in-memory ledger store")
		return memstore.New(), nil
	}
	store, err := gormstore.Open(cfg.DatabaseDSN, log)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, store)
	return store, nil
}

func openObjectStore(ctx context.Context, cfg *config.Config, port string, log zerolog.Logger, cl *closers) (storage.ObjectStore, string, error) {
	if cfg.InvoiceBucket == "" {
		log.Warn().Msg("No invoice bucket configured - images are kept in memory")
		return storage.NewMemoryStore("http://localhost:" + port + "/media"), defaultBucket, nil
	}
	gcs, err := storage.NewGCSStore(ctx, log)
	if err != nil {
		return nil, "", err
	}
	*cl = append(*cl, gcs)
	return gcs, cfg.InvoiceBucket, nil
}

func openDetector(ctx context.Context, cfg *config.Config, log zerolog.Logger) vision.TextDetector {
	client, err := vision.New(ctx, cfg.VisionAPIKey, log)
	if err != nil {
		log.Warn().Err(err).Msg("Vision client unavailable - invoice uploads will fail")
		return unavailableDetector{}
	}
	return client
}

func openGuard(ctx context.Context, cfg *config.Config, log zerolog.Logger, cl *closers) (*idempotency.Guard, error) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("No Redis configured - turn locks and idempotency are process-local")
		return idempotency.NewGuard(idempotency.NewLocalLocker(), idempotency.NewMemoryCache(), idempotency.DefaultTTL, log), nil
	}
	rdb, err := idempotency.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, rdb)
	return idempotency.NewGuard(idempotency.NewRedisLocker(rdb, log), idempotency.NewRedisCache(rdb), idempotency.DefaultTTL, log), nil
}

// auditQueue is where turns publish audit jobs. stop drains it on shutdown.
type auditQueue struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	stop      func(ctx context.Context) error
}

// openAuditQueue publishes to Pub/Sub when a topic is configured. Otherwise
// jobs run in-process against BigQuery, or the log when no project is set.
func openAuditQueue(ctx context.Context, cfg *config.Config, log zerolog.Logger, cl *closers) (*auditQueue, error) {
	jobStore := inmemory.NewStore()

	if cfg.PubSubTopic != "" {
		client, err := ps.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			return nil, fmt.Errorf("creating pubsub client: %w", err)
		}
		*cl = append(*cl, client)
		pub := jobspubsub.NewPublisher(client, cfg.PubSubTopic, jobStore, log)
		return &auditQueue{
			publisher: pub,
			store:     jobStore,
			stop:      func(context.Context) error { return pub.Close() },
		}, nil
	}

	sink, err := openSink(ctx, cfg, log, cl)
	if err != nil {
		return nil, err
	}

	queue := inmemory.NewQueue(100, jobStore, inmemory.WithLogger(log))
	if err := queue.Start(ctx, audit.Handler(sink, log)); err != nil {
		return nil, fmt.Errorf("starting audit queue: %w", err)
	}
	return &auditQueue{
		publisher: queue,
		store:     jobStore,
		stop: func(ctx context.Context) error {
			if err := queue.Stop(ctx); err != nil {
				return err
			}
			return queue.Close()
		},
	}, nil
}

func openSink(ctx context.Context, cfg *config.Config, log zerolog.Logger, cl *closers) (audit.Sink, error) {
	if cfg.GCPProject == "" || cfg.BigQueryDataset == "" {
		log.Warn().Msg("No BigQuery configured - completions are audited to the log")
		return audit.LogSink{Log: log}, nil
	}
	sink, err := audit.NewBigQuerySink(ctx, cfg.GCPProject, cfg.BigQueryDataset)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, sink)
	return sink, nil
}
