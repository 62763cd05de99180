// Command migrate creates the MySQL ledger tables and applies the versioned
// BigQuery migrations for the completions audit table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/ledger/gormstore"
	"github.com/dvloznov/ledger-assistant/internal/logger"
)

var (
	target        = flag.String("target", "all", "what to migrate: mysql, bigquery or all")
	dsn           = flag.String("dsn", os.Getenv("APP_DATABASE_DSN"), "MySQL DSN (or set APP_DATABASE_DSN)")
	projectID     = flag.String("project", os.Getenv("APP_GCP_PROJECT"), "GCP project ID (or set APP_GCP_PROJECT)")
	datasetID     = flag.String("dataset", "ledger", "BigQuery dataset ID")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	dryRun        = flag.Bool("dry-run", false, "list pending BigQuery migrations without applying them")
)

func main() {
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	switch *target {
	case "mysql", "bigquery", "all":
	default:
		log.Fatal().Str("target", *target).Msg("Unknown target")
	}

	if *target != "bigquery" {
		if err := migrateMySQL(ctx, log); err != nil {
			log.Fatal().Err(err).Msg("MySQL migration failed")
		}
	}
	if *target != "mysql" {
		if err := migrateBigQuery(ctx, log); err != nil {
			log.Fatal().Err(err).Msg("BigQuery migration failed")
		}
	}
}

func migrateMySQL(ctx context.Context, log zerolog.Logger) error {
	if *dsn == "" {
		return fmt.Errorf("-dsn is required for target %s", *target)
	}
	store, err := gormstore.Open(*dsn, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("Ledger tables are up to date")
	return nil
}

func migrateBigQuery(ctx context.Context, log zerolog.Logger) error {
	if *projectID == "" {
		return fmt.Errorf("-project is required for target %s", *target)
	}

	dir, err := resolveDir(*migrationsDir)
	if err != nil {
		return err
	}
	migrations, err := readMigrations(dir, *projectID, *datasetID, log)
	if err != nil {
		return err
	}
	log.Info().Int("files", len(migrations)).Msg("Read migration files")

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	runner := &bqRunner{client: client, projectID: *projectID, datasetID: *datasetID, appliedBy: *appliedBy}
	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	if err := runner.ensureDataset(ctx); err != nil {
		return err
	}
	if err := runner.ensureSchemaMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := runner.applied(ctx)
	if err != nil {
		return err
	}

	todo, drifted := pending(migrations, applied)
	for _, m := range drifted {
		log.Warn().Str("migration", m.Filename).Msg("Applied migration changed on disk")
	}

	if len(todo) == 0 {
		log.Info().Int("applied", len(applied)).Msg("No new migrations to apply. Dataset is up to date.")
		return nil
	}

	for _, m := range todo {
		if *dryRun {
			log.Info().Str("migration", m.Filename).Msg("[PENDING]")
			continue
		}
		log.Info().Str("migration", m.Filename).Msg("[RUN]")
		if err := runner.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.Filename, err)
		}
		log.Info().Str("migration", m.Filename).Msg("[OK]")
	}

	if !*dryRun {
		log.Info().Int("count", len(todo)).Msg("Applied migrations")
	}
	return nil
}
