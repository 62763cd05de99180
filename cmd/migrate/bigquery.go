package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// bqRunner applies SQL migrations to one BigQuery dataset.
type bqRunner struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

func (b *bqRunner) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", b.projectID, b.datasetID, name)
}

// ensureDataset creates the dataset if it does not exist.
func (b *bqRunner) ensureDataset(ctx context.Context) error {
	ds := b.client.Dataset(b.datasetID)
	if _, err := ds.Metadata(ctx); err == nil {
		return nil
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: "US"}); err != nil && !strings.Contains(err.Error(), "Already Exists") {
		return fmt.Errorf("creating dataset: %w", err)
	}
	return nil
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func (b *bqRunner) ensureSchemaMigrationsTable(ctx context.Context) error {
	sql := `
		CREATE TABLE IF NOT EXISTS ` + b.table("schema_migrations") + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`
	return b.exec(ctx, sql, nil)
}

// applied retrieves the list of already applied migrations
func (b *bqRunner) applied(ctx context.Context) ([]AppliedMigration, error) {
	sql := `
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + b.table("schema_migrations") + `
		ORDER BY version ASC`

	it, err := b.client.Query(sql).Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// apply runs one migration and records it in schema_migrations.
func (b *bqRunner) apply(ctx context.Context, m Migration) error {
	if err := b.exec(ctx, m.SQL, nil); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	sql := `
		INSERT INTO ` + b.table("schema_migrations") + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`
	err := b.exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: b.appliedBy},
	})
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (b *bqRunner) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := b.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
