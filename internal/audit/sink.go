package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/jobs"
)

// Sink stores completion rows.
type Sink interface {
	WriteCompletion(ctx context.Context, row *CompletionRow) error
}

// BigQuerySink writes rows to BigQuery with DML INSERT to avoid streaming
// buffer issues.
type BigQuerySink struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ Sink = (*BigQuerySink)(nil)

// NewBigQuerySink creates a BigQuery client for projectID.
func NewBigQuerySink(ctx context.Context, projectID, datasetID string) (*BigQuerySink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySink: creating client: %w", err)
	}
	return &BigQuerySink{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (s *BigQuerySink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// WriteCompletion inserts a single CompletionRow.
func (s *BigQuerySink) WriteCompletion(ctx context.Context, row *CompletionRow) error {
	q := s.client.Query(insertSQL(s.projectID, s.datasetID))
	q.Parameters = insertParams(row)

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("WriteCompletion: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("WriteCompletion: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("WriteCompletion: job error: %w", err)
	}

	return nil
}

func insertSQL(projectID, datasetID string) string {
	return `
		INSERT INTO ` + "`" + projectID + "." + datasetID + "." + TableName + "`" + ` (
			completion_id, user_id, message_id, invoice_id,
			mode, provider, prompt, raw_json, completion_text,
			transaction_count, total, currency, issued_date,
			turn_created_ts, created_ts
		)
		VALUES (
			@completion_id, @user_id, @message_id, @invoice_id,
			@mode, @provider, @prompt, @raw_json, @completion_text,
			@transaction_count, @total, @currency, @issued_date,
			@turn_created_ts, @created_ts
		)
	`
}

func insertParams(row *CompletionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "completion_id", Value: row.CompletionID},
		{Name: "user_id", Value: row.UserID},
		{Name: "message_id", Value: row.MessageID},
		{Name: "invoice_id", Value: row.InvoiceID},
		{Name: "mode", Value: row.Mode},
		{Name: "provider", Value: row.Provider},
		{Name: "prompt", Value: row.Prompt},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "completion_text", Value: row.CompletionText},
		{Name: "transaction_count", Value: row.TransactionCount},
		{Name: "total", Value: row.Total},
		{Name: "currency", Value: row.Currency},
		{Name: "issued_date", Value: row.IssuedDate},
		{Name: "turn_created_ts", Value: row.TurnCreatedTS},
		{Name: "created_ts", Value: row.CreatedTS},
	}
}

// LogSink writes rows to the log. It is used when BigQuery is not configured.
type LogSink struct {
	Log zerolog.Logger
}

var _ Sink = LogSink{}

// WriteCompletion implements Sink.
func (s LogSink) WriteCompletion(_ context.Context, row *CompletionRow) error {
	s.Log.Info().
		Str("completion_id", row.CompletionID).
		Str("user_id", row.UserID).
		Str("message_id", row.MessageID).
		Str("mode", row.Mode).
		Int64("transaction_count", row.TransactionCount).
		Msg("Completion audited")
	return nil
}

var errUnexpectedJob = errors.New("unexpected job type")

// Handler adapts a Sink to a jobs.JobHandler.
func Handler(sink Sink, log zerolog.Logger) jobs.JobHandler {
	return HandlerWithClock(sink, log, time.Now)
}

// HandlerWithClock is Handler with an explicit clock for the created_ts column.
func HandlerWithClock(sink Sink, log zerolog.Logger, now func() time.Time) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		aj, ok := job.(*jobs.AuditCompletionJob)
		if !ok {
			return fmt.Errorf("%w: %T", errUnexpectedJob, job)
		}

		log.Info().
			Str("job_id", aj.JobID).
			Str("message_id", aj.MessageID).
			Msg("Processing audit job")

		if err := sink.WriteCompletion(ctx, RowFromJob(aj, now())); err != nil {
			log.Error().Err(err).Str("job_id", aj.JobID).Msg("Audit write failed")
			return err
		}
		return nil
	}
}
