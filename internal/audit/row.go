// Package audit records the raw provider output behind every persisted turn.
package audit

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-assistant/internal/jobs"
)

// TableName is the BigQuery table audit rows are written to.
const TableName = "completions"

// CompletionRow is one row of the completions table.
type CompletionRow struct {
	CompletionID string `bigquery:"completion_id"` // REQUIRED
	UserID       string `bigquery:"user_id"`       // REQUIRED
	MessageID    string `bigquery:"message_id"`    // REQUIRED
	InvoiceID    string `bigquery:"invoice_id"`    // REQUIRED

	Mode     string              `bigquery:"mode"`     // REQUIRED
	Provider bigquery.NullString `bigquery:"provider"` // NULLABLE

	Prompt bigquery.NullString `bigquery:"prompt"` // NULLABLE

	// RawJSON holds completions that are valid JSON, CompletionText the rest.
	RawJSON        bigquery.NullJSON   `bigquery:"raw_json"`        // NULLABLE
	CompletionText bigquery.NullString `bigquery:"completion_text"` // NULLABLE

	TransactionCount int64                `bigquery:"transaction_count"` // REQUIRED
	Total            bigquery.NullFloat64 `bigquery:"total"`             // NULLABLE
	Currency         bigquery.NullString  `bigquery:"currency"`          // NULLABLE
	IssuedDate       bigquery.NullDate    `bigquery:"issued_date"`       // NULLABLE

	TurnCreatedTS time.Time `bigquery:"turn_created_ts"` // REQUIRED
	CreatedTS     time.Time `bigquery:"created_ts"`      // REQUIRED
}

// RowFromJob maps an audit job to its table row. The job id is used as the
// completion id.
func RowFromJob(job *jobs.AuditCompletionJob, now time.Time) *CompletionRow {
	row := &CompletionRow{
		CompletionID:     job.JobID,
		UserID:           job.UserID,
		MessageID:        job.MessageID,
		InvoiceID:        job.InvoiceID,
		Mode:             job.Mode,
		Provider:         nullString(job.Provider),
		Prompt:           nullString(job.Prompt),
		TransactionCount: int64(job.TransactionCount),
		Total:            bigquery.NullFloat64{Float64: job.Total, Valid: true},
		Currency:         nullString(job.Currency),
		TurnCreatedTS:    job.TurnCreatedAt.UTC(),
		CreatedTS:        now.UTC(),
	}

	if job.Completion != "" {
		if json.Valid([]byte(job.Completion)) {
			row.RawJSON = bigquery.NullJSON{JSONVal: job.Completion, Valid: true}
		} else {
			row.CompletionText = nullString(job.Completion)
		}
	}

	if !job.IssuedAt.IsZero() {
		row.IssuedDate = bigquery.NullDate{Date: civil.DateOf(job.IssuedAt.UTC()), Valid: true}
	}

	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
