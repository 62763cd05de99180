package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAuditCompletion records a provider completion in the audit sink.
	JobTypeAuditCompletion JobType = "audit_completion"
)

// JobStatus is where a job is in its lifecycle. A job moves from pending to
// running and ends completed or failed, passing through retrying between
// attempts.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries is applied to jobs published without MaxRetries.
const DefaultMaxRetries = 3

var (
	// ErrJobNotFound is returned by JobStore lookups for unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when publishing to a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// AuditCompletionJob carries one persisted turn and the raw provider output
// that produced it.
type AuditCompletionJob struct {
	JobID string `json:"job_id"`

	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	InvoiceID string `json:"invoice_id"`

	// Mode is the inference mode, "text" or "invoice".
	Mode     string `json:"mode"`
	Provider string `json:"provider"`

	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`

	TransactionCount int       `json:"transaction_count"`
	Total            float64   `json:"total"`
	Currency         string    `json:"currency"`
	IssuedAt         time.Time `json:"issued_at"`

	// TurnCreatedAt is the creation time of the bot message.
	TurnCreatedAt time.Time `json:"turn_created_at"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is what a JobHandler receives.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *AuditCompletionJob) GetID() string        { return j.JobID }
func (j *AuditCompletionJob) GetType() JobType     { return JobTypeAuditCompletion }
func (j *AuditCompletionJob) GetStatus() JobStatus { return j.Status }

// Prepare fills the id, status, creation time and retry budget of a job
// about to be published.
func Prepare(job *AuditCompletionJob, newID func() string, now time.Time) {
	if job.JobID == "" {
		job.JobID = newID()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
}

// Publisher publishes jobs to a queue (in-memory or Pub/Sub).
type Publisher interface {
	PublishAuditCompletion(ctx context.Context, job *AuditCompletionJob) error
	Close() error
}

// Consumer consumes jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs; handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *AuditCompletionJob) error
	GetJob(ctx context.Context, jobID string) (*AuditCompletionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*AuditCompletionJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by owner.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	Limit  int
	Offset int
}
