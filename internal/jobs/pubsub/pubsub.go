// Package pubsub carries jobs over Google Cloud Pub/Sub so the API and the
// worker can run as separate deployments.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	ps "cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/jobs"
)

const (
	attrJobType     = "job_type"
	publishTimeout  = 30 * time.Second
	maxOutstanding  = 10
	receiveRoutines = 2
)

// Publisher publishes jobs as JSON messages to a topic.
type Publisher struct {
	topic *ps.Topic
	store jobs.JobStore
	log   zerolog.Logger
}

var _ jobs.Publisher = (*Publisher)(nil)

// NewPublisher wraps topicID of client. store is optional and records the
// pending job for status lookups.
func NewPublisher(client *ps.Client, topicID string, store jobs.JobStore, log zerolog.Logger) *Publisher {
	return &Publisher{topic: client.Topic(topicID), store: store, log: log}
}

// PublishAuditCompletion implements jobs.Publisher.
func (p *Publisher) PublishAuditCompletion(ctx context.Context, job *jobs.AuditCompletionJob) error {
	jobs.Prepare(job, uuid.NewString, time.Now().UTC())

	msg, err := encode(job)
	if err != nil {
		return fmt.Errorf("Publisher.PublishAuditCompletion: %w", err)
	}

	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("Publisher.PublishAuditCompletion: saving job: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("Publisher.PublishAuditCompletion: publish: %w", err)
	}

	p.log.Debug().Str("job_id", job.JobID).Str("pubsub_id", id).Msg("Published job")
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return nil
}

// Consumer receives jobs from a subscription.
type Consumer struct {
	sub   *ps.Subscription
	store jobs.JobStore
	log   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ jobs.Consumer = (*Consumer)(nil)

// NewConsumer wraps subscriptionID of client.
func NewConsumer(client *ps.Client, subscriptionID string, store jobs.JobStore, log zerolog.Logger) *Consumer {
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	sub.ReceiveSettings.NumGoroutines = receiveRoutines
	return &Consumer{sub: sub, store: store, log: log}
}

// Start implements jobs.Consumer. Receiving runs in the background until
// Stop is called or ctx ends.
func (c *Consumer) Start(ctx context.Context, handler jobs.JobHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("consumer already started")
	}

	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		err := c.sub.Receive(rctx, func(ctx context.Context, m *ps.Message) {
			if ack := c.handle(ctx, m.Data, m.DeliveryAttempt, handler); ack {
				m.Ack()
			} else {
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("Pub/Sub receive stopped")
		}
	}()
	return nil
}

// handle runs one message and reports whether it should be acked.
// Undecodable messages are acked so they do not redeliver forever.
func (c *Consumer) handle(ctx context.Context, data []byte, attempt *int, handler jobs.JobHandler) bool {
	job, err := decode(data)
	if err != nil {
		c.log.Error().Err(err).Msg("Dropping undecodable job message")
		return true
	}
	if attempt != nil && *attempt > 1 {
		job.RetryCount = *attempt - 1
	}

	now := time.Now().UTC()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &now
	c.save(ctx, job)

	herr := handler(ctx, job)

	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if herr != nil {
		job.Error = herr.Error()
		if job.RetryCount >= job.MaxRetries {
			job.Status = jobs.JobStatusFailed
			c.save(ctx, job)
			c.log.Error().Err(herr).Str("job_id", job.JobID).Msg("Job failed")
			return true
		}
		job.Status = jobs.JobStatusRetrying
		c.save(ctx, job)
		c.log.Warn().Err(herr).Str("job_id", job.JobID).Int("retry", job.RetryCount).Msg("Job failed, will redeliver")
		return false
	}

	job.Status = jobs.JobStatusCompleted
	job.Error = ""
	c.save(ctx, job)
	return true
}

func (c *Consumer) save(ctx context.Context, job *jobs.AuditCompletionJob) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveJob(ctx, job); err != nil {
		c.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements jobs.Consumer.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encode(job *jobs.AuditCompletionJob) (*ps.Message, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	return &ps.Message{
		Data:       data,
		Attributes: map[string]string{attrJobType: string(job.GetType())},
	}, nil
}

func decode(data []byte) (*jobs.AuditCompletionJob, error) {
	var job jobs.AuditCompletionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if job.JobID == "" {
		return nil, errors.New("decoding job: missing job_id")
	}
	return &job, nil
}
