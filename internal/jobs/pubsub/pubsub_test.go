package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/jobs"
	"github.com/dvloznov/ledger-assistant/internal/jobs/inmemory"
)

func TestEncode_SetsTypeAttribute(t *testing.T) {
	msg, err := encode(&jobs.AuditCompletionJob{JobID: "j1", MessageID: "m1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.Attributes[attrJobType] != string(jobs.JobTypeAuditCompletion) {
		t.Errorf("attributes = %v", msg.Attributes)
	}
	job, err := decode(msg.Data)
	if err != nil || job.MessageID != "m1" {
		t.Errorf("decode = %+v, %v", job, err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, data := range []string{"not json", `{"message_id":"m1"}`} {
		if _, err := decode([]byte(data)); err == nil {
			t.Errorf("decode(%q) should fail", data)
		}
	}
}

func newTestConsumer(store jobs.JobStore) *Consumer {
	return &Consumer{store: store, log: zerolog.Nop()}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	msg, _ := encode(&jobs.AuditCompletionJob{JobID: "j1", MaxRetries: 2})
	attempt := func(n int) *int { return &n }

	tests := []struct {
		name       string
		data       []byte
		attempt    *int
		handlerErr error
		wantAck    bool
		wantStatus jobs.JobStatus
	}{
		{"success", msg.Data, attempt(1), nil, true, jobs.JobStatusCompleted},
		{"failure with retries left", msg.Data, attempt(1), boom, false, jobs.JobStatusRetrying},
		{"failure on last attempt", msg.Data, attempt(3), boom, true, jobs.JobStatusFailed},
		{"poison message", []byte("{"), nil, nil, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := inmemory.NewStore()
			c := newTestConsumer(store)
			ack := c.handle(ctx, tt.data, tt.attempt, func(context.Context, jobs.Job) error { return tt.handlerErr })
			if ack != tt.wantAck {
				t.Errorf("ack = %v, want %v", ack, tt.wantAck)
			}
			job, err := store.GetJob(ctx, "j1")
			if tt.wantStatus == "" {
				if !errors.Is(err, jobs.ErrJobNotFound) {
					t.Errorf("poison message should not be stored, got %+v", job)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if job.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", job.Status, tt.wantStatus)
			}
		})
	}
}
