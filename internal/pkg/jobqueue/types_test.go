package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected string
	}{
		{"Push", JobTypeSendPush, "send_push"},
		{"Call", JobTypeSendCall, "send_call"},
		{"Email", JobTypeSendEmail, "send_email"},
		{"Billing event", JobTypeBillingEvent, "billing_event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.jobType))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"First failure", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Third failure", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, true},
		{"Retries exhausted", &Job{Status: JobStatusFailed, RetryCount: 4, MaxRetries: 3}, false},
		{"Single attempt job", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 0}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Pending job", &Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestMaxRetriesFor(t *testing.T) {
	assert.Equal(t, 0, maxRetriesFor(JobTypeSendCall))
	assert.Equal(t, DefaultMaxRetries, maxRetriesFor(JobTypeSendPush))
	assert.Equal(t, DefaultMaxRetries, maxRetriesFor(JobTypeSendEmail))
	assert.Equal(t, DefaultMaxRetries, maxRetriesFor(JobTypeBillingEvent))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryDelay(1))
	assert.Equal(t, 120*time.Second, RetryDelay(2))
	assert.Equal(t, 240*time.Second, RetryDelay(3))
	assert.Equal(t, 60*time.Second, RetryDelay(0))
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}

	before := time.Now()
	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.ProcessedAt.Before(before))

	job.MarkAsFailed("gateway timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "gateway timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	retryAt := time.Now().Add(time.Minute)
	job.MarkAsRetrying(retryAt)
	assert.Equal(t, JobStatusRetrying, job.Status)
	require.NotNil(t, job.RetryAt)
	assert.Equal(t, retryAt, *job.RetryAt)

	job.MarkAsProcessing()
	assert.Nil(t, job.RetryAt)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

// Payloads survive the JSON round trip a job takes through Redis.
func roundTrip(t *testing.T, m map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(&Job{Payload: m})
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal(raw, &job))
	return job.Payload
}

func TestPushJobPayload(t *testing.T) {
	in := PushJobPayload{UserID: 42, Title: "Event Reminder", Body: "Dentist in 30 minutes", Data: map[string]string{"type": "event", "id": "7"}}

	out, err := PushJobPayloadFromMap(roundTrip(t, in.ToMap()))
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestCallJobPayload(t *testing.T) {
	in := CallJobPayload{UserID: 42, Message: "Hello! You have an upcoming task: Report soon."}

	out, err := CallJobPayloadFromMap(roundTrip(t, in.ToMap()))
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestEmailJobPayload(t *testing.T) {
	in := EmailJobPayload{UserID: 42, Kind: "receipt", Notice: json.RawMessage(`{"kind":"receipt","amount_cents":999}`)}

	out, err := EmailJobPayloadFromMap(roundTrip(t, in.ToMap()))
	require.NoError(t, err)
	assert.Equal(t, uint(42), out.UserID)
	assert.Equal(t, "receipt", out.Kind)
	assert.JSONEq(t, string(in.Notice), string(out.Notice))
}

func TestBillingEventJobPayload(t *testing.T) {
	out, err := BillingEventJobPayloadFromMap(roundTrip(t, BillingEventJobPayload{WebhookEventID: 9}.ToMap()))
	require.NoError(t, err)
	assert.Equal(t, uint(9), out.WebhookEventID)
}
