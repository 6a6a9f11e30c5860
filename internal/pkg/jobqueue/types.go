package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSendPush     JobType = "send_push"
	JobTypeSendCall     JobType = "send_call"
	JobTypeSendEmail    JobType = "send_email"
	JobTypeBillingEvent JobType = "billing_event"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	RetryAt     *time.Time             `json:"retry_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// maxRetriesFor returns how often a failed job of type t is retried.
// Voice calls are attempted once.
func maxRetriesFor(t JobType) int {
	if t == JobTypeSendCall {
		return 0
	}
	return DefaultMaxRetries
}

// PushJobPayload contains the payload for push notification jobs
type PushJobPayload struct {
	UserID uint              `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p PushJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"user_id": p.UserID,
		"title":   p.Title,
		"body":    p.Body,
	}
	if len(p.Data) > 0 {
		data := make(map[string]interface{}, len(p.Data))
		for k, v := range p.Data {
			data[k] = v
		}
		m["data"] = data
	}
	return m
}

// PushJobPayloadFromMap creates a payload from a map
func PushJobPayloadFromMap(data map[string]interface{}) (*PushJobPayload, error) {
	var payload PushJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// CallJobPayload contains the payload for voice call jobs
type CallJobPayload struct {
	UserID  uint   `json:"user_id"`
	Message string `json:"message"`
}

// ToMap converts the payload to a map for storage
func (p CallJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"message": p.Message,
	}
}

// CallJobPayloadFromMap creates a payload from a map
func CallJobPayloadFromMap(data map[string]interface{}) (*CallJobPayload, error) {
	var payload CallJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// EmailJobPayload carries a billing notice to be rendered and mailed to
// the user. Notice is the JSON encoding of the notice.
type EmailJobPayload struct {
	UserID uint            `json:"user_id"`
	Kind   string          `json:"kind"`
	Notice json.RawMessage `json:"notice"`
}

// ToMap converts the payload to a map for storage
func (p EmailJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"user_id": p.UserID,
		"kind":    p.Kind,
	}
	var notice map[string]interface{}
	if len(p.Notice) > 0 && json.Unmarshal(p.Notice, &notice) == nil {
		m["notice"] = notice
	}
	return m
}

// EmailJobPayloadFromMap creates a payload from a map
func EmailJobPayloadFromMap(data map[string]interface{}) (*EmailJobPayload, error) {
	var payload EmailJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// BillingEventJobPayload points at a stored webhook envelope
type BillingEventJobPayload struct {
	WebhookEventID uint `json:"webhook_event_id"`
}

// ToMap converts the payload to a map for storage
func (p BillingEventJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
	}
}

// BillingEventJobPayloadFromMap creates a payload from a map
func BillingEventJobPayloadFromMap(data map[string]interface{}) (*BillingEventJobPayload, error) {
	var payload BillingEventJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

func decodePayload(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount <= j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
	j.RetryAt = nil
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying(at time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
	j.RetryAt = &at
}
