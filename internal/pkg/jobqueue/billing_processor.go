package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
)

// WebhookProcessor applies a stored billing webhook envelope.
type WebhookProcessor interface {
	ProcessWebhookEvent(ctx context.Context, webhookEventID uint, tr billing.Translator) error
}

// RegisterBillingEvents routes billing_event jobs to ledger.
func RegisterBillingEvents(q *Queue, ledger WebhookProcessor, tr billing.Translator) {
	q.Handle(JobTypeBillingEvent, func(ctx context.Context, job *Job) error {
		payload, err := BillingEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return apperrors.Validation("payload", "invalid billing event payload: %v", err)
		}
		if payload.WebhookEventID == 0 {
			return apperrors.Validation("webhook_event_id", "is required")
		}
		return ledger.ProcessWebhookEvent(ctx, payload.WebhookEventID, tr)
	})
}

// EnqueueBillingEvent schedules processing of a stored webhook envelope.
func EnqueueBillingEvent(ctx context.Context, q Enqueuer, webhookEventID uint) (*Job, error) {
	job, err := q.EnqueueJob(ctx, JobTypeBillingEvent, BillingEventJobPayload{WebhookEventID: webhookEventID}.ToMap())
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue billing event %d: %w", webhookEventID, err)
	}
	log.Debugf("[JobQueue] Billing event %d queued as job %s", webhookEventID, job.ID)
	return job, nil
}
