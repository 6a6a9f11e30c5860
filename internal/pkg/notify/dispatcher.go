// Package notify delivers reminder pushes, reminder calls and billing emails.
// Producers enqueue jobs on the Redis job queue; the Worker performs the
// actual gateway calls from the queue's worker pool.
package notify

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
)

// Dispatcher hands reminder deliveries to the job queue without waiting for
// the gateways.
type Dispatcher struct {
	queue jobqueue.Enqueuer
}

// NewDispatcher creates a dispatcher on queue
func NewDispatcher(queue jobqueue.Enqueuer) *Dispatcher {
	return &Dispatcher{queue: queue}
}

// Push queues a push notification for userID.
func (d *Dispatcher) Push(ctx context.Context, userID uint, title, body string, data map[string]string) error {
	job, err := d.queue.EnqueueJob(ctx, jobqueue.JobTypeSendPush, jobqueue.PushJobPayload{
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   data,
	}.ToMap())
	if err != nil {
		return err
	}
	log.Debugf("[Notify] Queued push job %s for user %d", job.ID, userID)
	return nil
}

// Call queues a voice call for userID.
func (d *Dispatcher) Call(ctx context.Context, userID uint, message string) error {
	job, err := d.queue.EnqueueJob(ctx, jobqueue.JobTypeSendCall, jobqueue.CallJobPayload{
		UserID:  userID,
		Message: message,
	}.ToMap())
	if err != nil {
		return err
	}
	log.Debugf("[Notify] Queued call job %s for user %d", job.ID, userID)
	return nil
}

// BillingNotifier queues billing notices as emails.
type BillingNotifier struct {
	queue jobqueue.Enqueuer
}

// NewBillingNotifier creates a notifier on queue
func NewBillingNotifier(queue jobqueue.Enqueuer) *BillingNotifier {
	return &BillingNotifier{queue: queue}
}

// Notify queues an email for n.
func (b *BillingNotifier) Notify(ctx context.Context, n billing.Notice) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	job, err := b.queue.EnqueueJob(ctx, jobqueue.JobTypeSendEmail, jobqueue.EmailJobPayload{
		UserID: n.UserID,
		Kind:   string(n.Kind),
		Notice: raw,
	}.ToMap())
	if err != nil {
		return err
	}
	log.Debugf("[Notify] Queued %s email job %s for user %d", n.Kind, job.ID, n.UserID)
	return nil
}
