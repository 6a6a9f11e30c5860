package billing

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// NoticeKind names a customer-facing billing message.
type NoticeKind string

const (
	NoticeSubscriptionConfirmed NoticeKind = "subscription_confirmed"
	NoticeReceipt               NoticeKind = "receipt"
	NoticeUpgrade               NoticeKind = "upgrade"
	NoticeDowngrade             NoticeKind = "downgrade"
	NoticeIntervalChange        NoticeKind = "interval_change"
	NoticeCancellationScheduled NoticeKind = "cancellation_scheduled"
	NoticeReactivated           NoticeKind = "reactivated"
	NoticeCanceled              NoticeKind = "canceled"
	NoticePaymentFailed         NoticeKind = "payment_failed"
	NoticePaymentRecovered      NoticeKind = "payment_recovered"
	NoticeRefund                NoticeKind = "refund"
)

// Notice is a side effect produced by a billing transition. It is emitted
// only after the transition committed.
type Notice struct {
	Kind         NoticeKind `json:"kind"`
	UserID       uint       `json:"user_id"`
	PlanName     string     `json:"plan_name"`
	OldPlanName  string     `json:"old_plan_name,omitempty"`
	Interval     string     `json:"interval,omitempty"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency,omitempty"`
	InvoiceURL   string     `json:"invoice_url,omitempty"`
	AttemptCount int        `json:"attempt_count,omitempty"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Notifier delivers notices asynchronously. Implementations must not block
// on the actual send.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier only logs notices.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notice) error {
	log.Infof("[Billing] Notice %s for user %d (plan=%s)", n.Kind, n.UserID, n.PlanName)
	return nil
}
