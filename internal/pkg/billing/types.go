package billing

import "time"

// Event types understood by the ledger. Names follow the provider's
// webhook vocabulary.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
	EventChargeRefunded      = "charge.refunded"
)

// Invoice billing reasons.
const (
	ReasonSubscriptionCreate = "subscription_create"
	ReasonSubscriptionCycle  = "subscription_cycle"
	ReasonSubscriptionUpdate = "subscription_update"
)

// Event is a verified provider envelope translated into provider-neutral
// payloads. Exactly one payload field is set for a known Type.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time

	Checkout     *CheckoutCompleted
	Invoice      *InvoiceEvent
	Subscription *SubscriptionSnapshot
	Charge       *ChargeRefunded
}

// SubscriptionSnapshot is the provider's current view of a subscription.
type SubscriptionSnapshot struct {
	SubscriptionID     string
	CustomerID         string
	PriceID            string
	Interval           string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// CheckoutCompleted reports a finished checkout. UserID comes from the
// client reference attached when the checkout was opened.
type CheckoutCompleted struct {
	CustomerID   string
	UserID       uint
	Subscription *SubscriptionSnapshot
}

// InvoiceEvent carries a paid or failed invoice.
type InvoiceEvent struct {
	InvoiceID        string
	CustomerID       string
	SubscriptionID   string
	BillingReason    string
	AmountPaidCents  int64
	AmountDueCents   int64
	Currency         string
	PriceID          string
	Interval         string
	LineAmountCents  int64
	ProrationCents   int64
	HasProration     bool
	HostedInvoiceURL string
	AttemptCount     int
	FailureMessage   string
}

// ChargeRefunded carries a refunded charge.
type ChargeRefunded struct {
	ChargeID            string
	CustomerID          string
	InvoiceID           string
	AmountRefundedCents int64
	Currency            string
	Reason              string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	OccurredAt      time.Time
	PayloadJSON     string
}
