package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ProviderStripe is the provider name stored on webhook events.
const ProviderStripe = "stripe"

// StripeTranslator verifies Stripe webhook envelopes and translates them
// into ledger events.
type StripeTranslator struct {
	webhookSecret string
	// FetchSubscription loads a subscription when a checkout session only
	// references it by id.
	FetchSubscription func(ctx context.Context, id string) (*stripe.Subscription, error)
	// FetchPaymentError returns the decline message of a payment intent
	// that a failed invoice only references by id.
	FetchPaymentError func(ctx context.Context, paymentIntentID string) (string, error)
}

// NewStripeTranslator creates a translator. A non-empty secretKey configures
// the Stripe API client.
func NewStripeTranslator(secretKey, webhookSecret string) *StripeTranslator {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeTranslator{
		webhookSecret:     webhookSecret,
		FetchSubscription: fetchStripeSubscription,
		FetchPaymentError: fetchStripePaymentError,
	}
}

// NewStripeTranslatorFromEnv reads STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET.
func NewStripeTranslatorFromEnv() *StripeTranslator {
	return NewStripeTranslator(env.GetEnv("STRIPE_SECRET_KEY", ""), env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

func fetchStripeSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, StripeError("subscription.get", err)
	}
	return sub, nil
}

func fetchStripePaymentError(ctx context.Context, id string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return "", StripeError("payment_intent.get", err)
	}
	if pi.LastPaymentError == nil {
		return "", nil
	}
	return pi.LastPaymentError.Msg, nil
}

// Verify checks the Stripe-Signature header against the payload and returns
// the envelope ready to be stored.
func (t *StripeTranslator) Verify(payload []byte, signature string) (WebhookEventInput, error) {
	if t.webhookSecret == "" {
		return WebhookEventInput{}, errors.New("stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, t.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEventInput{}, fmt.Errorf("signature verification failed: %w", err)
	}
	return WebhookEventInput{
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		PayloadJSON:     string(payload),
	}, nil
}

// Translate decodes a verified envelope. Unknown event types yield an event
// without payload, which the ledger ignores.
func (t *StripeTranslator) Translate(ctx context.Context, payload []byte) (*Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperrors.Validation("payload", "is not a stripe event: %v", err)
	}
	ev := &Event{
		ID:        raw.ID,
		Type:      string(raw.Type),
		CreatedAt: time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Data == nil {
		return nil, apperrors.Validation("data", "is missing")
	}

	var err error
	switch ev.Type {
	case EventCheckoutCompleted:
		ev.Checkout, err = t.translateCheckout(ctx, raw.Data.Raw)
	case EventInvoicePaid:
		ev.Invoice, _, err = translateInvoice(raw.Data.Raw)
	case EventPaymentFailed:
		ev.Invoice, err = t.translateFailedInvoice(ctx, raw.Data.Raw)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err = json.Unmarshal(raw.Data.Raw, &sub); err == nil {
			ev.Subscription = snapshotFromStripe(&sub)
		}
	case EventChargeRefunded:
		ev.Charge, err = translateCharge(raw.Data.Raw)
	}
	if err != nil {
		if apperrors.IsValidation(err) || isProviderError(err) {
			return nil, err
		}
		return nil, apperrors.Validation("data", "invalid %s payload: %v", ev.Type, err)
	}
	return ev, nil
}

func (t *StripeTranslator) translateCheckout(ctx context.Context, data json.RawMessage) (*CheckoutCompleted, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	out := &CheckoutCompleted{}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if ref := strings.TrimSpace(sess.ClientReferenceID); ref != "" {
		if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
			out.UserID = uint(id)
		}
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil, apperrors.Validation("subscription", "checkout session has no subscription")
	}

	sub := sess.Subscription
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		if t.FetchSubscription == nil {
			return nil, apperrors.Validation("subscription", "items not expanded")
		}
		fetched, err := t.FetchSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		sub = fetched
	}
	out.Subscription = snapshotFromStripe(sub)
	if out.CustomerID == "" {
		out.CustomerID = out.Subscription.CustomerID
	}
	return out, nil
}

func snapshotFromStripe(sub *stripe.Subscription) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		snap.CurrentPeriodStart = unixPtr(sub.CurrentPeriodStart)
	}
	if sub.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = unixPtr(sub.CurrentPeriodEnd)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		snap.PriceID, snap.Interval = priceDetails(sub.Items.Data[0].Price)
	}
	return snap
}

func priceDetails(p *stripe.Price) (string, string) {
	interval := ""
	if p.Recurring != nil {
		interval = string(p.Recurring.Interval)
	}
	return p.ID, interval
}

// translateFailedInvoice fills FailureMessage with the decline reason of
// the invoice payment, fetching the payment intent when the payload only
// carries its id. A failed lookup keeps the generic reason.
func (t *StripeTranslator) translateFailedInvoice(ctx context.Context, data json.RawMessage) (*InvoiceEvent, error) {
	out, inv, err := translateInvoice(data)
	if err != nil {
		return nil, err
	}
	if reason := declineReason(inv); reason != "" {
		out.FailureMessage = reason
		return out, nil
	}
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" && t.FetchPaymentError != nil {
		reason, ferr := t.FetchPaymentError(ctx, inv.PaymentIntent.ID)
		if ferr != nil {
			log.Warnf("[Billing] Could not load decline reason for invoice %s: %v", inv.ID, ferr)
		} else if reason != "" {
			out.FailureMessage = reason
			return out, nil
		}
	}
	if inv.LastFinalizationError != nil {
		out.FailureMessage = inv.LastFinalizationError.Msg
	}
	return out, nil
}

// declineReason reads the payment failure from the expanded payment intent
// or charge of inv.
func declineReason(inv *stripe.Invoice) string {
	if inv.PaymentIntent != nil && inv.PaymentIntent.LastPaymentError != nil && inv.PaymentIntent.LastPaymentError.Msg != "" {
		return inv.PaymentIntent.LastPaymentError.Msg
	}
	if inv.Charge != nil && inv.Charge.FailureMessage != "" {
		return inv.Charge.FailureMessage
	}
	return ""
}

func translateInvoice(data json.RawMessage) (*InvoiceEvent, *stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, nil, err
	}
	out := &InvoiceEvent{
		InvoiceID:        inv.ID,
		BillingReason:    string(inv.BillingReason),
		AmountPaidCents:  inv.AmountPaid,
		AmountDueCents:   inv.AmountDue,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		AttemptCount:     int(inv.AttemptCount),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}

	if inv.Lines == nil || len(inv.Lines.Data) == 0 {
		return out, &inv, nil
	}
	// The first positive line carries the plan being paid for; proration
	// credits come as negative lines.
	line := inv.Lines.Data[0]
	for _, l := range inv.Lines.Data {
		if l.Amount > 0 {
			line = l
			break
		}
	}
	out.LineAmountCents = line.Amount
	if line.Price != nil {
		out.PriceID, out.Interval = priceDetails(line.Price)
	}
	for _, l := range inv.Lines.Data {
		if l.Proration {
			out.HasProration = true
			out.ProrationCents += l.Amount
		}
	}
	return out, &inv, nil
}

func translateCharge(data json.RawMessage) (*ChargeRefunded, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, err
	}
	out := &ChargeRefunded{
		ChargeID:            ch.ID,
		AmountRefundedCents: ch.AmountRefunded,
		Currency:            string(ch.Currency),
	}
	if ch.Customer != nil {
		out.CustomerID = ch.Customer.ID
	}
	if ch.Invoice != nil {
		out.InvoiceID = ch.Invoice.ID
	}
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 && ch.Refunds.Data[0] != nil {
		out.Reason = string(ch.Refunds.Data[0].Reason)
	}
	return out, nil
}

func unixPtr(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

// StripeError wraps a Stripe API error as a BillingProviderError. Rate
// limits, 5xx responses and transport failures are transient.
func StripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	transient := true
	var se *stripe.Error
	if errors.As(err, &se) {
		transient = se.HTTPStatusCode >= http.StatusInternalServerError ||
			se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.HTTPStatusCode == 0
	}
	return &apperrors.BillingProviderError{Op: op, Transient: transient, Err: err}
}

func isProviderError(err error) bool {
	var be *apperrors.BillingProviderError
	return errors.As(err, &be)
}
