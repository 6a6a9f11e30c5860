package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test_secret"

const invoicePaidPayload = `{
  "id": "evt_inv_1",
  "object": "event",
  "type": "invoice.paid",
  "created": 1709294400,
  "api_version": "2024-06-20",
  "data": {
    "object": {
      "id": "in_1",
      "object": "invoice",
      "customer": "cus_1",
      "subscription": "sub_1",
      "billing_reason": "subscription_update",
      "amount_paid": 1000,
      "amount_due": 1000,
      "currency": "usd",
      "attempt_count": 1,
      "hosted_invoice_url": "https://invoice.example/in_1",
      "lines": {
        "object": "list",
        "data": [
          {"id": "il_1", "object": "line_item", "amount": -999, "proration": true,
           "price": {"id": "price_basic_m", "object": "price", "recurring": {"interval": "month"}}},
          {"id": "il_2", "object": "line_item", "amount": 1999, "proration": true,
           "price": {"id": "price_premium_m", "object": "price", "recurring": {"interval": "month"}}}
        ]
      }
    }
  }
}`

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestStripeVerifyAcceptsSignedPayload(t *testing.T) {
	tr := NewStripeTranslator("", testWebhookSecret)
	header, body := signed(t, invoicePaidPayload)

	in, err := tr.Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, in.Provider)
	assert.Equal(t, "evt_inv_1", in.ProviderEventID)
	assert.Equal(t, EventInvoicePaid, in.EventType)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), in.OccurredAt)
}

func TestStripeVerifyRejectsBadSignature(t *testing.T) {
	tr := NewStripeTranslator("", testWebhookSecret)
	_, body := signed(t, invoicePaidPayload)

	_, err := tr.Verify(body, "t=1,v1=deadbeef")
	assert.Error(t, err)

	_, err = NewStripeTranslator("", "").Verify(body, "t=1,v1=deadbeef")
	assert.Error(t, err)
}

func TestStripeTranslateInvoice(t *testing.T) {
	tr := NewStripeTranslator("", testWebhookSecret)
	ev, err := tr.Translate(context.Background(), []byte(invoicePaidPayload))
	require.NoError(t, err)

	require.NotNil(t, ev.Invoice)
	assert.Equal(t, "in_1", ev.Invoice.InvoiceID)
	assert.Equal(t, "cus_1", ev.Invoice.CustomerID)
	assert.Equal(t, "sub_1", ev.Invoice.SubscriptionID)
	assert.Equal(t, "price_premium_m", ev.Invoice.PriceID)
	assert.Equal(t, "month", ev.Invoice.Interval)
	assert.Equal(t, int64(1999), ev.Invoice.LineAmountCents)
	assert.True(t, ev.Invoice.HasProration)
	assert.Equal(t, int64(1000), ev.Invoice.ProrationCents)
	assert.Equal(t, "https://invoice.example/in_1", ev.Invoice.HostedInvoiceURL)
	assert.Equal(t, "upgrade", classifyInvoice(ev.Invoice))
}

func TestStripeTranslateCheckoutFetchesSubscription(t *testing.T) {
	payload := `{"id":"evt_co","object":"event","type":"checkout.session.completed","created":1709294400,
	  "data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","client_reference_id":"42","subscription":"sub_1"}}}`

	tr := NewStripeTranslator("", testWebhookSecret)
	var fetched string
	tr.FetchSubscription = func(_ context.Context, id string) (*stripe.Subscription, error) {
		fetched = id
		return &stripe.Subscription{
			ID:               id,
			Status:           stripe.SubscriptionStatusActive,
			CurrentPeriodEnd: 1740830400,
			Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
				Price: &stripe.Price{ID: "price_premium_y", Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalYear}},
			}}},
		}, nil
	}

	ev, err := tr.Translate(context.Background(), []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "sub_1", fetched)
	require.NotNil(t, ev.Checkout)
	assert.Equal(t, uint(42), ev.Checkout.UserID)
	assert.Equal(t, "cus_1", ev.Checkout.CustomerID)
	assert.Equal(t, "price_premium_y", ev.Checkout.Subscription.PriceID)
	assert.Equal(t, "year", ev.Checkout.Subscription.Interval)
	require.NotNil(t, ev.Checkout.Subscription.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1740830400, 0).UTC(), *ev.Checkout.Subscription.CurrentPeriodEnd)
}

func TestStripeTranslateCheckoutPropagatesProviderFailure(t *testing.T) {
	payload := `{"id":"evt_co","object":"event","type":"checkout.session.completed","created":1,
	  "data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1"}}}`
	tr := NewStripeTranslator("", testWebhookSecret)
	tr.FetchSubscription = func(context.Context, string) (*stripe.Subscription, error) {
		return nil, StripeError("subscription.get", &stripe.Error{HTTPStatusCode: 503})
	}

	_, err := tr.Translate(context.Background(), []byte(payload))
	require.Error(t, err)
	assert.False(t, apperrors.IsPermanent(err))
}

func TestStripeTranslateRefund(t *testing.T) {
	payload := `{"id":"evt_ref","object":"event","type":"charge.refunded","created":1709294400,
	  "data":{"object":{"id":"ch_1","object":"charge","customer":"cus_1","amount_refunded":500,"currency":"usd",
	  "refunds":{"object":"list","data":[{"id":"re_1","object":"refund","reason":"duplicate"}]}}}}`

	ev, err := NewStripeTranslator("", testWebhookSecret).Translate(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.NotNil(t, ev.Charge)
	assert.Equal(t, "ch_1", ev.Charge.ChargeID)
	assert.Equal(t, int64(500), ev.Charge.AmountRefundedCents)
	assert.Equal(t, "duplicate", ev.Charge.Reason)
}

func TestStripeTranslateSubscriptionUpdated(t *testing.T) {
	payload := `{"id":"evt_up","object":"event","type":"customer.subscription.updated","created":1709294400,
	  "data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due",
	  "cancel_at_period_end":true,"current_period_start":1709294400,"current_period_end":1711972800,
	  "items":{"object":"list","data":[{"id":"si_1","object":"subscription_item",
	  "price":{"id":"price_basic_m","object":"price","recurring":{"interval":"month"}}}]}}}}`

	ev, err := NewStripeTranslator("", testWebhookSecret).Translate(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.NotNil(t, ev.Subscription)
	assert.Equal(t, "sub_1", ev.Subscription.SubscriptionID)
	assert.Equal(t, "past_due", ev.Subscription.Status)
	assert.True(t, ev.Subscription.CancelAtPeriodEnd)
	assert.Equal(t, "price_basic_m", ev.Subscription.PriceID)
}

func TestStripeTranslateRejectsGarbage(t *testing.T) {
	_, err := NewStripeTranslator("", testWebhookSecret).Translate(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestStripeErrorClassification(t *testing.T) {
	assert.False(t, apperrors.IsPermanent(StripeError("op", &stripe.Error{HTTPStatusCode: 503})))
	assert.False(t, apperrors.IsPermanent(StripeError("op", &stripe.Error{HTTPStatusCode: 429})))
	assert.True(t, apperrors.IsPermanent(StripeError("op", &stripe.Error{HTTPStatusCode: 400})))
	assert.False(t, apperrors.IsPermanent(StripeError("op", errors.New("connection reset"))))
	assert.NoError(t, StripeError("op", nil))
}

func paymentFailedPayload(extra string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_fail_1",
  "object": "event",
  "type": "invoice.payment_failed",
  "created": 1709294400,
  "data": {
    "object": {
      "id": "in_9",
      "object": "invoice",
      "customer": "cus_1",
      "amount_due": 999,
      "currency": "usd",
      "attempt_count": 2,
      "last_finalization_error": {"message": "Finalization failed"}%s
    }
  }
}`, extra))
}

func TestStripeFailedInvoiceDeclineReason(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		extra   string
		fetch   func(context.Context, string) (string, error)
		want    string
		fetched string
	}{
		{
			name:  "expanded payment intent",
			extra: `, "payment_intent": {"id": "pi_1", "object": "payment_intent", "last_payment_error": {"message": "Your card has insufficient funds."}}`,
			want:  "Your card has insufficient funds.",
		},
		{
			name:  "expanded charge",
			extra: `, "charge": {"id": "ch_1", "object": "charge", "failure_message": "Your card was declined."}`,
			want:  "Your card was declined.",
		},
		{
			name:  "payment intent id is fetched",
			extra: `, "payment_intent": "pi_2"`,
			fetch: func(context.Context, string) (string, error) {
				return "Your card has expired.", nil
			},
			want:    "Your card has expired.",
			fetched: "pi_2",
		},
		{
			name:  "failed lookup falls back",
			extra: `, "payment_intent": "pi_3"`,
			fetch: func(context.Context, string) (string, error) {
				return "", errors.New("network down")
			},
			want:    "Finalization failed",
			fetched: "pi_3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewStripeTranslator("", testWebhookSecret)
			var fetched string
			tr.FetchPaymentError = func(ctx context.Context, id string) (string, error) {
				fetched = id
				if tt.fetch == nil {
					return "", errors.New("unexpected fetch")
				}
				return tt.fetch(ctx, id)
			}

			ev, err := tr.Translate(ctx, paymentFailedPayload(tt.extra))
			require.NoError(t, err)
			require.NotNil(t, ev.Invoice)
			assert.Equal(t, tt.want, ev.Invoice.FailureMessage)
			assert.Equal(t, tt.fetched, fetched)
			assert.Equal(t, 2, ev.Invoice.AttemptCount)
		})
	}
}

func TestStripeInvoicePaidSkipsDeclineLookup(t *testing.T) {
	tr := NewStripeTranslator("", testWebhookSecret)
	tr.FetchPaymentError = func(context.Context, string) (string, error) {
		t.Fatal("paid invoices need no decline reason")
		return "", nil
	}
	ev, err := tr.Translate(context.Background(), []byte(invoicePaidPayload))
	require.NoError(t, err)
	assert.Empty(t, ev.Invoice.FailureMessage)
}
