package billing

import (
	"context"
	"strconv"
	"strings"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
)

// StripeCheckout opens Stripe checkout and portal sessions for users and
// attaches the Stripe customer to their subscription first.
type StripeCheckout struct {
	ledger      *Ledger
	frontendURL string
}

// NewStripeCheckout creates a checkout helper redirecting back to frontendURL.
func NewStripeCheckout(ledger *Ledger, frontendURL string) *StripeCheckout {
	return &StripeCheckout{ledger: ledger, frontendURL: strings.TrimRight(frontendURL, "/")}
}

// EnsureCustomer returns the user's Stripe customer id, creating the
// customer on first use.
func (s *StripeCheckout) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	sub, err := s.ledger.GetSubscription(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID != nil && *sub.ProviderCustomerID != "" {
		return *sub.ProviderCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Name:     stripe.String(user.Name),
		Metadata: map[string]string{"user_id": strconv.FormatUint(uint64(user.ID), 10)},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", StripeError("customer.create", err)
	}
	if err := s.ledger.AttachCustomer(ctx, user.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CheckoutURL opens a subscription checkout for plan billed per interval.
func (s *StripeCheckout) CheckoutURL(ctx context.Context, user *models.User, plan *models.Plan, interval string) (string, error) {
	priceID := plan.ProviderMonthlyPriceID
	if interval == models.BillingIntervalYear {
		priceID = plan.ProviderAnnualPriceID
	}
	if plan.IsFree() || priceID == "" {
		return "", apperrors.Validation("plan", "%s cannot be purchased per %s", plan.Name, interval)
	}
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(user.ID), 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.frontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.frontendURL + "/billing/cancel"),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", StripeError("checkout.session.create", err)
	}
	return sess.URL, nil
}

// PortalURL opens the Stripe customer portal for a user who already has a
// Stripe customer.
func (s *StripeCheckout) PortalURL(ctx context.Context, userID uint) (string, error) {
	sub, err := s.ledger.GetSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID == nil || *sub.ProviderCustomerID == "" {
		return "", apperrors.Validation("customer", "no billing customer for user %d", userID)
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*sub.ProviderCustomerID),
		ReturnURL: stripe.String(s.frontendURL + "/settings/billing"),
	}
	params.Context = ctx
	sess, err := portal.New(params)
	if err != nil {
		return "", StripeError("billing_portal.session.create", err)
	}
	return sess.URL, nil
}
