package billing

import (
	"context"

	"github.com/ManuelReschke/Taskly/internal/pkg/plancatalog"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/price"
	"github.com/stripe/stripe-go/v79/product"
)

// StripePriceMirror maintains Stripe products and recurring prices for
// local plans.
type StripePriceMirror struct {
	currency string
}

var _ plancatalog.PriceMirror = (*StripePriceMirror)(nil)

// NewStripePriceMirror creates a mirror billing in currency (default usd).
func NewStripePriceMirror(currency string) *StripePriceMirror {
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripePriceMirror{currency: currency}
}

func (m *StripePriceMirror) CreateProduct(ctx context.Context, planName string) (string, error) {
	params := &stripe.ProductParams{
		Name:     stripe.String("Taskly " + planName),
		Metadata: map[string]string{"plan": planName},
	}
	params.Context = ctx
	p, err := product.New(params)
	if err != nil {
		return "", StripeError("product.create", err)
	}
	log.Infof("[Billing] Created Stripe product %s for plan %s", p.ID, planName)
	return p.ID, nil
}

func (m *StripePriceMirror) CreatePrice(ctx context.Context, productID string, amountCents int64, interval string) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(amountCents),
		Currency:   stripe.String(m.currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(interval),
		},
	}
	params.Context = ctx
	p, err := price.New(params)
	if err != nil {
		return "", StripeError("price.create", err)
	}
	return p.ID, nil
}

func (m *StripePriceMirror) DeactivatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := price.Update(priceID, params); err != nil {
		return StripeError("price.update", err)
	}
	return nil
}

// ArchiveProduct marks a product inactive so it no longer shows up for new
// prices or checkouts. Stripe keeps the object for its history.
func (m *StripePriceMirror) ArchiveProduct(ctx context.Context, productID string) error {
	params := &stripe.ProductParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := product.Update(productID, params); err != nil {
		return StripeError("product.update", err)
	}
	log.Infof("[Billing] Archived Stripe product %s", productID)
	return nil
}
