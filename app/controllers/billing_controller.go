package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
)

// WebhookVerifier authenticates a provider envelope.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (billing.WebhookEventInput, error)
}

// BillingLedger is the part of the subscription ledger the HTTP layer uses.
type BillingLedger interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	GetSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
	PaymentHistory(ctx context.Context, userID uint) ([]models.PaymentRecord, error)
}

// CheckoutProvider opens hosted checkout and portal sessions.
type CheckoutProvider interface {
	CheckoutURL(ctx context.Context, user *models.User, plan *models.Plan, interval string) (string, error)
	PortalURL(ctx context.Context, userID uint) (string, error)
}

// PlanLookup finds plans by name.
type PlanLookup interface {
	PlanByName(ctx context.Context, name string) (*models.Plan, error)
}

// UserLookup loads users.
type UserLookup interface {
	GetByID(id uint) (*models.User, error)
}

// BillingController serves the webhook sink and the per-user billing API.
type BillingController struct {
	ledger   BillingLedger
	verifier WebhookVerifier
	queue    jobqueue.Enqueuer
	checkout CheckoutProvider
	plans    PlanLookup
	users    UserLookup
}

// NewBillingController creates a billing controller
func NewBillingController(ledger BillingLedger, verifier WebhookVerifier, queue jobqueue.Enqueuer, checkout CheckoutProvider, plans PlanLookup, users UserLookup) *BillingController {
	return &BillingController{
		ledger:   ledger,
		verifier: verifier,
		queue:    queue,
		checkout: checkout,
		plans:    plans,
		users:    users,
	}
}

// HandleWebhook verifies and stores the envelope, then hands processing to
// the job queue. Duplicates are acknowledged without being queued again
// unless their earlier processing failed.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	ctx := c.UserContext()

	in, err := bc.verifier.Verify(rawBody, signature)
	if err != nil {
		log.Warnf("[Billing] Rejected webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	created, stored, err := bc.ledger.RecordWebhookEvent(ctx, in)
	if err != nil {
		log.Errorf("[Billing] Failed to persist webhook %s: %v", in.ProviderEventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// A redelivery of an envelope whose processing failed is queued again.
	if !created && (stored.ProcessedAt != nil || stored.ProcessingError == "") {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if _, err := jobqueue.EnqueueBillingEvent(ctx, bc.queue, stored.ID); err != nil {
		_ = bc.ledger.MarkWebhookProcessed(ctx, stored.ID, errors.New("enqueue failed: "+err.Error()))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// CheckoutRequest is the body of POST /api/v1/users/:id/billing/checkout
type CheckoutRequest struct {
	Plan     string `json:"plan" validate:"required,oneof=basic premium"`
	Interval string `json:"interval" validate:"required,oneof=month year"`
}

// HandleCheckout returns a hosted checkout URL.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req CheckoutRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	user, err := bc.users.GetByID(userID)
	if err != nil {
		return respondError(c, err)
	}
	plan, err := bc.plans.PlanByName(c.UserContext(), req.Plan)
	if err != nil {
		return respondError(c, err)
	}
	url, err := bc.checkout.CheckoutURL(c.UserContext(), user, plan, req.Interval)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandlePortal returns a customer portal URL.
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	url, err := bc.checkout.PortalURL(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleSubscription returns the user's subscription with its plan.
func (bc *BillingController) HandleSubscription(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	sub, err := bc.ledger.GetSubscription(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription": sub,
		"is_active":    sub.IsActive(),
		"is_paid":      sub.IsPaid(),
	})
}

// HandlePayments lists the user's payment records, newest first.
func (bc *BillingController) HandlePayments(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	records, err := bc.ledger.PaymentHistory(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	if records == nil {
		records = []models.PaymentRecord{}
	}
	return c.JSON(fiber.Map{"payments": records})
}
