package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/plancatalog"
	"github.com/gofiber/fiber/v2/log"
	"github.com/juju/clock"
	"gorm.io/gorm"
)

// PlanSource is the part of the plan catalog the ledger depends on.
type PlanSource interface {
	ResolveByPriceID(ctx context.Context, priceID, interval string) (*models.Plan, string, error)
	FreePlan(ctx context.Context) (*models.Plan, error)
	PriceFor(ctx context.Context, plan *models.Plan, interval string) (int64, error)
}

type handlerFunc func(ctx context.Context, ev *Event) ([]Notice, error)

// Ledger owns each user's Subscription and the PaymentRecord ledger and
// applies provider events to them.
type Ledger struct {
	repo     Repository
	plans    PlanSource
	notifier Notifier
	clock    clock.Clock
	handlers map[string]handlerFunc
}

// NewLedger creates a ledger. A nil notifier only logs notices and a nil
// clock uses wall time.
func NewLedger(repo Repository, plans PlanSource, notifier Notifier, clk clock.Clock) *Ledger {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	l := &Ledger{repo: repo, plans: plans, notifier: notifier, clock: clk}
	l.handlers = map[string]handlerFunc{
		EventCheckoutCompleted:   l.handleCheckoutCompleted,
		EventInvoicePaid:         l.handleInvoicePaid,
		EventSubscriptionUpdated: l.handleSubscriptionUpdated,
		EventSubscriptionDeleted: l.handleSubscriptionDeleted,
		EventPaymentFailed:       l.handlePaymentFailed,
		EventChargeRefunded:      l.handleRefund,
	}
	return l
}

// NewLedgerFromDB wires a ledger to GORM using the given catalog.
func NewLedgerFromDB(db *gorm.DB, catalog *plancatalog.Catalog, notifier Notifier) *Ledger {
	return NewLedger(NewRepository(db), catalog, notifier, nil)
}

// Handles reports whether the ledger has a transition rule for eventType.
func (l *Ledger) Handles(eventType string) bool {
	_, ok := l.handlers[eventType]
	return ok
}

// HandleEvent applies one provider event. Unknown event types are ignored.
// Notices are emitted only after the state change has been committed.
func (l *Ledger) HandleEvent(ctx context.Context, ev *Event) error {
	if ev == nil {
		return apperrors.Validation("event", "is required")
	}
	h, ok := l.handlers[ev.Type]
	if !ok {
		log.Infof("[Billing] Ignoring unhandled event type %s (%s)", ev.Type, ev.ID)
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.clock.Now().UTC()
	}

	notices, err := h(ctx, ev)
	if err != nil {
		return fmt.Errorf("%s %s: %w", ev.Type, ev.ID, err)
	}
	for _, n := range notices {
		if err := l.notifier.Notify(ctx, n); err != nil {
			log.Errorf("[Billing] Failed to emit %s notice for user %d: %v", n.Kind, n.UserID, err)
		}
	}
	return nil
}

// PlanForUser returns the plan whose quotas apply to the user. Users without
// a subscription, or whose subscription is canceled or never completed, get
// the free plan.
func (l *Ledger) PlanForUser(ctx context.Context, userID uint) (*models.Plan, error) {
	sub, err := l.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return l.plans.FreePlan(ctx)
		}
		return nil, err
	}
	switch sub.Status {
	case models.SubscriptionStatusCanceled, models.SubscriptionStatusIncomplete:
		return l.plans.FreePlan(ctx)
	}
	if sub.Plan == nil {
		return l.plans.FreePlan(ctx)
	}
	return sub.Plan, nil
}

// GetSubscription returns the user's subscription with its plan loaded.
func (l *Ledger) GetSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	return l.repo.GetSubscriptionByUser(ctx, userID)
}

// CurrentPrice returns what the user's subscription costs per billing
// interval: the annual price for yearly billing, the monthly price otherwise.
func (l *Ledger) CurrentPrice(ctx context.Context, userID uint) (int64, error) {
	sub, err := l.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return l.plans.PriceFor(ctx, sub.Plan, sub.BillingInterval)
}

// AttachCustomer records the provider customer id on the user's subscription
// before a checkout is opened.
func (l *Ledger) AttachCustomer(ctx context.Context, userID uint, customerID string) error {
	if customerID == "" {
		return apperrors.Validation("customer_id", "is required")
	}
	return l.repo.WithSubscriptionLock(ctx, Lookup{UserID: userID}, func(tx TxRepository, sub *models.Subscription) error {
		if sub.ProviderCustomerID != nil && *sub.ProviderCustomerID == customerID {
			return nil
		}
		sub.ProviderCustomerID = &customerID
		return tx.SaveSubscription(ctx, sub)
	})
}

// PaymentHistory lists the user's ledger entries, newest first.
func (l *Ledger) PaymentHistory(ctx context.Context, userID uint) ([]models.PaymentRecord, error) {
	return l.repo.ListPayments(ctx, userID)
}

// resolvePlan maps a provider price to a local plan. An unknown price is a
// permanent failure for the event.
func (l *Ledger) resolvePlan(ctx context.Context, priceID, interval string) (*models.Plan, string, error) {
	if priceID == "" {
		return nil, "", apperrors.Validation("price_id", "is missing from the event")
	}
	plan, matched, err := l.plans.ResolveByPriceID(ctx, priceID, interval)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, "", apperrors.Validation("price_id", "no local plan for price %s", priceID)
		}
		return nil, "", err
	}
	return plan, matched, nil
}

// isStale reports whether ev is older than the last snapshot applied to sub.
func isStale(sub *models.Subscription, ev *Event) bool {
	return sub.LastEventAt != nil && ev.CreatedAt.Before(*sub.LastEventAt)
}

func markApplied(sub *models.Subscription, ev *Event) {
	t := ev.CreatedAt.UTC()
	if sub.LastEventAt == nil || t.After(*sub.LastEventAt) {
		sub.LastEventAt = &t
	}
}

// applySnapshot overwrites the subscription with the provider's view.
func applySnapshot(sub *models.Subscription, snap *SubscriptionSnapshot, plan *models.Plan, interval string) {
	sub.PlanID = plan.ID
	sub.Plan = plan
	sub.BillingInterval = interval
	if snap.SubscriptionID != "" {
		id := snap.SubscriptionID
		sub.ProviderSubscriptionID = &id
	}
	if snap.Status != "" {
		sub.Status = snap.Status
	}
	if snap.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = utcPtr(*snap.CurrentPeriodStart)
	}
	if snap.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = utcPtr(*snap.CurrentPeriodEnd)
	}
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func planName(p *models.Plan) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func planIDPtr(p *models.Plan) *uint {
	if p == nil {
		return nil
	}
	id := p.ID
	return &id
}

// FormatAmount renders cents as a decimal amount, e.g. -1999 as "-19.99".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
