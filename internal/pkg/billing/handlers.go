package billing

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2/log"
)

func invoiceKey(id string) string      { return "invoice:" + id }
func chargeKey(id string) string       { return "charge:" + id }
func cancellationKey(id string) string { return "cancellation:" + id }

// classifyInvoice derives the ledger transaction kind from the invoice's
// billing reason and, for mid-cycle updates, the proration sign.
func classifyInvoice(inv *InvoiceEvent) string {
	switch inv.BillingReason {
	case ReasonSubscriptionCreate:
		return models.TransactionInitial
	case ReasonSubscriptionUpdate:
		switch {
		case inv.HasProration && inv.ProrationCents > 0:
			return models.TransactionUpgrade
		case inv.HasProration && inv.ProrationCents < 0:
			return models.TransactionDowngrade
		default:
			return models.TransactionIntervalChange
		}
	default:
		return models.TransactionRenewal
	}
}

func (l *Ledger) handleCheckoutCompleted(ctx context.Context, ev *Event) ([]Notice, error) {
	co := ev.Checkout
	if co == nil || co.Subscription == nil || co.Subscription.SubscriptionID == "" {
		return nil, apperrors.Validation("subscription", "checkout carries no subscription")
	}
	snap := co.Subscription
	plan, interval, err := l.resolvePlan(ctx, snap.PriceID, snap.Interval)
	if err != nil {
		return nil, err
	}
	price, err := l.plans.PriceFor(ctx, plan, interval)
	if err != nil {
		return nil, err
	}

	customerID := co.CustomerID
	if customerID == "" {
		customerID = snap.CustomerID
	}

	var notices []Notice
	err = l.repo.WithSubscriptionLock(ctx, Lookup{CustomerID: customerID, UserID: co.UserID}, func(tx TxRepository, sub *models.Subscription) error {
		if isStale(sub, ev) {
			log.Warnf("[Billing] Skipping stale checkout %s for user %d", ev.ID, sub.UserID)
			return nil
		}
		if customerID != "" {
			sub.ProviderCustomerID = &customerID
		}
		applySnapshot(sub, snap, plan, interval)
		markApplied(sub, ev)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		log.Infof("[Billing] Subscription activated: user %d -> %s (%s)", sub.UserID, plan.Name, interval)
		notices = append(notices, Notice{
			Kind:        NoticeSubscriptionConfirmed,
			UserID:      sub.UserID,
			PlanName:    plan.Name,
			Interval:    interval,
			AmountCents: price,
			PeriodEnd:   sub.CurrentPeriodEnd,
		})
		return nil
	})
	return notices, err
}

func (l *Ledger) handleInvoicePaid(ctx context.Context, ev *Event) ([]Notice, error) {
	inv := ev.Invoice
	if inv == nil || inv.InvoiceID == "" {
		return nil, apperrors.Validation("invoice", "is required")
	}
	plan, interval, err := l.resolvePlan(ctx, inv.PriceID, inv.Interval)
	if err != nil {
		return nil, err
	}
	kind := classifyInvoice(inv)

	var notices []Notice
	err = l.repo.WithSubscriptionLock(ctx, Lookup{CustomerID: inv.CustomerID}, func(tx TxRepository, sub *models.Subscription) error {
		rec := &models.PaymentRecord{
			UserID:            sub.UserID,
			Kind:              kind,
			Status:            models.PaymentStatusSucceeded,
			PlanID:            planIDPtr(plan),
			PlanName:          plan.Name,
			BillingInterval:   interval,
			AmountCents:       inv.AmountPaidCents,
			Currency:          inv.Currency,
			IdempotencyKey:    invoiceKey(inv.InvoiceID),
			ProviderInvoiceID: inv.InvoiceID,
			HostedInvoiceURL:  inv.HostedInvoiceURL,
			Notes:             "Reason: " + inv.BillingReason,
		}
		if inv.HasProration {
			p := inv.ProrationCents
			rec.ProrationCents = &p
		}

		existing, err := tx.FindPayment(ctx, rec.IdempotencyKey)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			created, err := tx.CreatePayment(ctx, rec)
			if err != nil {
				return err
			}
			if !created {
				log.Warnf("[Billing] Payment already recorded for invoice %s", inv.InvoiceID)
				return nil
			}
		case existing.Status == models.PaymentStatusFailed:
			if err := tx.SettlePayment(ctx, existing.ID, rec); err != nil {
				return err
			}
			log.Infof("[Billing] Invoice %s settled after earlier failure", inv.InvoiceID)
		default:
			log.Warnf("[Billing] Payment already recorded for invoice %s", inv.InvoiceID)
			return nil
		}

		log.Infof("[Billing] Payment recorded: user %d %s %s", sub.UserID, kind, FormatAmount(inv.AmountPaidCents))
		if inv.AmountPaidCents > 0 {
			notices = append(notices, Notice{
				Kind:        NoticeReceipt,
				UserID:      sub.UserID,
				PlanName:    plan.Name,
				Interval:    interval,
				AmountCents: inv.AmountPaidCents,
				Currency:    inv.Currency,
				InvoiceURL:  inv.HostedInvoiceURL,
			})
		}
		return nil
	})
	return notices, err
}

func (l *Ledger) handleSubscriptionUpdated(ctx context.Context, ev *Event) ([]Notice, error) {
	snap := ev.Subscription
	if snap == nil || snap.SubscriptionID == "" {
		return nil, apperrors.Validation("subscription", "is required")
	}
	plan, interval, err := l.resolvePlan(ctx, snap.PriceID, snap.Interval)
	if err != nil {
		return nil, err
	}
	newPrice, err := l.plans.PriceFor(ctx, plan, interval)
	if err != nil {
		return nil, err
	}

	var notices []Notice
	err = l.repo.WithSubscriptionLock(ctx, Lookup{SubscriptionID: snap.SubscriptionID}, func(tx TxRepository, sub *models.Subscription) error {
		if isStale(sub, ev) {
			log.Warnf("[Billing] Skipping stale update %s for subscription %s", ev.ID, snap.SubscriptionID)
			return nil
		}
		old := *sub
		var oldPrice int64
		if old.Plan != nil {
			p, err := l.plans.PriceFor(ctx, old.Plan, old.BillingInterval)
			if err != nil {
				return err
			}
			oldPrice = p
		}

		applySnapshot(sub, snap, plan, interval)
		markApplied(sub, ev)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		base := Notice{UserID: sub.UserID, PlanName: plan.Name, Interval: interval, AmountCents: newPrice, PeriodEnd: sub.CurrentPeriodEnd}
		notices = detectTransitions(&old, sub, oldPrice, newPrice, base)
		return nil
	})
	if apperrors.IsNotFound(err) && l.alreadyCanceled(ctx, snap.SubscriptionID) {
		log.Warnf("[Billing] Ignoring update %s for ended subscription %s", ev.ID, snap.SubscriptionID)
		return nil, nil
	}
	return notices, err
}

// detectTransitions derives side effects from the difference between the
// stored and the newly applied subscription. It never influences the write.
func detectTransitions(old, cur *models.Subscription, oldPrice, newPrice int64, base Notice) []Notice {
	var notices []Notice
	with := func(kind NoticeKind) Notice {
		n := base
		n.Kind = kind
		return n
	}

	if old.PlanID != cur.PlanID || old.BillingInterval != cur.BillingInterval {
		n := with(NoticeIntervalChange)
		n.OldPlanName = planName(old.Plan)
		switch {
		case newPrice > oldPrice:
			n.Kind = NoticeUpgrade
			log.Infof("[Billing] Upgrade for user %d: %s -> %s", cur.UserID, n.OldPlanName, n.PlanName)
		case newPrice < oldPrice:
			n.Kind = NoticeDowngrade
			log.Infof("[Billing] Downgrade for user %d: %s -> %s", cur.UserID, n.OldPlanName, n.PlanName)
		default:
			log.Infof("[Billing] Interval change for user %d: %s -> %s", cur.UserID, old.BillingInterval, cur.BillingInterval)
		}
		notices = append(notices, n)
	}

	if !old.CancelAtPeriodEnd && cur.CancelAtPeriodEnd {
		log.Infof("[Billing] Cancellation scheduled for user %d at %v", cur.UserID, cur.CurrentPeriodEnd)
		notices = append(notices, with(NoticeCancellationScheduled))
	}
	if old.CancelAtPeriodEnd && !cur.CancelAtPeriodEnd {
		log.Infof("[Billing] Subscription reactivated for user %d", cur.UserID)
		notices = append(notices, with(NoticeReactivated))
	}

	if old.Status != cur.Status {
		switch {
		case cur.Status == models.SubscriptionStatusPastDue:
			log.Warnf("[Billing] Subscription of user %d is past due", cur.UserID)
		case cur.Status == models.SubscriptionStatusActive &&
			(old.Status == models.SubscriptionStatusPastDue || old.Status == models.SubscriptionStatusIncomplete):
			log.Infof("[Billing] Subscription of user %d recovered to active", cur.UserID)
			notices = append(notices, with(NoticePaymentRecovered))
		default:
			log.Infof("[Billing] Status of user %d changed: %s -> %s", cur.UserID, old.Status, cur.Status)
		}
	}
	return notices
}

func (l *Ledger) handleSubscriptionDeleted(ctx context.Context, ev *Event) ([]Notice, error) {
	snap := ev.Subscription
	if snap == nil || snap.SubscriptionID == "" {
		return nil, apperrors.Validation("subscription", "is required")
	}
	free, err := l.plans.FreePlan(ctx)
	if err != nil {
		return nil, err
	}

	var notices []Notice
	err = l.repo.WithSubscriptionLock(ctx, Lookup{SubscriptionID: snap.SubscriptionID}, func(tx TxRepository, sub *models.Subscription) error {
		ended := sub.Plan
		rec := &models.PaymentRecord{
			UserID:          sub.UserID,
			Kind:            models.TransactionCancellation,
			Status:          models.PaymentStatusSucceeded,
			PlanID:          planIDPtr(ended),
			PlanName:        planName(ended),
			BillingInterval: sub.BillingInterval,
			AmountCents:     0,
			IdempotencyKey:  cancellationKey(snap.SubscriptionID),
			Notes:           "Subscription cancelled - downgraded to free plan",
		}
		if _, err := tx.CreatePayment(ctx, rec); err != nil {
			return err
		}

		sub.PlanID = free.ID
		sub.Plan = free
		sub.Status = models.SubscriptionStatusCanceled
		sub.BillingInterval = models.BillingIntervalMonth
		sub.ProviderSubscriptionID = nil
		sub.CancelAtPeriodEnd = false
		sub.CurrentPeriodStart = nil
		sub.CurrentPeriodEnd = nil
		markApplied(sub, ev)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		log.Infof("[Billing] Subscription %s ended: user %d downgraded from %s to free", snap.SubscriptionID, sub.UserID, planName(ended))
		notices = append(notices, Notice{Kind: NoticeCanceled, UserID: sub.UserID, PlanName: planName(ended)})
		return nil
	})
	if apperrors.IsNotFound(err) && l.alreadyCanceled(ctx, snap.SubscriptionID) {
		log.Warnf("[Billing] Subscription %s already ended", snap.SubscriptionID)
		return nil, nil
	}
	return notices, err
}

// alreadyCanceled reports whether the terminal cancellation of the provider
// subscription has been recorded.
func (l *Ledger) alreadyCanceled(ctx context.Context, subscriptionID string) bool {
	rec, err := l.repo.FindPayment(ctx, cancellationKey(subscriptionID))
	return err == nil && rec != nil
}

func (l *Ledger) handlePaymentFailed(ctx context.Context, ev *Event) ([]Notice, error) {
	inv := ev.Invoice
	if inv == nil || inv.InvoiceID == "" {
		return nil, apperrors.Validation("invoice", "is required")
	}
	var (
		plan     *models.Plan
		interval = inv.Interval
	)
	if inv.PriceID != "" {
		p, matched, err := l.resolvePlan(ctx, inv.PriceID, inv.Interval)
		if err != nil && !apperrors.IsValidation(err) {
			return nil, err
		}
		if err == nil {
			plan, interval = p, matched
		}
	}

	attempt := inv.AttemptCount
	if attempt < 1 {
		attempt = 1
	}
	reason := inv.FailureMessage
	if reason == "" {
		reason = "Card declined"
	}

	var notices []Notice
	err := l.repo.WithSubscriptionLock(ctx, Lookup{CustomerID: inv.CustomerID}, func(tx TxRepository, sub *models.Subscription) error {
		if plan == nil {
			plan = sub.Plan
		}
		if interval == "" {
			interval = sub.BillingInterval
		}

		if isStale(sub, ev) {
			log.Warnf("[Billing] Not downgrading status of user %d from stale failure %s", sub.UserID, ev.ID)
		} else {
			if sub.Status != models.SubscriptionStatusPastDue {
				log.Warnf("[Billing] Payment failed for user %d: %s -> past_due (attempt %d)", sub.UserID, sub.Status, attempt)
				sub.Status = models.SubscriptionStatusPastDue
			}
			// Older snapshots delivered later must not lift the past_due status.
			markApplied(sub, ev)
			if err := tx.SaveSubscription(ctx, sub); err != nil {
				return err
			}
		}

		created, err := tx.CreatePayment(ctx, &models.PaymentRecord{
			UserID:            sub.UserID,
			Kind:              models.TransactionRenewal,
			Status:            models.PaymentStatusFailed,
			PlanID:            planIDPtr(plan),
			PlanName:          planName(plan),
			BillingInterval:   interval,
			AmountCents:       inv.AmountDueCents,
			Currency:          inv.Currency,
			IdempotencyKey:    invoiceKey(inv.InvoiceID),
			ProviderInvoiceID: inv.InvoiceID,
			HostedInvoiceURL:  inv.HostedInvoiceURL,
			Notes:             fmt.Sprintf("Payment failed (attempt %d): %s", attempt, reason),
		})
		if err != nil {
			return err
		}
		if !created {
			log.Warnf("[Billing] Failure for invoice %s already recorded", inv.InvoiceID)
			return nil
		}
		notices = append(notices, Notice{
			Kind:         NoticePaymentFailed,
			UserID:       sub.UserID,
			PlanName:     planName(plan),
			Interval:     interval,
			AmountCents:  inv.AmountDueCents,
			Currency:     inv.Currency,
			InvoiceURL:   inv.HostedInvoiceURL,
			AttemptCount: attempt,
			Reason:       reason,
		})
		return nil
	})
	return notices, err
}

func (l *Ledger) handleRefund(ctx context.Context, ev *Event) ([]Notice, error) {
	ch := ev.Charge
	if ch == nil || ch.ChargeID == "" {
		return nil, apperrors.Validation("charge", "is required")
	}
	if ch.CustomerID == "" {
		log.Warnf("[Billing] Refund %s received without customer", ch.ChargeID)
		return nil, nil
	}
	reason := ch.Reason
	if reason == "" {
		reason = "N/A"
	}

	var notices []Notice
	err := l.repo.WithSubscriptionLock(ctx, Lookup{CustomerID: ch.CustomerID}, func(tx TxRepository, sub *models.Subscription) error {
		amount := -ch.AmountRefundedCents
		created, err := tx.CreatePayment(ctx, &models.PaymentRecord{
			UserID:           sub.UserID,
			Kind:             models.TransactionRefund,
			Status:           models.PaymentStatusRefunded,
			PlanID:           planIDPtr(sub.Plan),
			PlanName:         planName(sub.Plan),
			BillingInterval:  sub.BillingInterval,
			AmountCents:      amount,
			Currency:         ch.Currency,
			IdempotencyKey:   chargeKey(ch.ChargeID),
			ProviderChargeID: ch.ChargeID,
			Notes:            fmt.Sprintf("Refund: $%s - Reason: %s", FormatAmount(ch.AmountRefundedCents), reason),
		})
		if err != nil {
			return err
		}
		if !created {
			log.Warnf("[Billing] Refund already recorded for charge %s", ch.ChargeID)
			return nil
		}
		log.Infof("[Billing] Refund recorded: user %d %s", sub.UserID, FormatAmount(amount))
		notices = append(notices, Notice{
			Kind:        NoticeRefund,
			UserID:      sub.UserID,
			PlanName:    planName(sub.Plan),
			AmountCents: ch.AmountRefundedCents,
			Currency:    ch.Currency,
			Reason:      reason,
		})
		return nil
	})
	return notices, err
}
