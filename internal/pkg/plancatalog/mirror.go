package plancatalog

import (
	"context"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// priceChange replaces one provider price object of a plan.
type priceChange struct {
	interval string
	amount   int64
	oldID    string
	newID    string
}

// diffPrices lists the provider prices that must be replaced to move a plan
// from before to after. Discounts are resolved against the matching global.
func diffPrices(before, after *models.Plan, oldGlobal, newGlobal float64) []priceChange {
	if after.IsFree() {
		return nil
	}
	var changes []priceChange

	if before.MonthlyPriceCents != after.MonthlyPriceCents ||
		(after.MonthlyPriceCents > 0 && before.ProviderMonthlyPriceID == "") {
		changes = append(changes, priceChange{
			interval: models.BillingIntervalMonth,
			amount:   after.MonthlyPriceCents,
			oldID:    before.ProviderMonthlyPriceID,
		})
	}

	oldAnnual := priceForInterval(before, oldGlobal, models.BillingIntervalYear)
	newAnnual := priceForInterval(after, newGlobal, models.BillingIntervalYear)
	if oldAnnual != newAnnual || (newAnnual > 0 && before.ProviderAnnualPriceID == "") {
		changes = append(changes, priceChange{
			interval: models.BillingIntervalYear,
			amount:   newAnnual,
			oldID:    before.ProviderAnnualPriceID,
		})
	}
	return changes
}

// applyPriceChanges creates the new provider prices and points plan at them.
// It returns the ID of a product it had to create, so callers can archive it
// if the plan is never committed.
func (c *Catalog) applyPriceChanges(ctx context.Context, plan *models.Plan, changes []priceChange) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}
	needsProduct := false
	for _, ch := range changes {
		if ch.amount > 0 {
			needsProduct = true
		}
	}
	var created string
	if needsProduct && plan.ProviderProductID == "" {
		productID, err := c.mirror.CreateProduct(ctx, plan.Name)
		if err != nil {
			return "", err
		}
		plan.ProviderProductID = productID
		created = productID
	}
	if err := c.createPrices(ctx, plan.ProviderProductID, changes); err != nil {
		if created != "" {
			c.archiveProduct(ctx, created)
			plan.ProviderProductID = ""
		}
		return "", err
	}
	applyPriceIDs(plan, changes)
	return created, nil
}

func (c *Catalog) createPrices(ctx context.Context, productID string, changes []priceChange) error {
	for i := range changes {
		if changes[i].amount <= 0 {
			changes[i].newID = ""
			continue
		}
		id, err := c.mirror.CreatePrice(ctx, productID, changes[i].amount, changes[i].interval)
		if err != nil {
			c.rollbackPrices(ctx, changes[:i])
			return err
		}
		changes[i].newID = id
	}
	return nil
}

// rollbackPrices deactivates prices created for a change that did not commit.
func (c *Catalog) rollbackPrices(ctx context.Context, changes []priceChange) {
	for _, ch := range changes {
		if ch.newID == "" {
			continue
		}
		if err := c.mirror.DeactivatePrice(ctx, ch.newID); err != nil {
			log.Errorf("[PlanCatalog] Failed to roll back price %s: %v", ch.newID, err)
		}
	}
}

// archiveProduct archives a provider product created for a plan that did not
// commit. An empty ID is a no-op.
func (c *Catalog) archiveProduct(ctx context.Context, productID string) {
	if productID == "" {
		return
	}
	if err := c.mirror.ArchiveProduct(ctx, productID); err != nil {
		log.Errorf("[PlanCatalog] Failed to archive product %s: %v", productID, err)
	}
}

func (c *Catalog) archiveProducts(ctx context.Context, productIDs []string) {
	for _, id := range productIDs {
		c.archiveProduct(ctx, id)
	}
}

// retirePrices deactivates the prices a committed change replaced.
func (c *Catalog) retirePrices(ctx context.Context, changes []priceChange) {
	for _, ch := range changes {
		if ch.oldID == "" || ch.oldID == ch.newID {
			continue
		}
		if err := c.mirror.DeactivatePrice(ctx, ch.oldID); err != nil {
			log.Warnf("[PlanCatalog] Failed to deactivate replaced price %s: %v", ch.oldID, err)
		}
	}
}

func applyPriceIDs(plan *models.Plan, changes []priceChange) {
	for _, ch := range changes {
		switch ch.interval {
		case models.BillingIntervalMonth:
			plan.ProviderMonthlyPriceID = ch.newID
		case models.BillingIntervalYear:
			plan.ProviderAnnualPriceID = ch.newID
		}
	}
}
