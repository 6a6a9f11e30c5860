// Package plancatalog owns subscription plan definitions, annual pricing and
// the billing provider's mirror of plan prices.
package plancatalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// PriceMirror keeps the billing provider's product and price objects in step
// with local plans. Implementations return *apperrors.BillingProviderError.
type PriceMirror interface {
	CreateProduct(ctx context.Context, planName string) (string, error)
	CreatePrice(ctx context.Context, productID string, amountCents int64, interval string) (string, error)
	DeactivatePrice(ctx context.Context, priceID string) error
	ArchiveProduct(ctx context.Context, productID string) error
}

// PlanInput describes a new plan.
type PlanInput struct {
	Name                  string            `json:"name" validate:"required,oneof=free basic premium"`
	MonthlyPriceCents     int64             `json:"monthly_price_cents" validate:"min=0"`
	AnnualDiscountPercent *float64          `json:"annual_discount_percent" validate:"omitempty,min=0,max=100"`
	Quotas                models.QuotaRules `json:"quotas" validate:"dive,keys,oneof=event task note edit,endkeys"`
}

// PlanUpdate carries the fields to change. Nil fields are left as they are.
type PlanUpdate struct {
	MonthlyPriceCents     *int64            `json:"monthly_price_cents" validate:"omitempty,min=0"`
	AnnualDiscountPercent *float64          `json:"annual_discount_percent" validate:"omitempty,min=0,max=100"`
	ClearAnnualDiscount   bool              `json:"clear_annual_discount"`
	Quotas                models.QuotaRules `json:"quotas" validate:"omitempty,dive,keys,oneof=event task note edit,endkeys"`
	IsActive              *bool             `json:"is_active"`
}

// Catalog resolves plans and keeps their provider prices in sync.
type Catalog struct {
	repo     Repository
	mirror   PriceMirror
	validate *validator.Validate
}

// NewCatalog creates a catalog from an injected repository and price mirror.
func NewCatalog(repo Repository, mirror PriceMirror) *Catalog {
	return &Catalog{repo: repo, mirror: mirror, validate: validator.New()}
}

// NewCatalogFromDB creates a catalog from a GORM DB handle.
func NewCatalogFromDB(db *gorm.DB, mirror PriceMirror) *Catalog {
	return NewCatalog(NewRepository(db), mirror)
}

// ResolvePlan returns the plan with the given id.
func (c *Catalog) ResolvePlan(ctx context.Context, id uint) (*models.Plan, error) {
	return c.repo.GetPlan(ctx, id)
}

// PlanByName returns the plan with the given name.
func (c *Catalog) PlanByName(ctx context.Context, name string) (*models.Plan, error) {
	return c.repo.GetPlanByName(ctx, strings.ToLower(strings.TrimSpace(name)))
}

// FreePlan returns the mandatory free plan.
func (c *Catalog) FreePlan(ctx context.Context) (*models.Plan, error) {
	return c.repo.GetPlanByName(ctx, models.PlanFree)
}

// ListPlans returns plans ordered by monthly price.
func (c *Catalog) ListPlans(ctx context.Context, includeInactive bool) ([]models.Plan, error) {
	return c.repo.ListPlans(ctx, includeInactive)
}

// ResolveByPriceID maps a provider price id to a plan and the interval that
// price bills. The price field matching interval is tried first, then the
// other one, in which case the returned interval is corrected.
func (c *Catalog) ResolveByPriceID(ctx context.Context, priceID, interval string) (*models.Plan, string, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, "", apperrors.Validation("price_id", "is required")
	}

	monthly := func() (*models.Plan, string, error) {
		p, err := c.repo.FindPlanByMonthlyPriceID(ctx, priceID)
		return p, models.BillingIntervalMonth, err
	}
	annual := func() (*models.Plan, string, error) {
		p, err := c.repo.FindPlanByAnnualPriceID(ctx, priceID)
		return p, models.BillingIntervalYear, err
	}
	order := []func() (*models.Plan, string, error){monthly, annual}
	if interval == models.BillingIntervalYear {
		order = []func() (*models.Plan, string, error){annual, monthly}
	}

	for _, lookup := range order {
		p, matched, err := lookup()
		if err == nil {
			return p, matched, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, "", err
		}
	}
	return nil, "", apperrors.NotFoundf("plan for price %s", priceID)
}

// GlobalDiscount returns the default annual discount applied to plans
// without an override.
func (c *Catalog) GlobalDiscount(ctx context.Context) (float64, error) {
	v, found, err := c.repo.GetGlobalDiscount(ctx)
	if err != nil {
		return 0, err
	}
	if !found {
		return models.DefaultAnnualDiscountPercent, nil
	}
	return v, nil
}

// EffectiveAnnualDiscount returns the plan override when set, otherwise the
// global default. The free plan always returns 0.
func (c *Catalog) EffectiveAnnualDiscount(ctx context.Context, plan *models.Plan) (float64, error) {
	if plan.IsFree() {
		return 0, nil
	}
	global, err := c.GlobalDiscount(ctx)
	if err != nil {
		return 0, err
	}
	return effectiveDiscount(plan, global), nil
}

// AnnualPrice returns the discounted yearly price in cents.
func (c *Catalog) AnnualPrice(ctx context.Context, plan *models.Plan) (int64, error) {
	d, err := c.EffectiveAnnualDiscount(ctx, plan)
	if err != nil {
		return 0, err
	}
	return AnnualPriceCents(plan.MonthlyPriceCents, d), nil
}

// PriceFor returns the amount billed per interval for plan.
func (c *Catalog) PriceFor(ctx context.Context, plan *models.Plan, interval string) (int64, error) {
	global, err := c.GlobalDiscount(ctx)
	if err != nil {
		return 0, err
	}
	return priceForInterval(plan, global, interval), nil
}

func (c *Catalog) validatePlan(p *models.Plan) error {
	if p.MonthlyPriceCents < 0 {
		return apperrors.Validation("monthly_price_cents", "must not be negative")
	}
	if p.IsFree() {
		if p.MonthlyPriceCents != 0 {
			return apperrors.Validation("monthly_price_cents", "free plan must cost 0")
		}
		if p.AnnualDiscountPercent != nil {
			return apperrors.Validation("annual_discount_percent", "free plan cannot carry a discount")
		}
	}
	for action, rule := range p.Quotas {
		if !models.IsValidAction(action) {
			return apperrors.Validation("quotas", "unknown action %q", action)
		}
		if !models.IsValidPeriod(rule.EffectivePeriod()) {
			return apperrors.Validation("quotas."+action, "unknown period %q", rule.Period)
		}
		if rule.Limit != nil && *rule.Limit < 0 {
			return apperrors.Validation("quotas."+action, "limit must not be negative")
		}
	}
	return nil
}

func (c *Catalog) structError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.Validation(strings.ToLower(fe.Field()), "failed %s", fe.Tag())
	}
	return apperrors.Validation("", "%v", err)
}

// CreatePlan stores a new plan. Paid plans get a provider product plus
// monthly and annual prices before the row is written.
func (c *Catalog) CreatePlan(ctx context.Context, in PlanInput) (*models.Plan, error) {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	if err := c.validate.Struct(in); err != nil {
		return nil, c.structError(err)
	}
	plan := &models.Plan{
		Name:                  in.Name,
		MonthlyPriceCents:     in.MonthlyPriceCents,
		AnnualDiscountPercent: in.AnnualDiscountPercent,
		Quotas:                in.Quotas,
		IsActive:              true,
	}
	if err := c.validatePlan(plan); err != nil {
		return nil, err
	}

	global, err := c.GlobalDiscount(ctx)
	if err != nil {
		return nil, err
	}
	var changes []priceChange
	if plan.MonthlyPriceCents > 0 {
		productID, err := c.mirror.CreateProduct(ctx, plan.Name)
		if err != nil {
			return nil, err
		}
		plan.ProviderProductID = productID
		changes = []priceChange{
			{interval: models.BillingIntervalMonth, amount: plan.MonthlyPriceCents},
			{interval: models.BillingIntervalYear, amount: priceForInterval(plan, global, models.BillingIntervalYear)},
		}
		if err := c.createPrices(ctx, productID, changes); err != nil {
			c.archiveProduct(ctx, productID)
			return nil, err
		}
		applyPriceIDs(plan, changes)
	}

	if err := c.repo.CreatePlan(ctx, plan); err != nil {
		c.rollbackPrices(ctx, changes)
		c.archiveProduct(ctx, plan.ProviderProductID)
		return nil, err
	}
	log.Infof("[PlanCatalog] Created plan %s (%d cents/month)", plan.Name, plan.MonthlyPriceCents)
	return plan, nil
}

// UpdatePlan applies in to the plan. When a price changes, new provider
// prices are created first; the local row is only written once they exist,
// and they are deactivated again if the write fails. Old prices are retired
// after the row is committed.
func (c *Catalog) UpdatePlan(ctx context.Context, id uint, in PlanUpdate) (*models.Plan, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, c.structError(err)
	}
	plan, err := c.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	global, err := c.GlobalDiscount(ctx)
	if err != nil {
		return nil, err
	}

	before := *plan
	if in.MonthlyPriceCents != nil {
		plan.MonthlyPriceCents = *in.MonthlyPriceCents
	}
	if in.ClearAnnualDiscount {
		plan.AnnualDiscountPercent = nil
	} else if in.AnnualDiscountPercent != nil {
		v := *in.AnnualDiscountPercent
		plan.AnnualDiscountPercent = &v
	}
	if in.Quotas != nil {
		plan.Quotas = in.Quotas
	}
	if in.IsActive != nil {
		plan.IsActive = *in.IsActive
	}
	if err := c.validatePlan(plan); err != nil {
		return nil, err
	}

	changes := diffPrices(&before, plan, global, global)
	newProduct, err := c.applyPriceChanges(ctx, plan, changes)
	if err != nil {
		return nil, err
	}
	if err := c.repo.SavePlan(ctx, plan); err != nil {
		c.rollbackPrices(ctx, changes)
		c.archiveProduct(ctx, newProduct)
		return nil, err
	}
	c.retirePrices(ctx, changes)
	if len(changes) > 0 {
		log.Infof("[PlanCatalog] Re-priced plan %s (%d price objects replaced)", plan.Name, len(changes))
	}
	return plan, nil
}

// SetGlobalDiscount changes the default annual discount and re-prices every
// paid plan that has no override of its own.
func (c *Catalog) SetGlobalDiscount(ctx context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return apperrors.Validation("annual_discount_percent", "must be between 0 and 100")
	}
	oldGlobal, err := c.GlobalDiscount(ctx)
	if err != nil {
		return err
	}
	plans, err := c.repo.ListPlans(ctx, true)
	if err != nil {
		return err
	}

	type pending struct {
		plan    models.Plan
		changes []priceChange
	}
	var work []pending
	var created []priceChange
	var products []string
	for i := range plans {
		p := plans[i]
		if p.AnnualDiscountPercent != nil || p.MonthlyPriceCents == 0 {
			continue
		}
		updated := p
		changes := diffPrices(&p, &updated, oldGlobal, percent)
		if len(changes) == 0 {
			continue
		}
		newProduct, err := c.applyPriceChanges(ctx, &updated, changes)
		if err != nil {
			c.rollbackPrices(ctx, created)
			c.archiveProducts(ctx, products)
			return err
		}
		created = append(created, changes...)
		if newProduct != "" {
			products = append(products, newProduct)
		}
		work = append(work, pending{plan: updated, changes: changes})
	}

	err = c.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.SetGlobalDiscount(ctx, percent); err != nil {
			return err
		}
		for i := range work {
			if err := tx.SavePlan(ctx, &work[i].plan); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.rollbackPrices(ctx, created)
		c.archiveProducts(ctx, products)
		return err
	}
	c.retirePrices(ctx, created)
	log.Infof("[PlanCatalog] Global annual discount %.2f%% -> %.2f%% (%d plans re-priced)", oldGlobal, percent, len(work))
	return nil
}

// DeletePlan removes a plan nobody is subscribed to. The free plan cannot be deleted.
func (c *Catalog) DeletePlan(ctx context.Context, id uint) error {
	plan, err := c.repo.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if plan.IsFree() {
		return apperrors.Validation("plan", "the free plan cannot be deleted")
	}
	n, err := c.repo.CountSubscriptions(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return &apperrors.ConflictError{Resource: "subscriptions on plan", Key: plan.Name}
	}
	if err := c.repo.DeletePlan(ctx, id); err != nil {
		return fmt.Errorf("delete plan %s: %w", plan.Name, err)
	}
	for _, priceID := range []string{plan.ProviderMonthlyPriceID, plan.ProviderAnnualPriceID} {
		if priceID == "" {
			continue
		}
		if err := c.mirror.DeactivatePrice(ctx, priceID); err != nil {
			log.Warnf("[PlanCatalog] Could not deactivate price %s of deleted plan %s: %v", priceID, plan.Name, err)
		}
	}
	return nil
}
