package controllers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Taskly/internal/pkg/plancatalog"
)

// PlanAdmin manages the plan catalog.
type PlanAdmin interface {
	ListPlans(ctx context.Context, includeInactive bool) ([]models.Plan, error)
	ResolvePlan(ctx context.Context, id uint) (*models.Plan, error)
	CreatePlan(ctx context.Context, in plancatalog.PlanInput) (*models.Plan, error)
	UpdatePlan(ctx context.Context, id uint, in plancatalog.PlanUpdate) (*models.Plan, error)
	DeletePlan(ctx context.Context, id uint) error
	GlobalDiscount(ctx context.Context) (float64, error)
	SetGlobalDiscount(ctx context.Context, percent float64) error
	AnnualPrice(ctx context.Context, plan *models.Plan) (int64, error)
}

// QueueStats reports job queue sizes.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
	GetDelayedSize(ctx context.Context) (int64, error)
}

// DeliveryStats reports notification delivery counters.
type DeliveryStats interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// AdminController serves /admin
type AdminController struct {
	plans      PlanAdmin
	queue      QueueStats
	deliveries DeliveryStats
}

// NewAdminController creates an admin controller. deliveries may be nil.
func NewAdminController(plans PlanAdmin, queue QueueStats, deliveries DeliveryStats) *AdminController {
	return &AdminController{plans: plans, queue: queue, deliveries: deliveries}
}

type planView struct {
	models.Plan
	AnnualPriceCents int64 `json:"annual_price_cents"`
}

func (ac *AdminController) view(ctx context.Context, p *models.Plan) (planView, error) {
	annual, err := ac.plans.AnnualPrice(ctx, p)
	if err != nil {
		return planView{}, err
	}
	return planView{Plan: *p, AnnualPriceCents: annual}, nil
}

// HandleListPlans lists plans with their effective annual price.
func (ac *AdminController) HandleListPlans(c *fiber.Ctx) error {
	includeInactive, _ := strconv.ParseBool(c.Query("all", "false"))
	plans, err := ac.plans.ListPlans(c.UserContext(), includeInactive)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]planView, 0, len(plans))
	for i := range plans {
		v, err := ac.view(c.UserContext(), &plans[i])
		if err != nil {
			return respondError(c, err)
		}
		out = append(out, v)
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleGetPlan returns one plan.
func (ac *AdminController) HandleGetPlan(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	p, err := ac.plans.ResolvePlan(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	v, err := ac.view(c.UserContext(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(v)
}

// HandleCreatePlan creates a plan and its provider prices.
func (ac *AdminController) HandleCreatePlan(c *fiber.Ctx) error {
	var in plancatalog.PlanInput
	if err := decode(c, &in); err != nil {
		return respondError(c, err)
	}
	p, err := ac.plans.CreatePlan(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// HandleUpdatePlan changes a plan and re-prices it at the provider.
func (ac *AdminController) HandleUpdatePlan(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in plancatalog.PlanUpdate
	if err := decode(c, &in); err != nil {
		return respondError(c, err)
	}
	p, err := ac.plans.UpdatePlan(c.UserContext(), id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// HandleDeletePlan deletes an unreferenced plan.
func (ac *AdminController) HandleDeletePlan(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := ac.plans.DeletePlan(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DiscountRequest is the body of PUT /admin/settings/annual-discount
type DiscountRequest struct {
	Percent *float64 `json:"percent" validate:"required,min=0,max=100"`
}

// HandleGetDiscount returns the global annual discount.
func (ac *AdminController) HandleGetDiscount(c *fiber.Ctx) error {
	pct, err := ac.plans.GlobalDiscount(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"percent": pct})
}

// HandleSetDiscount changes the global annual discount and re-prices every
// plan without an override.
func (ac *AdminController) HandleSetDiscount(c *fiber.Ctx) error {
	var req DiscountRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := ac.plans.SetGlobalDiscount(c.UserContext(), *req.Percent); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"percent": *req.Percent})
}

// HandleQueueStats reports job queue and delivery counters.
func (ac *AdminController) HandleQueueStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	stats, err := ac.queue.GetJobStats(ctx)
	if err != nil {
		return respondError(c, err)
	}
	pending, err := ac.queue.GetQueueSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	processing, err := ac.queue.GetProcessingSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	delayed, err := ac.queue.GetDelayedSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	resp := fiber.Map{
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
		"delayed":    delayed,
	}
	if ac.deliveries != nil {
		counts, err := ac.deliveries.Snapshot(ctx)
		if err != nil {
			return respondError(c, err)
		}
		resp["deliveries"] = counts
	}
	return c.JSON(resp)
}
