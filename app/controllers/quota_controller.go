package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/internal/pkg/entitlements"
)

// QuotaService is the admission API consumed by the CRUD layer.
type QuotaService interface {
	CheckLimit(ctx context.Context, userID uint, action string) (entitlements.Decision, error)
	Increment(ctx context.Context, userID uint, action string) error
	Consume(ctx context.Context, userID uint, action string) (entitlements.Decision, error)
	UsageInfo(ctx context.Context, userID uint, action string) (*entitlements.Usage, error)
}

// QuotaController serves /api/v1/users/:id/quota/:action
type QuotaController struct {
	quota QuotaService
}

// NewQuotaController creates a quota controller
func NewQuotaController(quota QuotaService) *QuotaController {
	return &QuotaController{quota: quota}
}

func quotaTarget(c *fiber.Ctx) (uint, string, error) {
	userID, err := parseID(c, "id")
	if err != nil {
		return 0, "", err
	}
	return userID, strings.ToLower(strings.TrimSpace(c.Params("action"))), nil
}

// HandleCheck answers whether the user may perform the action now.
func (qc *QuotaController) HandleCheck(c *fiber.Ctx) error {
	userID, action, err := quotaTarget(c)
	if err != nil {
		return respondError(c, err)
	}
	d, err := qc.quota.CheckLimit(c.UserContext(), userID, action)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(d)
}

// HandleConsume checks and counts one action. A denial is 429.
func (qc *QuotaController) HandleConsume(c *fiber.Ctx) error {
	userID, action, err := quotaTarget(c)
	if err != nil {
		return respondError(c, err)
	}
	d, err := qc.quota.Consume(c.UserContext(), userID, action)
	if err != nil {
		return respondError(c, err)
	}
	if !d.Allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(d)
	}
	return c.JSON(d)
}

// HandleIncrement counts an action that already happened.
func (qc *QuotaController) HandleIncrement(c *fiber.Ctx) error {
	userID, action, err := quotaTarget(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := qc.quota.Increment(c.UserContext(), userID, action); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleUsage returns the current window's usage.
func (qc *QuotaController) HandleUsage(c *fiber.Ctx) error {
	userID, action, err := quotaTarget(c)
	if err != nil {
		return respondError(c, err)
	}
	u, err := qc.quota.UsageInfo(c.UserContext(), userID, action)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(u)
}
