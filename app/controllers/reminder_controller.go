package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/reminders"
)

// ReminderService registers and lists owner reminders.
type ReminderService interface {
	RegisterReminders(ctx context.Context, kind string, ownerID uint, ownerTime time.Time, specs []reminders.Spec) ([]models.Reminder, error)
	ReplaceReminders(ctx context.Context, kind string, ownerID uint, ownerTime time.Time, specs []reminders.Spec) ([]models.Reminder, error)
	RegisterForOwner(ctx context.Context, kind string, ownerID uint, specs []reminders.Spec) ([]models.Reminder, error)
	ListReminders(ctx context.Context, kind string, ownerID uint) ([]models.Reminder, error)
	DeleteReminders(ctx context.Context, kind string, ownerID uint) (int64, error)
}

// ReminderController serves /api/v1/reminders
type ReminderController struct {
	reminders ReminderService
}

// NewReminderController creates a reminder controller
func NewReminderController(svc ReminderService) *ReminderController {
	return &ReminderController{reminders: svc}
}

// RegisterRemindersRequest is the body of POST /api/v1/reminders. Without
// owner_time the owner's own start time is used.
type RegisterRemindersRequest struct {
	OwnerKind string           `json:"owner_kind" validate:"required"`
	OwnerID   uint             `json:"owner_id" validate:"required"`
	OwnerTime *time.Time       `json:"owner_time"`
	Replace   bool             `json:"replace"`
	Reminders []reminders.Spec `json:"reminders" validate:"required,min=1"`
}

// HandleRegister registers reminders for an owner. Entries whose fire time
// already passed are skipped.
func (rc *ReminderController) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRemindersRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	kind := strings.ToLower(strings.TrimSpace(req.OwnerKind))
	ctx := c.UserContext()

	var (
		created []models.Reminder
		err     error
	)
	switch {
	case req.OwnerTime == nil:
		created, err = rc.reminders.RegisterForOwner(ctx, kind, req.OwnerID, req.Reminders)
	case req.Replace:
		created, err = rc.reminders.ReplaceReminders(ctx, kind, req.OwnerID, *req.OwnerTime, req.Reminders)
	default:
		created, err = rc.reminders.RegisterReminders(ctx, kind, req.OwnerID, *req.OwnerTime, req.Reminders)
	}
	if err != nil {
		return respondError(c, err)
	}
	if created == nil {
		created = []models.Reminder{}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"registered": len(created),
		"skipped":    len(req.Reminders) - len(created),
		"reminders":  created,
	})
}

// HandleList lists an owner's reminders.
func (rc *ReminderController) HandleList(c *fiber.Ctx) error {
	ownerID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	list, err := rc.reminders.ListReminders(c.UserContext(), c.Params("kind"), ownerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"reminders": list})
}

// HandleDelete removes all reminders of an owner.
func (rc *ReminderController) HandleDelete(c *fiber.Ctx) error {
	ownerID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	n, err := rc.reminders.DeleteReminders(c.UserContext(), c.Params("kind"), ownerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}
