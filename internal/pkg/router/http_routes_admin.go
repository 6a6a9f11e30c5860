package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.cfg.AdminUser, h.cfg.AdminPassword))

	// Plan catalog
	adminGroup.Get("/plans", h.ctrl.Admin.HandleListPlans)
	adminGroup.Post("/plans", h.ctrl.Admin.HandleCreatePlan)
	adminGroup.Get("/plans/:id", h.ctrl.Admin.HandleGetPlan)
	adminGroup.Patch("/plans/:id", h.ctrl.Admin.HandleUpdatePlan)
	adminGroup.Delete("/plans/:id", h.ctrl.Admin.HandleDeletePlan)
	adminGroup.Get("/settings/annual-discount", h.ctrl.Admin.HandleGetDiscount)
	adminGroup.Put("/settings/annual-discount", h.ctrl.Admin.HandleSetDiscount)

	// Queue monitor
	adminGroup.Get("/queues", h.ctrl.Admin.HandleQueueStats)
}
