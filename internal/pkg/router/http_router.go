package router

import (
	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
	ctrl Controllers
	cfg  Config
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerWebhookRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(ctrl Controllers, cfg Config) *HttpRouter {
	return &HttpRouter{ctrl: ctrl, cfg: cfg}
}

func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	// Billing provider webhooks (signature-verified in controller)
	app.Post("/webhooks/billing", h.ctrl.Billing.HandleWebhook)
}
