package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Taskly/internal/pkg/middleware"
)

type ApiRouter struct {
	ctrl Controllers
	cfg  Config
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 300}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.ServiceKeyMiddleware(h.cfg.ServiceAPIKey))
	v1.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ping": "pong"})
	})

	v1.Post("/users", h.ctrl.Users.HandleRegister)
	v1.Put("/users/:id/device-token", h.ctrl.Users.HandleDeviceToken)

	quota := v1.Group("/users/:id/quota/:action")
	quota.Get("/", h.ctrl.Quota.HandleUsage)
	quota.Get("/check", h.ctrl.Quota.HandleCheck)
	quota.Post("/consume", h.ctrl.Quota.HandleConsume)
	quota.Post("/increment", h.ctrl.Quota.HandleIncrement)

	v1.Get("/users/:id/subscription", h.ctrl.Billing.HandleSubscription)
	v1.Get("/users/:id/billing/payments", h.ctrl.Billing.HandlePayments)
	v1.Post("/users/:id/billing/checkout", h.ctrl.Billing.HandleCheckout)
	v1.Post("/users/:id/billing/portal", h.ctrl.Billing.HandlePortal)

	v1.Post("/reminders", h.ctrl.Reminders.HandleRegister)
	v1.Get("/reminders/:kind/:id", h.ctrl.Reminders.HandleList)
	v1.Delete("/reminders/:kind/:id", h.ctrl.Reminders.HandleDelete)
}

func NewApiRouter(ctrl Controllers, cfg Config) *ApiRouter {
	return &ApiRouter{ctrl: ctrl, cfg: cfg}
}
