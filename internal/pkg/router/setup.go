package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Controllers bundles the HTTP handlers the routers mount.
type Controllers struct {
	Quota     *controllers.QuotaController
	Reminders *controllers.ReminderController
	Billing   *controllers.BillingController
	Users     *controllers.UserController
	Admin     *controllers.AdminController
}

// Config holds the credentials guarding the route groups.
type Config struct {
	ServiceAPIKey string
	AdminUser     string
	AdminPassword string
}

func InstallRouter(app *fiber.App, ctrl Controllers, cfg Config) {
	setup(app, NewHttpRouter(ctrl, cfg), NewApiRouter(ctrl, cfg))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
