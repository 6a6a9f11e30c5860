package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

// RequireAdmin protects admin routes with HTTP basic auth. Without
// configured credentials every admin request is rejected.
func RequireAdmin(user, password string) fiber.Handler {
	if user == "" || password == "" {
		log.Warn("[HTTP] ADMIN_USER/ADMIN_PASSWORD not set, admin routes are disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access is not configured"})
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Realm: "Taskly Admin",
	})
}
