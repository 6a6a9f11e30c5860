package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
)

var validate = validator.New()

// parseID reads a positive integer route parameter.
func parseID(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Validation(name, "must be a positive integer")
	}
	return uint(id), nil
}

// decode parses the JSON body into out.
func decode(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}

// bind decodes the JSON body into out and validates its struct tags.
func bind(c *fiber.Ctx, out interface{}) error {
	if err := decode(c, out); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return apperrors.Validation(strings.ToLower(ve[0].Field()), "failed %s", ve[0].Tag())
		}
		return apperrors.Validation("body", "%v", err)
	}
	return nil
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *fiber.Ctx, err error) error {
	var (
		ve *apperrors.ValidationError
		qe *apperrors.QuotaExceededError
		ce *apperrors.ConflictError
		be *apperrors.BillingProviderError
	)
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "field": ve.Field, "message": ve.Message})
	case errors.As(err, &qe):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "quota_exceeded", "message": qe.Error()})
	case errors.As(err, &ce):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": ce.Error()})
	case apperrors.IsNotFound(err), errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.As(err, &be):
		log.Errorf("[HTTP] Billing provider error on %s: %v", c.Path(), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "billing_provider_error", "message": "Billing provider request failed"})
	default:
		log.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Request failed"})
	}
}
