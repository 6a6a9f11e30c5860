package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/accounts"
)

// Registrar creates users together with their free subscription.
type Registrar interface {
	Register(ctx context.Context, in accounts.RegisterInput) (*models.User, error)
}

// DeviceTokens stores push device tokens.
type DeviceTokens interface {
	GetByID(id uint) (*models.User, error)
	UpdateFCMToken(id uint, token string) error
}

// UserController serves /api/v1/users
type UserController struct {
	accounts Registrar
	users    DeviceTokens
}

// NewUserController creates a user controller
func NewUserController(accounts Registrar, users DeviceTokens) *UserController {
	return &UserController{accounts: accounts, users: users}
}

// HandleRegister creates a user on the free plan.
func (uc *UserController) HandleRegister(c *fiber.Ctx) error {
	var in accounts.RegisterInput
	if err := decode(c, &in); err != nil {
		return respondError(c, err)
	}
	user, err := uc.accounts.Register(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// DeviceTokenRequest is the body of PUT /api/v1/users/:id/device-token
type DeviceTokenRequest struct {
	Token string `json:"fcm_token" validate:"required,max=255"`
}

// HandleDeviceToken stores the user's push device token.
func (uc *UserController) HandleDeviceToken(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req DeviceTokenRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if _, err := uc.users.GetByID(userID); err != nil {
		return respondError(c, err)
	}
	if err := uc.users.UpdateFCMToken(userID, req.Token); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
