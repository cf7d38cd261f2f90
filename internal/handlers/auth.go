package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	accounts *services.AccountService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(accounts *services.AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

// Register creates a new user account.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterAccountRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	session, err := h.accounts.Register(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user":    session.User,
		"token":   session.Token,
	})
}

// Login authenticates an existing user.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req services.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	session, err := h.accounts.Login(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    session.User,
		"token":   session.Token,
	})
}
