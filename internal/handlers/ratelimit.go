package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
)

// RateLimitHandler exposes the login rate limiter. It answers 200 for every valid request.
type RateLimitHandler struct {
	limiter *services.RateLimitService
}

func NewRateLimitHandler(limiter *services.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

func (h *RateLimitHandler) Evaluate(c *fiber.Ctx) error {
	var req services.RateLimitRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.limiter.Evaluate(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
