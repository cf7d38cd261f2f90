package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
)

// WebhookVerifier checks the gateway's shared secret and records rejected deliveries.
type WebhookVerifier interface {
	CheckWebhookSecret(provided string) bool
	RecordRejectedWebhook(ctx context.Context, body []byte, reason string)
}

// WebhookAuthMiddleware validates the UddoktaPay API key header on inbound notifications.
func WebhookAuthMiddleware(verifier WebhookVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get(services.UddoktaPayAPIKeyHeader)
		if verifier.CheckWebhookSecret(provided) {
			return c.Next()
		}

		reason := "invalid api key"
		if provided == "" {
			reason = "missing api key"
		}
		verifier.RecordRejectedWebhook(c.UserContext(), c.Body(), reason)
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
}
