package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/hostcore/internal/middleware"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

// ErrorHandler renders every error as {success:false, error, code?}.
// Errors that are neither fiber errors nor service errors become a generic 500.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		body := fiber.Map{"success": false, "error": "internal server error"}

		var fe *fiber.Error
		if se, ok := services.AsServiceError(err); ok {
			status = se.Status
			body["error"] = se.Message
			if se.Code != "" {
				body["code"] = se.Code
			}
			for k, v := range se.Fields {
				body[k] = v
			}
			if status >= fiber.StatusInternalServerError {
				log.Error("request failed",
					zap.String("method", c.Method()),
					zap.String("path", c.Path()),
					zap.String("code", se.Code),
					zap.Error(err),
				)
			}
		} else if errors.As(err, &fe) {
			status = fe.Code
			body["error"] = fe.Message
		} else {
			log.Error("unhandled error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		return c.Status(status).JSON(body)
	}
}

// ActorResolver turns an authenticated user id into an actor with a role.
type ActorResolver interface {
	Actor(ctx context.Context, userID uuid.UUID) services.Actor
}

func currentActor(c *fiber.Ctx, roles ActorResolver) (services.Actor, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return services.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return roles.Actor(c.UserContext(), userID), nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

// pageFor builds list params. A nil userID lists across all users.
func pageFor(p utils.Pagination, userID *uuid.UUID) repository.ListParams {
	return repository.ListParams{UserID: userID, Limit: p.Limit, Offset: p.Offset}
}

func listResponse[T any](c *fiber.Ctx, p utils.Pagination, rows []T, total int64, err error) error {
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []T{}
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       rows,
		"pagination": p.Meta(total),
	})
}
