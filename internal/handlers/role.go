package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// RoleHandler reports the caller's role.
type RoleHandler struct {
	roles ActorResolver
}

func NewRoleHandler(roles ActorResolver) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// Me never fails past authentication; lookup errors resolve to the user role.
func (h *RoleHandler) Me(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "role": actor.Role})
}
