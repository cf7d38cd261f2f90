package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
	roles  ActorResolver
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService, roles ActorResolver) *OrderHandler {
	return &OrderHandler{orders: orders, roles: roles}
}

// CreateOrder places a pending order for the caller.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}

	var req services.CreateOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	order, err := h.orders.Create(c.UserContext(), actor, req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"order":   order,
	})
}

// ListOrders returns the caller's orders.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	p := utils.ParsePagination(c)
	rows, total, err := h.orders.List(c.UserContext(), pageFor(p, &actor.UserID))
	return listResponse(c, p, rows, total, err)
}

// GetOrder returns a single order owned by the caller, or any order for admins.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}

	order, err := h.orders.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"order":   order,
	})
}
