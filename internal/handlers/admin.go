package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

// AdminHandler manages admin-only endpoints. Routes are guarded by RequireAdmin.
type AdminHandler struct {
	admin    *services.AdminService
	payments *services.PaymentService
	domains  *services.DomainService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(admin *services.AdminService, payments *services.PaymentService, domains *services.DomainService) *AdminHandler {
	return &AdminHandler{admin: admin, payments: payments, domains: domains}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	stats, err := h.admin.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

func (h *AdminHandler) ListPayments(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	rows, total, err := h.payments.ListPayments(c.UserContext(), pageFor(p, nil))
	return listResponse(c, p, rows, total, err)
}

func (h *AdminHandler) ListWebhookLogs(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	rows, total, err := h.payments.ListWebhookLogs(c.UserContext(), pageFor(p, nil))
	return listResponse(c, p, rows, total, err)
}

func (h *AdminHandler) ListDomains(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	rows, total, err := h.domains.ListDomains(c.UserContext(), pageFor(p, nil))
	return listResponse(c, p, rows, total, err)
}

func (h *AdminHandler) ListProvisioningQueue(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	rows, total, err := h.domains.ListQueue(c.UserContext(), pageFor(p, nil))
	return listResponse(c, p, rows, total, err)
}

func (h *AdminHandler) ListAuditLogs(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	rows, total, err := h.admin.ListAuditLogs(c.UserContext(), pageFor(p, nil))
	return listResponse(c, p, rows, total, err)
}
