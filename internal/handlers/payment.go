package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

// PaymentHandler exposes UddoktaPay checkout, webhook and verification endpoints.
type PaymentHandler struct {
	payments *services.PaymentService
	roles    ActorResolver
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *services.PaymentService, roles ActorResolver) *PaymentHandler {
	return &PaymentHandler{payments: payments, roles: roles}
}

// Initiate creates a checkout session for the caller.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}

	var req services.InitiatePaymentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.payments.Initiate(c.UserContext(), actor.UserID, req)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"payment_url": result.PaymentURL,
		"invoice_id":  result.InvoiceID,
	})
}

// Webhook receives gateway notifications. The API key is checked by WebhookAuthMiddleware.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	if err := h.payments.HandleWebhook(c.UserContext(), body); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

type verifyPaymentRequest struct {
	InvoiceID string `json:"invoiceId"`
}

// Verify pulls the authoritative status from the gateway and settles the payment.
func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}

	var req verifyPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.payments.Verify(c.UserContext(), actor, req.InvoiceID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"status":  result.Status,
		"data":    result.Data,
	})
}

// ListPayments returns the caller's payments.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	p := utils.ParsePagination(c)
	rows, total, err := h.payments.ListPayments(c.UserContext(), pageFor(p, &actor.UserID))
	return listResponse(c, p, rows, total, err)
}

// ListInvoices returns the caller's invoices.
func (h *PaymentHandler) ListInvoices(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	p := utils.ParsePagination(c)
	rows, total, err := h.payments.ListInvoices(c.UserContext(), pageFor(p, &actor.UserID))
	return listResponse(c, p, rows, total, err)
}
