package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

// DomainHandler exposes the domain provisioning endpoints.
type DomainHandler struct {
	domains *services.DomainService
	roles   ActorResolver
}

// NewDomainHandler constructs DomainHandler.
func NewDomainHandler(domains *services.DomainService, roles ActorResolver) *DomainHandler {
	return &DomainHandler{domains: domains, roles: roles}
}

func domainResponse(c *fiber.Ctx, domain *models.Domain) error {
	return c.JSON(fiber.Map{"success": true, "domain": domain})
}

// Register provisions a new domain through the registrar.
func (h *DomainHandler) Register(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.RegisterDomainRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.Register(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return domainResponse(c, domain)
}

// RequestTransferIn records a customer initiated inbound transfer.
func (h *DomainHandler) RequestTransferIn(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.TransferInRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.RequestTransferIn(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return domainResponse(c, domain)
}

// DecideTransferIn accepts or rejects a pending inbound transfer. Admin only.
func (h *DomainHandler) DecideTransferIn(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.TransferInDecisionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.DecideTransferIn(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	message := "transfer rejected"
	if req.Action == "accept" {
		message = "transfer accepted"
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": message,
		"domain":  domain,
	})
}

// TransferOut unlocks a domain for outbound transfer and returns its auth code.
func (h *DomainHandler) TransferOut(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.DomainIDRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, code, err := h.domains.TransferOut(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "domain unlocked for transfer",
		"domain":   domain,
		"authCode": code,
	})
}

// UpdateNameservers replaces the domain's nameservers at the registrar.
func (h *DomainHandler) UpdateNameservers(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.UpdateNameserversRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.UpdateNameservers(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return domainResponse(c, domain)
}

// ToggleAutoRenew sets or flips the auto renew flag.
func (h *DomainHandler) ToggleAutoRenew(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.ToggleAutoRenewRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.ToggleAutoRenew(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return domainResponse(c, domain)
}

// GenerateAuthCode issues a fresh transfer auth code.
func (h *DomainHandler) GenerateAuthCode(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	var req services.DomainIDRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	domain, code, err := h.domains.GenerateAuthCode(c.UserContext(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"domain":   domain,
		"authCode": code,
	})
}

// ListDomains returns the caller's domains.
func (h *DomainHandler) ListDomains(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	p := utils.ParsePagination(c)
	rows, total, err := h.domains.ListDomains(c.UserContext(), pageFor(p, &actor.UserID))
	return listResponse(c, p, rows, total, err)
}

// GetDomain returns one domain owned by the caller, or any domain for admins.
func (h *DomainHandler) GetDomain(c *fiber.Ctx) error {
	actor, err := currentActor(c, h.roles)
	if err != nil {
		return err
	}
	domain, err := h.domains.GetDomain(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return domainResponse(c, domain)
}
