package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/hostcore/internal/events"
	"github.com/example/hostcore/internal/metrics"
	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/utils"
)

// Audit actions written for domain operations.
const (
	ActionRegister          = "register"
	ActionUpdateNameservers = "update_nameservers"
	ActionToggleAutoRenew   = "toggle_auto_renew"
	ActionGenerateAuthCode  = "generate_authcode"
	ActionTransferOut       = "transfer_out"
	ActionTransferIn        = "transfer_in"
	ActionTransferInRequest = "transfer_in_request"

	maxRegistrationYears = 10
	auditTargetDomain    = "domain"
)

// Statuses each operation may start from.
var (
	nameserverStates = []string{models.DomainStatusActive, models.DomainStatusPendingRenewal}
	autoRenewStates  = []string{models.DomainStatusActive, models.DomainStatusPendingRenewal}
	authCodeStates   = []string{models.DomainStatusActive}
	transferOutState = []string{models.DomainStatusActive}
	transferInStates = []string{models.DomainStatusTransferIn}
)

type RegisterDomainRequest struct {
	DomainName  string   `json:"domainName" validate:"required"`
	OrderID     string   `json:"orderId"`
	Years       int      `json:"years"`
	Nameservers []string `json:"nameservers"`
	AutoRenew   bool     `json:"autoRenew"`
}

type DomainIDRequest struct {
	DomainID string `json:"domainId" validate:"required"`
}

type UpdateNameserversRequest struct {
	DomainID    string   `json:"domainId" validate:"required"`
	Nameservers []string `json:"nameservers" validate:"required"`
}

type ToggleAutoRenewRequest struct {
	DomainID  string `json:"domainId" validate:"required"`
	AutoRenew *bool  `json:"autoRenew"`
}

type TransferInDecisionRequest struct {
	DomainID string `json:"domainId" validate:"required"`
	Action   string `json:"action" validate:"required,oneof=accept reject"`
}

type TransferInRequest struct {
	DomainName string `json:"domainName" validate:"required"`
	AuthCode   string `json:"authCode" validate:"required"`
	OrderID    string `json:"orderId"`
}

// DomainDeps bundles the collaborators of DomainService. Notifier and Publisher are optional.
type DomainDeps struct {
	Domains            repository.DomainRepository
	Audit              repository.AuditRepository
	Registrar          Registrar
	Notifier           Notifier
	Publisher          events.Publisher
	DefaultNameservers []string
	Log                *zap.Logger

	// Clock and Dispatch default to time.Now and a new goroutine.
	Clock    func() time.Time
	Dispatch func(func())
}

// DomainService runs the domain provisioning operations.
type DomainService struct {
	domains            repository.DomainRepository
	audit              repository.AuditRepository
	registrar          Registrar
	notifier           Notifier
	publisher          events.Publisher
	defaultNameservers []string
	log                *zap.Logger

	now   func() time.Time
	async func(func())
}

func NewDomainService(d DomainDeps) *DomainService {
	s := &DomainService{
		domains:            d.Domains,
		audit:              d.Audit,
		registrar:          d.Registrar,
		notifier:           d.Notifier,
		publisher:          d.Publisher,
		defaultNameservers: d.DefaultNameservers,
		log:                d.Log,
		now:                time.Now,
		async:              func(fn func()) { go fn() },
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if d.Clock != nil {
		s.now = d.Clock
	}
	if d.Dispatch != nil {
		s.async = d.Dispatch
	}
	if s.registrar == nil {
		s.registrar = NewSimulatedRegistrar()
	}
	return s
}

// Register creates a domain and registers it with the registrar.
func (s *DomainService) Register(ctx context.Context, actor Actor, req RegisterDomainRequest) (*models.Domain, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}

	name := utils.NormalizeDomainName(req.DomainName)
	if !utils.IsValidHostname(name) {
		return nil, validationError("domainName must be a valid domain name")
	}

	years := req.Years
	if years == 0 {
		years = 1
	}
	if years < 1 || years > maxRegistrationYears {
		return nil, validationError(fmt.Sprintf("years must be between 1 and %d", maxRegistrationYears))
	}

	nameservers := slices.Clone(s.defaultNameservers)
	if len(req.Nameservers) > 0 {
		ns, err := utils.NormalizeNameservers(req.Nameservers)
		if err != nil {
			return nil, validationError(err.Error())
		}
		nameservers = ns
	}

	orderID, err := optionalUUID(req.OrderID, "orderId")
	if err != nil {
		return nil, err
	}

	domain := &models.Domain{
		UserID:            actor.UserID,
		OrderID:           orderID,
		Name:              name,
		Extension:         utils.DomainExtension(name),
		Status:            models.DomainStatusPendingRegistration,
		Nameservers:       nameservers,
		NameserverStatus:  models.NameserverStatusPropagating,
		AutoRenew:         req.AutoRenew,
		RegistrationYears: years,
	}
	if err := s.claimName(ctx, domain); err != nil {
		return nil, err
	}

	registration := RegistrationRequest{
		Domain:      name,
		Years:       years,
		Nameservers: nameservers,
		AutoRenew:   req.AutoRenew,
	}
	entry := s.enqueue(ctx, domain, models.QueueActionRegister, registration)

	result, regErr := s.registrar.RegisterDomain(ctx, registration)
	now := s.now()
	domain.LastSyncedAt = &now

	if regErr != nil {
		domain.Status = models.DomainStatusCancelled
		domain.SyncError = truncate(regErr.Error(), 1024)
		if _, err := s.domains.TransitionDomain(ctx, domain, []string{models.DomainStatusPendingRegistration}); err != nil {
			s.log.Error("failed to cancel domain after registrar failure", zap.String("domain", name), zap.Error(err))
		}
		s.finishQueue(ctx, entry, nil, regErr)
		s.recordFailure(ctx, actor, domain, ActionRegister, regErr)
		return nil, upstreamError("domain registration failed", regErr)
	}

	if result == nil {
		result = &RegistrarResult{}
	}
	expires := now.AddDate(years, 0, 0)
	if result.ExpiresAt != nil {
		expires = *result.ExpiresAt
	}
	domain.Status = models.DomainStatusActive
	domain.NameserverStatus = models.NameserverStatusActive
	domain.RegisteredAt = &now
	domain.ExpiresAt = &expires
	domain.RegistrarRef = result.Reference
	domain.SyncError = ""

	if err := s.transition(ctx, domain, []string{models.DomainStatusPendingRegistration}); err != nil {
		return nil, err
	}
	s.finishQueue(ctx, entry, result, nil)
	s.recordSuccess(ctx, actor, domain, ActionRegister, map[string]any{"years": years})

	return domain, nil
}

// UpdateNameservers replaces the nameservers and pushes them to the registrar.
// Invalid input is rejected before the domain is read.
func (s *DomainService) UpdateNameservers(ctx context.Context, actor Actor, req UpdateNameserversRequest) (*models.Domain, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}
	nameservers, err := utils.NormalizeNameservers(req.Nameservers)
	if err != nil {
		return nil, validationError(err.Error())
	}

	domain, err := s.load(ctx, actor, req.DomainID, nameserverStates, ActionUpdateNameservers)
	if err != nil {
		return nil, err
	}

	previous := slices.Clone(domain.Nameservers)
	domain.Nameservers = nameservers
	domain.NameserverStatus = models.NameserverStatusPropagating
	if err := s.transition(ctx, domain, nameserverStates); err != nil {
		return nil, err
	}

	entry := s.enqueue(ctx, domain, models.QueueActionUpdateNameservers, map[string]any{
		"domain":      domain.Name,
		"nameservers": nameservers,
	})

	result, regErr := s.registrar.UpdateNameservers(ctx, domain.Name, nameservers)
	now := s.now()
	domain.LastSyncedAt = &now
	domain.NameserverStatus = models.NameserverStatusActive

	if regErr != nil {
		domain.Nameservers = previous
		domain.SyncError = truncate(regErr.Error(), 1024)
		if _, err := s.domains.TransitionDomain(ctx, domain, nameserverStates); err != nil {
			s.log.Error("failed to restore nameservers", zap.String("domain", domain.Name), zap.Error(err))
		}
		s.finishQueue(ctx, entry, nil, regErr)
		s.recordFailure(ctx, actor, domain, ActionUpdateNameservers, regErr)
		return nil, upstreamError("nameserver update failed", regErr)
	}

	domain.SyncError = ""
	if err := s.transition(ctx, domain, nameserverStates); err != nil {
		return nil, err
	}
	s.finishQueue(ctx, entry, result, nil)
	s.recordSuccess(ctx, actor, domain, ActionUpdateNameservers, map[string]any{
		"previous":    previous,
		"nameservers": nameservers,
	})

	return domain, nil
}

// ToggleAutoRenew sets auto-renew to the given value, or flips it when none is given.
func (s *DomainService) ToggleAutoRenew(ctx context.Context, actor Actor, req ToggleAutoRenewRequest) (*models.Domain, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}

	domain, err := s.load(ctx, actor, req.DomainID, autoRenewStates, ActionToggleAutoRenew)
	if err != nil {
		return nil, err
	}

	if req.AutoRenew != nil {
		domain.AutoRenew = *req.AutoRenew
	} else {
		domain.AutoRenew = !domain.AutoRenew
	}

	if err := s.transition(ctx, domain, autoRenewStates); err != nil {
		return nil, err
	}
	s.recordSuccess(ctx, actor, domain, ActionToggleAutoRenew, map[string]any{"auto_renew": domain.AutoRenew})
	return domain, nil
}

// GenerateAuthCode issues a new transfer authorization code.
func (s *DomainService) GenerateAuthCode(ctx context.Context, actor Actor, req DomainIDRequest) (*models.Domain, string, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, "", validationError(err.Error())
	}

	domain, err := s.load(ctx, actor, req.DomainID, authCodeStates, ActionGenerateAuthCode)
	if err != nil {
		return nil, "", err
	}

	code, err := utils.GenerateAuthCode()
	if err != nil {
		return nil, "", internalError("failed to generate auth code", err)
	}
	domain.AuthCode = code

	if err := s.transition(ctx, domain, authCodeStates); err != nil {
		return nil, "", err
	}
	s.recordSuccess(ctx, actor, domain, ActionGenerateAuthCode, nil)
	return domain, code, nil
}

// TransferOut marks the domain as leaving, generating an auth code when none exists.
func (s *DomainService) TransferOut(ctx context.Context, actor Actor, req DomainIDRequest) (*models.Domain, string, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, "", validationError(err.Error())
	}

	domain, err := s.load(ctx, actor, req.DomainID, transferOutState, ActionTransferOut)
	if err != nil {
		return nil, "", err
	}

	if domain.AuthCode == "" {
		code, err := utils.GenerateAuthCode()
		if err != nil {
			return nil, "", internalError("failed to generate auth code", err)
		}
		domain.AuthCode = code
	}
	domain.Status = models.DomainStatusTransferOut

	if err := s.transition(ctx, domain, transferOutState); err != nil {
		return nil, "", err
	}
	s.recordSuccess(ctx, actor, domain, ActionTransferOut, nil)
	return domain, domain.AuthCode, nil
}

// DecideTransferIn accepts or rejects an inbound transfer. Admin only.
func (s *DomainService) DecideTransferIn(ctx context.Context, actor Actor, req TransferInDecisionRequest) (*models.Domain, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}
	if !actor.IsAdmin() {
		metrics.DomainActionsTotal.WithLabelValues(ActionTransferIn, "forbidden").Inc()
		return nil, forbiddenError("admin access required")
	}

	domain, err := s.load(ctx, actor, req.DomainID, transferInStates, ActionTransferIn)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.Action == "accept" {
		domain.Status = models.DomainStatusActive
		if domain.RegisteredAt == nil {
			domain.RegisteredAt = &now
		}
		if domain.ExpiresAt == nil {
			expires := now.AddDate(1, 0, 0)
			domain.ExpiresAt = &expires
		}
	} else {
		domain.Status = models.DomainStatusCancelled
	}
	domain.LastSyncedAt = &now

	if err := s.transition(ctx, domain, transferInStates); err != nil {
		return nil, err
	}
	s.recordSuccess(ctx, actor, domain, ActionTransferIn, map[string]any{"decision": req.Action})
	return domain, nil
}

// RequestTransferIn records a customer's inbound transfer for admin review.
func (s *DomainService) RequestTransferIn(ctx context.Context, actor Actor, req TransferInRequest) (*models.Domain, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}

	name := utils.NormalizeDomainName(req.DomainName)
	if !utils.IsValidHostname(name) {
		return nil, validationError("domainName must be a valid domain name")
	}

	orderID, err := optionalUUID(req.OrderID, "orderId")
	if err != nil {
		return nil, err
	}

	domain := &models.Domain{
		UserID:            actor.UserID,
		OrderID:           orderID,
		Name:              name,
		Extension:         utils.DomainExtension(name),
		Status:            models.DomainStatusTransferIn,
		Nameservers:       slices.Clone(s.defaultNameservers),
		NameserverStatus:  models.NameserverStatusActive,
		AuthCode:          req.AuthCode,
		RegistrationYears: 1,
	}
	if err := s.claimName(ctx, domain); err != nil {
		return nil, err
	}

	s.recordSuccess(ctx, actor, domain, ActionTransferInRequest, nil)
	return domain, nil
}

// GetDomain returns a domain the actor owns, or any domain for admins.
func (s *DomainService) GetDomain(ctx context.Context, actor Actor, rawID string) (*models.Domain, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, validationError("invalid domain id")
	}
	domain, err := s.domains.FindDomain(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("domain not found")
	}
	if err != nil {
		return nil, internalError("failed to load domain", err)
	}
	if !actor.CanAccess(domain.UserID) {
		return nil, forbiddenError("domain belongs to another user")
	}
	return domain, nil
}

// ListDomains returns a page of domains. A nil user lists all domains.
func (s *DomainService) ListDomains(ctx context.Context, p repository.ListParams) ([]models.Domain, int64, error) {
	return s.domains.ListDomains(ctx, p)
}

// ListQueue returns a page of provisioning queue entries.
func (s *DomainService) ListQueue(ctx context.Context, p repository.ListParams) ([]models.DomainProvisioningQueueEntry, int64, error) {
	return s.domains.ListQueueEntries(ctx, p)
}

// claimName stores domain under its name. A cancelled row for the same name is taken over
// in place, since the name column is unique and cancelled names were never registered.
func (s *DomainService) claimName(ctx context.Context, domain *models.Domain) error {
	existing, err := s.domains.FindDomainByName(ctx, domain.Name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if err := s.domains.CreateDomain(ctx, domain); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictError(CodeDomainExists, "domain already exists")
			}
			return internalError("failed to create domain", err)
		}
		return nil
	case err != nil:
		return internalError("failed to check domain", err)
	case existing.Status != models.DomainStatusCancelled:
		return conflictError(CodeDomainExists, "domain already exists")
	}

	domain.ID = existing.ID
	domain.CreatedAt = existing.CreatedAt
	ok, err := s.domains.TransitionDomain(ctx, domain, []string{models.DomainStatusCancelled})
	if err != nil {
		return internalError("failed to reuse domain", err)
	}
	if !ok {
		return conflictError(CodeDomainExists, "domain already exists")
	}
	return nil
}

// load runs the shared read path: parse, find, ownership, then the status allow-list.
func (s *DomainService) load(ctx context.Context, actor Actor, rawID string, allowed []string, action string) (*models.Domain, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, validationError("domainId must be a valid id")
	}

	domain, err := s.domains.FindDomain(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("domain not found")
	}
	if err != nil {
		return nil, internalError("failed to load domain", err)
	}

	if !actor.CanAccess(domain.UserID) {
		metrics.DomainActionsTotal.WithLabelValues(action, "forbidden").Inc()
		return nil, forbiddenError("domain belongs to another user")
	}

	if !slices.Contains(allowed, domain.Status) {
		metrics.DomainActionsTotal.WithLabelValues(action, "rejected").Inc()
		return nil, invalidStateError(fmt.Sprintf("%s is not allowed while domain is %s", action, domain.Status))
	}
	return domain, nil
}

func (s *DomainService) transition(ctx context.Context, domain *models.Domain, from []string) error {
	ok, err := s.domains.TransitionDomain(ctx, domain, from)
	if err != nil {
		return internalError("failed to update domain", err)
	}
	if !ok {
		return conflictError(CodeStateChanged, "domain status changed, reload and retry")
	}
	return nil
}

func (s *DomainService) enqueue(ctx context.Context, domain *models.Domain, action string, payload any) *models.DomainProvisioningQueueEntry {
	raw, _ := json.Marshal(payload)
	entry := &models.DomainProvisioningQueueEntry{
		DomainID:       domain.ID,
		OrderID:        domain.OrderID,
		Action:         action,
		Status:         models.QueueStatusPending,
		Priority:       1,
		Attempts:       1,
		RequestPayload: datatypes.JSON(raw),
	}
	if err := s.domains.CreateQueueEntry(ctx, entry); err != nil {
		s.log.Error("failed to enqueue provisioning action",
			zap.String("domain", domain.Name),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil
	}
	return entry
}

func (s *DomainService) finishQueue(ctx context.Context, entry *models.DomainProvisioningQueueEntry, result *RegistrarResult, cause error) {
	if entry == nil {
		return
	}
	now := s.now()
	entry.CompletedAt = &now
	if cause != nil {
		entry.Status = models.QueueStatusFailed
		entry.ErrorMessage = truncate(cause.Error(), 1024)
	} else {
		entry.Status = models.QueueStatusCompleted
		if result != nil && len(result.Raw) > 0 {
			entry.ResponsePayload = datatypes.JSON(result.Raw)
		}
	}
	if err := s.domains.UpdateQueueEntry(ctx, entry); err != nil {
		s.log.Error("failed to update provisioning queue entry", zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}
}

func (s *DomainService) recordSuccess(ctx context.Context, actor Actor, domain *models.Domain, action string, extra map[string]any) {
	metrics.DomainActionsTotal.WithLabelValues(action, "success").Inc()
	s.writeAudit(ctx, actor, domain, action, "success", extra)

	if err := s.publisher.Publish(ctx, events.DomainPrefix+action, map[string]any{
		"domain_id":   domain.ID,
		"domain_name": domain.Name,
		"user_id":     domain.UserID,
		"status":      domain.Status,
	}); err != nil {
		s.log.Warn("failed to publish domain event", zap.String("action", action), zap.Error(err))
	}
}

func (s *DomainService) recordFailure(ctx context.Context, actor Actor, domain *models.Domain, action string, cause error) {
	metrics.DomainActionsTotal.WithLabelValues(action, "failed").Inc()
	s.log.Error("registrar call failed",
		zap.String("domain", domain.Name),
		zap.String("action", action),
		zap.Error(cause),
	)
	s.writeAudit(ctx, actor, domain, action, "failed", map[string]any{"error": truncate(cause.Error(), 256)})

	if s.notifier == nil {
		return
	}
	name, reason := domain.Name, cause.Error()
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notificationDeadline)
		defer cancel()
		if err := s.notifier.DomainFailure(ctx, name, action, reason); err != nil {
			s.log.Warn("domain failure notification failed", zap.String("domain", name), zap.Error(err))
		}
	})
}

func (s *DomainService) writeAudit(ctx context.Context, actor Actor, domain *models.Domain, action, outcome string, extra map[string]any) {
	metadata := map[string]any{
		"domain_name": domain.Name,
		"status":      domain.Status,
		"outcome":     outcome,
	}
	for k, v := range extra {
		metadata[k] = v
	}

	actorID := actor.UserID
	err := s.audit.LogAuditEvent(ctx, repository.AuditEvent{
		ActorID:    &actorID,
		ActorRole:  actor.Role,
		Action:     "domain." + action,
		TargetType: auditTargetDomain,
		TargetID:   domain.ID.String(),
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Error("failed to write audit event", zap.String("action", action), zap.Error(err))
	}
}

func optionalUUID(raw, field string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, validationError(field + " must be a valid id")
	}
	return &id, nil
}
