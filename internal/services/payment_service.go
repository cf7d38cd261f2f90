package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/hostcore/internal/archive"
	"github.com/example/hostcore/internal/events"
	"github.com/example/hostcore/internal/metrics"
	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/utils"
)

const (
	webhookSource        = "uddoktapay"
	orderTermLength      = 1
	notificationDeadline = 15 * time.Second
)

// MapGatewayStatus converts the gateway vocabulary to a payment status.
func MapGatewayStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return models.PaymentStatusCompleted
	case "PENDING":
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusFailed
	}
}

// InitiatePaymentRequest starts a gateway checkout for an order.
type InitiatePaymentRequest struct {
	OrderID       string          `json:"orderId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	CustomerName  string          `json:"customerName" validate:"required"`
	CustomerEmail string          `json:"customerEmail" validate:"required,email"`
	CustomerPhone string          `json:"customerPhone"`
	ItemName      string          `json:"itemName" validate:"required"`
	RedirectURL   string          `json:"redirectUrl"`
	CancelURL     string          `json:"cancelUrl"`
	WebhookURL    string          `json:"webhookUrl"`
}

// InitiatePaymentResult is returned to the client after checkout creation.
type InitiatePaymentResult struct {
	PaymentURL string `json:"payment_url"`
	InvoiceID  string `json:"invoice_id"`
}

// SettleResult describes the stored payment after a settlement attempt.
type SettleResult struct {
	Payment *models.Payment
	Status  string
	Applied bool
	Invoice *models.Invoice
}

// VerifyResult is returned from the pull-based verification path.
type VerifyResult struct {
	Status string          `json:"status"`
	Data   *GatewayPayment `json:"data"`
}

// PaymentDeps bundles the collaborators of PaymentService. Orders, Notifier, Publisher and Archive are optional.
type PaymentDeps struct {
	Payments      repository.PaymentRepository
	Orders        repository.OrderRepository
	Webhooks      repository.WebhookLogRepository
	Gateway       PaymentGateway
	Notifier      Notifier
	Publisher     events.Publisher
	Archive       archive.Store
	WebhookSecret string
	Log           *zap.Logger

	// Clock and Dispatch default to time.Now and a new goroutine.
	Clock    func() time.Time
	Dispatch func(func())
}

// PaymentService owns payment initiation, webhook handling, verification and settlement.
type PaymentService struct {
	payments      repository.PaymentRepository
	orders        repository.OrderRepository
	webhooks      repository.WebhookLogRepository
	gateway       PaymentGateway
	notifier      Notifier
	publisher     events.Publisher
	archive       archive.Store
	webhookSecret string
	log           *zap.Logger

	now   func() time.Time
	async func(func())
}

func NewPaymentService(d PaymentDeps) *PaymentService {
	s := &PaymentService{
		payments:      d.Payments,
		orders:        d.Orders,
		webhooks:      d.Webhooks,
		gateway:       d.Gateway,
		notifier:      d.Notifier,
		publisher:     d.Publisher,
		archive:       d.Archive,
		webhookSecret: d.WebhookSecret,
		log:           d.Log,
		now:           time.Now,
		async:         func(fn func()) { go fn() },
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
	return s
}

// Initiate creates a gateway checkout and records a pending payment.
// Failing to record the payment does not fail the call; the checkout URL is still returned.
func (s *PaymentService) Initiate(ctx context.Context, userID uuid.UUID, req InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if err := s.checkOrder(ctx, userID, req); err != nil {
		return nil, err
	}

	charge, err := s.gateway.CreateCharge(ctx, ChargeRequest{
		FullName: req.CustomerName,
		Email:    req.CustomerEmail,
		Amount:   req.Amount,
		Metadata: map[string]string{
			"order_id":  req.OrderID,
			"user_id":   userID.String(),
			"item_name": req.ItemName,
		},
		RedirectURL: req.RedirectURL,
		CancelURL:   req.CancelURL,
		WebhookURL:  req.WebhookURL,
	})
	if err != nil {
		s.log.Error("gateway checkout failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, upstreamError("failed to create payment", err)
	}

	metadata, _ := json.Marshal(map[string]any{
		"order_id":       req.OrderID,
		"item_name":      req.ItemName,
		"customer_name":  req.CustomerName,
		"customer_email": req.CustomerEmail,
		"customer_phone": req.CustomerPhone,
	})

	payment := &models.Payment{
		OrderID:   req.OrderID,
		UserID:    userID,
		InvoiceID: charge.InvoiceID,
		Amount:    req.Amount,
		Status:    models.PaymentStatusPending,
		Metadata:  datatypes.JSON(metadata),
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		s.log.Error("failed to record pending payment",
			zap.String("invoice_id", charge.InvoiceID),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
	}

	if s.notifier != nil {
		confirmation := OrderConfirmation{
			OrderID:       req.OrderID,
			InvoiceID:     charge.InvoiceID,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			ItemName:      req.ItemName,
			Amount:        req.Amount,
			PaymentURL:    charge.PaymentURL,
		}
		s.async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), notificationDeadline)
			defer cancel()
			if err := s.notifier.OrderConfirmation(ctx, confirmation); err != nil {
				s.log.Warn("order confirmation notification failed", zap.String("order_id", confirmation.OrderID), zap.Error(err))
			}
		})
	}

	return &InitiatePaymentResult{PaymentURL: charge.PaymentURL, InvoiceID: charge.InvoiceID}, nil
}

// checkOrder validates a reference to a stored order. References that are not order ids
// are free-form and settle without touching any order.
func (s *PaymentService) checkOrder(ctx context.Context, userID uuid.UUID, req InitiatePaymentRequest) error {
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil || s.orders == nil {
		return nil
	}
	order, err := s.orders.FindOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("order not found")
	}
	if err != nil {
		return internalError("failed to load order", err)
	}
	if order.UserID != userID {
		return forbiddenError("order belongs to another user")
	}
	if order.Status != models.OrderStatusPending {
		return invalidStateError("order is not pending")
	}
	if !order.Amount.Equal(req.Amount) {
		return validationError("amount does not match order")
	}
	return nil
}

// CheckWebhookSecret compares the provided header with the configured secret in constant time.
// An empty configured secret rejects every request.
func (s *PaymentService) CheckWebhookSecret(provided string) bool {
	if s.webhookSecret == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.webhookSecret)) == 1
}

// RecordRejectedWebhook logs a notification that failed authentication.
func (s *PaymentService) RecordRejectedWebhook(ctx context.Context, body []byte, reason string) {
	metrics.WebhooksTotal.WithLabelValues("unauthorized").Inc()
	entry := &models.WebhookLog{
		Source:    webhookSource,
		InvoiceID: invoiceIDHint(body),
		Status:    models.WebhookStatusFailed,
		Payload:   payloadJSON(body),
		Note:      reason,
	}
	if err := s.webhooks.CreateWebhookLog(ctx, entry); err != nil {
		s.log.Error("failed to record rejected webhook", zap.Error(err))
	}
}

// HandleWebhook processes an authenticated gateway notification.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte) error {
	entry := &models.WebhookLog{
		Source:    webhookSource,
		InvoiceID: invoiceIDHint(body),
		Status:    models.WebhookStatusReceived,
		Payload:   payloadJSON(body),
	}
	if err := s.webhooks.CreateWebhookLog(ctx, entry); err != nil {
		s.log.Error("failed to record webhook", zap.Error(err))
	}

	s.archivePayload(ctx, entry, body)

	var notification GatewayPayment
	if err := json.Unmarshal(body, &notification); err != nil || strings.TrimSpace(notification.InvoiceID) == "" {
		s.markWebhook(ctx, entry, models.WebhookStatusFailed, "invalid payload")
		metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
		return validationError("invalid webhook payload")
	}
	invoiceID := strings.TrimSpace(notification.InvoiceID)

	payment, err := s.payments.FindPaymentByInvoiceID(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		s.markWebhook(ctx, entry, models.WebhookStatusFailed, "payment not found")
		metrics.WebhooksTotal.WithLabelValues("not_found").Inc()
		return notFoundError("payment not found")
	}
	if err != nil {
		s.markWebhook(ctx, entry, models.WebhookStatusFailed, err.Error())
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		return internalError("failed to load payment", err)
	}

	if payment.Status == models.PaymentStatusCompleted {
		s.markWebhook(ctx, entry, models.WebhookStatusProcessed, "already completed")
		metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	result, err := s.Settle(ctx, invoiceID, &notification)
	if err != nil {
		s.log.Error("webhook settlement failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		s.markWebhook(ctx, entry, models.WebhookStatusFailed, err.Error())
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		return internalError("failed to update payment", err)
	}

	note := "status: " + result.Status
	if !result.Applied && result.Status != models.PaymentStatusPending {
		note = "already settled as " + result.Status
	}
	s.markWebhook(ctx, entry, models.WebhookStatusProcessed, note)
	metrics.WebhooksTotal.WithLabelValues("processed").Inc()
	return nil
}

// Verify asks the gateway for the authoritative status and settles the payment.
func (s *PaymentService) Verify(ctx context.Context, actor Actor, invoiceID string) (*VerifyResult, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, validationError("invoiceId is required")
	}

	payment, err := s.payments.FindPaymentByInvoiceID(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("payment not found")
	}
	if err != nil {
		return nil, internalError("failed to load payment", err)
	}
	if !actor.CanAccess(payment.UserID) {
		return nil, forbiddenError("payment belongs to another user")
	}

	verified, err := s.gateway.VerifyPayment(ctx, invoiceID)
	if err != nil {
		s.log.Error("gateway verification failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, upstreamError("failed to verify payment", err)
	}

	result, err := s.Settle(ctx, invoiceID, verified)
	if err != nil {
		s.log.Error("verification settlement failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, internalError("failed to update payment", err)
	}

	return &VerifyResult{Status: result.Status, Data: verified}, nil
}

// Settle applies a gateway result to the payment identified by invoiceID.
// It is idempotent: only the first caller that moves the payment out of pending applies
// order completion and invoice creation.
func (s *PaymentService) Settle(ctx context.Context, invoiceID string, gp *GatewayPayment) (*SettleResult, error) {
	status := MapGatewayStatus(gp.Status)

	raw, err := json.Marshal(gp)
	if err != nil {
		return nil, fmt.Errorf("encode gateway payload: %w", err)
	}
	details := repository.PaymentDetails{
		TransactionID: gp.TransactionID,
		PaymentMethod: gp.PaymentMethod,
		SenderNumber:  gp.SenderNumber,
		Fee:           gp.Fee.Decimal,
		Metadata:      datatypes.JSON(raw),
	}

	if status == models.PaymentStatusPending {
		if err := s.payments.RefreshPendingPayment(ctx, invoiceID, details); err != nil {
			return nil, fmt.Errorf("refresh pending payment: %w", err)
		}
		payment, err := s.payments.FindPaymentByInvoiceID(ctx, invoiceID)
		if err != nil {
			return nil, fmt.Errorf("reload payment: %w", err)
		}
		return &SettleResult{Payment: payment, Status: payment.Status}, nil
	}

	now := s.now()
	settlement := repository.Settlement{
		InvoiceID: invoiceID,
		Status:    status,
		Details:   details,
		PaidAt:    now,
	}

	if status == models.PaymentStatusCompleted {
		current, err := s.payments.FindPaymentByInvoiceID(ctx, invoiceID)
		if err != nil {
			return nil, fmt.Errorf("load payment: %w", err)
		}
		settlement.UserID = current.UserID
		if orderID, err := uuid.Parse(current.OrderID); err == nil {
			settlement.OrderID = &orderID
			settlement.OrderStart = now
			settlement.OrderExpiry = now.AddDate(orderTermLength, 0, 0)
		} else {
			s.log.Warn("payment order reference is not an order id, skipping order completion",
				zap.String("invoice_id", invoiceID),
				zap.String("order_ref", current.OrderID),
			)
		}

		number, err := utils.GenerateInvoiceNumber(now)
		if err != nil {
			return nil, fmt.Errorf("generate invoice number: %w", err)
		}
		settlement.InvoiceNumber = number
	}

	outcome, err := s.payments.ApplySettlement(ctx, settlement)
	if err != nil {
		return nil, fmt.Errorf("apply settlement: %w", err)
	}

	result := &SettleResult{
		Payment: outcome.Payment,
		Status:  outcome.Payment.Status,
		Applied: outcome.Applied,
		Invoice: outcome.Invoice,
	}

	if outcome.Applied {
		metrics.PaymentSettlementsTotal.WithLabelValues(status).Inc()
		s.log.Info("payment settled",
			zap.String("invoice_id", invoiceID),
			zap.String("status", status),
			zap.Bool("order_completed", outcome.OrderCompleted),
		)
		if settlement.OrderID != nil && !outcome.OrderCompleted {
			s.log.Warn("order was not pending or belongs to another user, left unchanged",
				zap.String("invoice_id", invoiceID),
				zap.String("order_id", settlement.OrderID.String()),
			)
		}
		s.afterSettlement(ctx, outcome, gp)
	}

	return result, nil
}

func (s *PaymentService) afterSettlement(ctx context.Context, outcome *repository.SettlementOutcome, gp *GatewayPayment) {
	payment := outcome.Payment

	routingKey := events.PaymentFailed
	if payment.Status == models.PaymentStatusCompleted {
		routingKey = events.PaymentCompleted
	}
	event := map[string]any{
		"payment_id":     payment.ID,
		"invoice_id":     payment.InvoiceID,
		"order_id":       payment.OrderID,
		"user_id":        payment.UserID,
		"status":         payment.Status,
		"amount":         payment.Amount,
		"transaction_id": payment.TransactionID,
	}
	if outcome.Invoice != nil {
		event["invoice_number"] = outcome.Invoice.InvoiceNumber
	}
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("routing_key", routingKey), zap.Error(err))
	}

	if s.notifier == nil || payment.Status != models.PaymentStatusCompleted {
		return
	}

	completion := PaymentCompletion{
		InvoiceID:     payment.InvoiceID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		PaymentMethod: payment.PaymentMethod,
		TransactionID: payment.TransactionID,
		CustomerEmail: gp.Email,
	}
	if outcome.Invoice != nil {
		completion.InvoiceNumber = outcome.Invoice.InvoiceNumber
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notificationDeadline)
		defer cancel()
		if err := s.notifier.PaymentCompleted(ctx, completion); err != nil {
			s.log.Warn("payment completion notification failed", zap.String("invoice_id", completion.InvoiceID), zap.Error(err))
		}
	})
}

// ListPayments returns a page of payments. A nil user lists all payments.
func (s *PaymentService) ListPayments(ctx context.Context, p repository.ListParams) ([]models.Payment, int64, error) {
	return s.payments.ListPayments(ctx, p)
}

// ListInvoices returns a page of invoices. A nil user lists all invoices.
func (s *PaymentService) ListInvoices(ctx context.Context, p repository.ListParams) ([]models.Invoice, int64, error) {
	return s.payments.ListInvoices(ctx, p)
}

// ListWebhookLogs returns a page of webhook log entries.
func (s *PaymentService) ListWebhookLogs(ctx context.Context, p repository.ListParams) ([]models.WebhookLog, int64, error) {
	return s.webhooks.ListWebhookLogs(ctx, p)
}

func (s *PaymentService) markWebhook(ctx context.Context, entry *models.WebhookLog, status, note string) {
	if entry.ID == uuid.Nil {
		return
	}
	if err := s.webhooks.MarkWebhookLog(ctx, entry.ID, status, truncate(note, 1024)); err != nil {
		s.log.Error("failed to update webhook log", zap.String("webhook_log_id", entry.ID.String()), zap.Error(err))
	}
}

func (s *PaymentService) archivePayload(ctx context.Context, entry *models.WebhookLog, body []byte) {
	if s.archive == nil || entry.ID == uuid.Nil {
		return
	}
	key := fmt.Sprintf("webhooks/%s/%s.json", s.now().UTC().Format("2006/01/02"), entry.ID)
	if err := s.archive.Put(ctx, key, body, "application/json"); err != nil {
		s.log.Warn("failed to archive webhook payload", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.webhooks.SetWebhookArchiveKey(ctx, entry.ID, key); err != nil {
		s.log.Warn("failed to store webhook archive key", zap.Error(err))
		return
	}
	entry.ArchiveKey = key
}

func payloadJSON(body []byte) datatypes.JSON {
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return datatypes.JSON(wrapped)
}

func invoiceIDHint(body []byte) string {
	var hint struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.Unmarshal(body, &hint); err != nil {
		return ""
	}
	return truncate(strings.TrimSpace(hint.InvoiceID), 128)
}
