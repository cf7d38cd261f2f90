package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"

	InvoiceStatusPaid = "paid"

	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// Payment is one attempt to pay for an order through the gateway.
type Payment struct {
	BaseModel
	OrderID       string          `gorm:"index" json:"order_id"`
	UserID        uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	InvoiceID     string          `gorm:"uniqueIndex;not null" json:"invoice_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Status        string          `gorm:"index" json:"status"`
	TransactionID string          `json:"transaction_id"`
	PaymentMethod string          `json:"payment_method"`
	SenderNumber  string          `json:"sender_number"`
	Fee           decimal.Decimal `gorm:"type:numeric(12,2)" json:"fee"`
	PaidAt        *time.Time      `json:"paid_at"`
	Metadata      datatypes.JSON  `json:"metadata,omitempty"`
}

// IsTerminal reports whether the payment left the pending state.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}

// Invoice is the billing record created when a payment completes.
type Invoice struct {
	BaseModel
	PaymentID     uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"payment_id"`
	OrderID       string          `gorm:"index" json:"order_id"`
	UserID        uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	InvoiceNumber string          `gorm:"index" json:"invoice_number"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Status        string          `json:"status"`
	PaidAt        *time.Time      `json:"paid_at"`
}

// WebhookLog records every inbound gateway notification.
type WebhookLog struct {
	BaseModel
	Source      string         `json:"source"`
	InvoiceID   string         `gorm:"index" json:"invoice_id"`
	Status      string         `gorm:"index" json:"status"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
	Note        string         `json:"note"`
	ArchiveKey  string         `json:"archive_key,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at"`
}
