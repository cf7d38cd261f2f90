package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order is a purchase intent for a hosting plan, a domain or another product.
type Order struct {
	BaseModel
	UserID     uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	Status     string          `gorm:"index" json:"status"`
	ItemName   string          `json:"item_name"`
	ItemType   string          `json:"item_type"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Currency   string          `json:"currency"`
	Metadata   datatypes.JSON  `json:"metadata,omitempty"`
	StartDate  *time.Time      `json:"start_date"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}
