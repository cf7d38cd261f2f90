package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

const (
	DomainStatusPendingRegistration = "pending_registration"
	DomainStatusActive              = "active"
	DomainStatusPendingRenewal      = "pending_renewal"
	DomainStatusTransferIn          = "transfer_in"
	DomainStatusTransferOut         = "transfer_out"
	DomainStatusCancelled           = "cancelled"

	NameserverStatusActive      = "active"
	NameserverStatusPropagating = "propagating"

	QueueActionRegister          = "register"
	QueueActionUpdateNameservers = "update_nameservers"

	QueueStatusPending   = "pending"
	QueueStatusCompleted = "completed"
	QueueStatusFailed    = "failed"
)

// DomainStatuses is the closed set of values a domain status may take.
var DomainStatuses = []string{
	DomainStatusPendingRegistration,
	DomainStatusActive,
	DomainStatusPendingRenewal,
	DomainStatusTransferIn,
	DomainStatusTransferOut,
	DomainStatusCancelled,
}

// Domain is a registrable name managed for a customer.
type Domain struct {
	BaseModel
	UserID            uuid.UUID      `gorm:"type:uuid;index" json:"user_id"`
	OrderID           *uuid.UUID     `gorm:"type:uuid;index" json:"order_id"`
	Name              string         `gorm:"uniqueIndex;not null" json:"domain_name"`
	Extension         string         `json:"extension"`
	Status            string         `gorm:"index" json:"status"`
	Nameservers       pq.StringArray `gorm:"type:text[]" json:"nameservers"`
	NameserverStatus  string         `json:"nameserver_status"`
	AutoRenew         bool           `json:"auto_renew"`
	AuthCode          string         `json:"-"`
	RegistrationYears int            `json:"registration_years"`
	RegisteredAt      *time.Time     `json:"registered_at"`
	ExpiresAt         *time.Time     `json:"expires_at"`
	RegistrarRef      string         `json:"registrar_ref,omitempty"`
	LastSyncedAt      *time.Time     `json:"last_synced_at"`
	SyncError         string         `json:"sync_error,omitempty"`
}

// DomainProvisioningQueueEntry records one registrar action attempt.
type DomainProvisioningQueueEntry struct {
	BaseModel
	DomainID        uuid.UUID      `gorm:"type:uuid;index" json:"domain_id"`
	OrderID         *uuid.UUID     `gorm:"type:uuid" json:"order_id"`
	Action          string         `json:"action"`
	Status          string         `gorm:"index" json:"status"`
	Priority        int            `json:"priority"`
	RequestPayload  datatypes.JSON `json:"request_payload,omitempty"`
	ResponsePayload datatypes.JSON `json:"response_payload,omitempty"`
	Attempts        int            `json:"attempts"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at"`
}

func (DomainProvisioningQueueEntry) TableName() string {
	return "domain_provisioning_queue"
}
