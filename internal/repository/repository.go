package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/hostcore/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// ListParams bounds a list query. A nil UserID lists across all users.
type ListParams struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}

// PaymentDetails are the gateway-reported fields copied onto a payment.
type PaymentDetails struct {
	TransactionID string
	PaymentMethod string
	SenderNumber  string
	Fee           decimal.Decimal
	Metadata      datatypes.JSON
}

// Settlement moves a pending payment to a terminal status.
// OrderID, OrderStart, OrderExpiry and InvoiceNumber only matter when Status is completed.
// The order is completed only while it is pending and owned by UserID.
type Settlement struct {
	InvoiceID     string
	Status        string
	Details       PaymentDetails
	PaidAt        time.Time
	UserID        uuid.UUID
	OrderID       *uuid.UUID
	OrderStart    time.Time
	OrderExpiry   time.Time
	InvoiceNumber string
}

// SettlementOutcome reports what ApplySettlement changed.
// Applied is false when the payment had already left pending.
type SettlementOutcome struct {
	Applied        bool
	Payment        *models.Payment
	Invoice        *models.Invoice
	OrderCompleted bool
}

// PaymentRepository persists payments, invoices and the orders they settle.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByInvoiceID(ctx context.Context, invoiceID string) (*models.Payment, error)
	RefreshPendingPayment(ctx context.Context, invoiceID string, details PaymentDetails) error
	ApplySettlement(ctx context.Context, s Settlement) (*SettlementOutcome, error)
	ListPayments(ctx context.Context, p ListParams) ([]models.Payment, int64, error)
	ListInvoices(ctx context.Context, p ListParams) ([]models.Invoice, int64, error)
}

// WebhookLogRepository persists inbound gateway notifications.
type WebhookLogRepository interface {
	CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error
	MarkWebhookLog(ctx context.Context, id uuid.UUID, status, note string) error
	SetWebhookArchiveKey(ctx context.Context, id uuid.UUID, key string) error
	ListWebhookLogs(ctx context.Context, p ListParams) ([]models.WebhookLog, int64, error)
}

// OrderRepository persists orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, p ListParams) ([]models.Order, int64, error)
}

// DomainRepository persists domains and their provisioning queue.
type DomainRepository interface {
	CreateDomain(ctx context.Context, domain *models.Domain) error
	FindDomain(ctx context.Context, id uuid.UUID) (*models.Domain, error)
	FindDomainByName(ctx context.Context, name string) (*models.Domain, error)
	// TransitionDomain saves every field of domain only while the stored status is one of from.
	// It reports false when the stored status no longer matches.
	TransitionDomain(ctx context.Context, domain *models.Domain, from []string) (bool, error)
	ListDomains(ctx context.Context, p ListParams) ([]models.Domain, int64, error)

	CreateQueueEntry(ctx context.Context, entry *models.DomainProvisioningQueueEntry) error
	UpdateQueueEntry(ctx context.Context, entry *models.DomainProvisioningQueueEntry) error
	ListQueueEntries(ctx context.Context, p ListParams) ([]models.DomainProvisioningQueueEntry, int64, error)
}

// AuditEvent is one state-changing action to be recorded.
type AuditEvent struct {
	ActorID    *uuid.UUID
	ActorRole  string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// AuditRepository writes audit events through the log_audit_event procedure.
type AuditRepository interface {
	LogAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditLogs(ctx context.Context, p ListParams) ([]models.AuditLog, int64, error)
}

// RateLimitState is the row shape returned by the rate limit procedures.
type RateLimitState struct {
	IsLocked          bool
	AttemptsRemaining int
	LockedUntil       *time.Time
}

// RateLimitRepository calls the check_rate_limit and record_login_attempt procedures.
type RateLimitRepository interface {
	CheckRateLimit(ctx context.Context, identifier string, maxAttempts, lockoutMinutes, windowMinutes int) (*RateLimitState, error)
	RecordLoginAttempt(ctx context.Context, identifier string, success bool, maxAttempts, lockoutMinutes, windowMinutes int) (*RateLimitState, error)
}

// UserRepository persists accounts and role grants.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindRoles(ctx context.Context, userID uuid.UUID) ([]string, error)
	GrantRole(ctx context.Context, userID uuid.UUID, role string) error
}

// Stats is the aggregate shown on the admin dashboard.
type Stats struct {
	TotalUsers       int64            `json:"total_users"`
	OrdersByStatus   map[string]int64 `json:"orders_by_status"`
	PaymentsByStatus map[string]int64 `json:"payments_by_status"`
	DomainsByStatus  map[string]int64 `json:"domains_by_status"`
	Revenue          decimal.Decimal  `json:"revenue"`
	RevenueToday     decimal.Decimal  `json:"revenue_today"`
	FailedWebhooks   int64            `json:"failed_webhooks"`
}

// StatsRepository computes admin dashboard aggregates.
type StatsRepository interface {
	Stats(ctx context.Context) (*Stats, error)
}

// Store implements every repository interface on top of gorm.
type Store struct {
	db *gorm.DB
}

var _ interface {
	PaymentRepository
	WebhookLogRepository
	OrderRepository
	DomainRepository
	AuditRepository
	RateLimitRepository
	UserRepository
	StatsRepository
} = (*Store)(nil)

// New creates a gorm backed Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func scopeUser(q *gorm.DB, p ListParams) *gorm.DB {
	if p.UserID != nil {
		q = q.Where("user_id = ?", *p.UserID)
	}
	return q
}

func list[T any](ctx context.Context, db *gorm.DB, p ListParams) ([]T, int64, error) {
	var total int64
	if err := scopeUser(db.WithContext(ctx).Model(new(T)), p).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := scopeUser(db.WithContext(ctx).Model(new(T)), p).Order("created_at DESC")
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}

	rows := make([]T, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
