package mocks

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
)

// Store is an in-memory implementation of every repository interface.
// Errors registered with FailOn are returned by the named method instead of running it.
type Store struct {
	mu sync.Mutex

	Payments  map[uuid.UUID]*models.Payment
	Invoices  map[uuid.UUID]*models.Invoice
	Webhooks  map[uuid.UUID]*models.WebhookLog
	Orders    map[uuid.UUID]*models.Order
	Domains   map[uuid.UUID]*models.Domain
	Queue     map[uuid.UUID]*models.DomainProvisioningQueueEntry
	AuditLogs []models.AuditLog
	Users     map[uuid.UUID]*models.User
	Roles     map[uuid.UUID][]string
	attempts  map[string][]time.Time
	lockouts  map[string]time.Time
	failures  map[string]error
	calls     map[string]int
	Now       func() time.Time
}

var _ interface {
	repository.PaymentRepository
	repository.WebhookLogRepository
	repository.OrderRepository
	repository.DomainRepository
	repository.AuditRepository
	repository.RateLimitRepository
	repository.UserRepository
	repository.StatsRepository
} = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		Payments: map[uuid.UUID]*models.Payment{},
		Invoices: map[uuid.UUID]*models.Invoice{},
		Webhooks: map[uuid.UUID]*models.WebhookLog{},
		Orders:   map[uuid.UUID]*models.Order{},
		Domains:  map[uuid.UUID]*models.Domain{},
		Queue:    map[uuid.UUID]*models.DomainProvisioningQueueEntry{},
		Users:    map[uuid.UUID]*models.User{},
		Roles:    map[uuid.UUID][]string{},
		attempts: map[string][]time.Time{},
		lockouts: map[string]time.Time{},
		failures: map[string]error{},
		calls:    map[string]int{},
		Now:      time.Now,
	}
}

// FailOn makes method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls reports how many times method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// called counts the call and returns the injected failure. s.mu must be held.
func (s *Store) called(method string) error {
	s.calls[method]++
	return s.failures[method]
}

func stamp(b *models.BaseModel, now time.Time) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func page[T any](rows []T, p repository.ListParams) ([]T, int64) {
	total := int64(len(rows))
	start := min(p.Offset, len(rows))
	end := len(rows)
	if p.Limit > 0 {
		end = min(start+p.Limit, len(rows))
	}
	return rows[start:end], total
}

func collect[T any](m map[uuid.UUID]*T, keep func(*T) bool, created func(*T) time.Time) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return created(&out[i]).After(created(&out[j])) })
	return out
}

func ownedBy(p repository.ListParams, owner uuid.UUID) bool {
	return p.UserID == nil || *p.UserID == owner
}

// Payments

func (s *Store) CreatePayment(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreatePayment"); err != nil {
		return err
	}
	for _, p := range s.Payments {
		if p.InvoiceID == payment.InvoiceID {
			return repository.ErrDuplicate
		}
	}
	stamp(&payment.BaseModel, s.Now())
	cp := *payment
	s.Payments[cp.ID] = &cp
	return nil
}

func (s *Store) FindPaymentByInvoiceID(_ context.Context, invoiceID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindPaymentByInvoiceID"); err != nil {
		return nil, err
	}
	for _, p := range s.Payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// PaymentByInvoice returns the stored payment without touching call counters.
func (s *Store) PaymentByInvoice(invoiceID string) *models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			return &cp
		}
	}
	return nil
}

func (s *Store) RefreshPendingPayment(_ context.Context, invoiceID string, d repository.PaymentDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("RefreshPendingPayment"); err != nil {
		return err
	}
	for _, p := range s.Payments {
		if p.InvoiceID == invoiceID && p.Status == models.PaymentStatusPending {
			applyDetails(p, d)
			p.UpdatedAt = s.Now()
		}
	}
	return nil
}

func applyDetails(p *models.Payment, d repository.PaymentDetails) {
	p.TransactionID = d.TransactionID
	p.PaymentMethod = d.PaymentMethod
	p.SenderNumber = d.SenderNumber
	p.Fee = d.Fee
	if len(d.Metadata) > 0 {
		p.Metadata = d.Metadata
	}
}

func (s *Store) ApplySettlement(_ context.Context, st repository.Settlement) (*repository.SettlementOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ApplySettlement"); err != nil {
		return nil, err
	}

	var payment *models.Payment
	for _, p := range s.Payments {
		if p.InvoiceID == st.InvoiceID {
			payment = p
			break
		}
	}
	if payment == nil {
		return nil, repository.ErrNotFound
	}

	outcome := &repository.SettlementOutcome{}
	if payment.Status != models.PaymentStatusPending {
		cp := *payment
		outcome.Payment = &cp
		return outcome, nil
	}

	applyDetails(payment, st.Details)
	payment.Status = st.Status
	payment.UpdatedAt = s.Now()
	outcome.Applied = true

	if st.Status == models.PaymentStatusCompleted {
		paidAt := st.PaidAt
		payment.PaidAt = &paidAt

		if st.OrderID != nil {
			if order, ok := s.Orders[*st.OrderID]; ok && order.UserID == st.UserID && order.Status == models.OrderStatusPending {
				start, expiry := st.OrderStart, st.OrderExpiry
				order.Status = models.OrderStatusCompleted
				order.StartDate = &start
				order.ExpiryDate = &expiry
				outcome.OrderCompleted = true
			}
		}

		exists := false
		for _, inv := range s.Invoices {
			if inv.PaymentID == payment.ID {
				exists = true
				break
			}
		}
		if !exists {
			invoice := &models.Invoice{
				PaymentID:     payment.ID,
				OrderID:       payment.OrderID,
				UserID:        payment.UserID,
				InvoiceNumber: st.InvoiceNumber,
				Amount:        payment.Amount,
				Status:        models.InvoiceStatusPaid,
				PaidAt:        &paidAt,
			}
			stamp(&invoice.BaseModel, s.Now())
			s.Invoices[invoice.ID] = invoice
			cp := *invoice
			outcome.Invoice = &cp
		}
	}

	cp := *payment
	outcome.Payment = &cp
	return outcome, nil
}

func (s *Store) ListPayments(_ context.Context, p repository.ListParams) ([]models.Payment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListPayments"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Payments, func(v *models.Payment) bool { return ownedBy(p, v.UserID) },
		func(v *models.Payment) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

func (s *Store) ListInvoices(_ context.Context, p repository.ListParams) ([]models.Invoice, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListInvoices"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Invoices, func(v *models.Invoice) bool { return ownedBy(p, v.UserID) },
		func(v *models.Invoice) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

// InvoicesForPayment returns every invoice recorded against paymentID.
func (s *Store) InvoicesForPayment(paymentID uuid.UUID) []models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invoice
	for _, inv := range s.Invoices {
		if inv.PaymentID == paymentID {
			out = append(out, *inv)
		}
	}
	return out
}

// Webhook logs

func (s *Store) CreateWebhookLog(_ context.Context, entry *models.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreateWebhookLog"); err != nil {
		return err
	}
	stamp(&entry.BaseModel, s.Now())
	cp := *entry
	s.Webhooks[cp.ID] = &cp
	return nil
}

func (s *Store) MarkWebhookLog(_ context.Context, id uuid.UUID, status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("MarkWebhookLog"); err != nil {
		return err
	}
	entry, ok := s.Webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := s.Now()
	entry.Status = status
	entry.Note = note
	entry.ProcessedAt = &now
	return nil
}

func (s *Store) SetWebhookArchiveKey(_ context.Context, id uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("SetWebhookArchiveKey"); err != nil {
		return err
	}
	entry, ok := s.Webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	entry.ArchiveKey = key
	return nil
}

func (s *Store) ListWebhookLogs(_ context.Context, p repository.ListParams) ([]models.WebhookLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListWebhookLogs"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Webhooks, nil, func(v *models.WebhookLog) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

// WebhookLogList returns every webhook log, newest first.
func (s *Store) WebhookLogList() []models.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collect(s.Webhooks, nil, func(v *models.WebhookLog) time.Time { return v.CreatedAt })
}

// Orders

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreateOrder"); err != nil {
		return err
	}
	stamp(&order.BaseModel, s.Now())
	cp := *order
	s.Orders[cp.ID] = &cp
	return nil
}

func (s *Store) FindOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindOrder"); err != nil {
		return nil, err
	}
	order, ok := s.Orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *Store) ListOrders(_ context.Context, p repository.ListParams) ([]models.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListOrders"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Orders, func(v *models.Order) bool { return ownedBy(p, v.UserID) },
		func(v *models.Order) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

// Domains

func (s *Store) CreateDomain(_ context.Context, domain *models.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreateDomain"); err != nil {
		return err
	}
	for _, d := range s.Domains {
		if d.Name == domain.Name {
			return repository.ErrDuplicate
		}
	}
	stamp(&domain.BaseModel, s.Now())
	cp := *domain
	cp.Nameservers = slices.Clone(domain.Nameservers)
	s.Domains[cp.ID] = &cp
	return nil
}

func (s *Store) FindDomain(_ context.Context, id uuid.UUID) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindDomain"); err != nil {
		return nil, err
	}
	d, ok := s.Domains[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	cp.Nameservers = slices.Clone(d.Nameservers)
	return &cp, nil
}

func (s *Store) FindDomainByName(_ context.Context, name string) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindDomainByName"); err != nil {
		return nil, err
	}
	for _, d := range s.Domains {
		if d.Name == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) TransitionDomain(_ context.Context, domain *models.Domain, from []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("TransitionDomain"); err != nil {
		return false, err
	}
	stored, ok := s.Domains[domain.ID]
	if !ok || !slices.Contains(from, stored.Status) {
		return false, nil
	}
	cp := *domain
	cp.Nameservers = slices.Clone(domain.Nameservers)
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = s.Now()
	s.Domains[cp.ID] = &cp
	return true, nil
}

// Domain returns the stored domain without touching call counters.
func (s *Store) Domain(id uuid.UUID) *models.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Domains[id]
	if !ok {
		return nil
	}
	cp := *d
	cp.Nameservers = slices.Clone(d.Nameservers)
	return &cp
}

// PutDomain stores a domain directly, for test setup.
func (s *Store) PutDomain(d *models.Domain) *models.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&d.BaseModel, s.Now())
	cp := *d
	cp.Nameservers = slices.Clone(d.Nameservers)
	s.Domains[cp.ID] = &cp
	return d
}

func (s *Store) ListDomains(_ context.Context, p repository.ListParams) ([]models.Domain, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListDomains"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Domains, func(v *models.Domain) bool { return ownedBy(p, v.UserID) },
		func(v *models.Domain) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

func (s *Store) CreateQueueEntry(_ context.Context, entry *models.DomainProvisioningQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreateQueueEntry"); err != nil {
		return err
	}
	stamp(&entry.BaseModel, s.Now())
	cp := *entry
	s.Queue[cp.ID] = &cp
	return nil
}

func (s *Store) UpdateQueueEntry(_ context.Context, entry *models.DomainProvisioningQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("UpdateQueueEntry"); err != nil {
		return err
	}
	entry.UpdatedAt = s.Now()
	cp := *entry
	s.Queue[cp.ID] = &cp
	return nil
}

func (s *Store) ListQueueEntries(_ context.Context, p repository.ListParams) ([]models.DomainProvisioningQueueEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListQueueEntries"); err != nil {
		return nil, 0, err
	}
	rows := collect(s.Queue, nil, func(v *models.DomainProvisioningQueueEntry) time.Time { return v.CreatedAt })
	out, total := page(rows, p)
	return out, total, nil
}

// QueueFor returns the queue entries recorded for a domain.
func (s *Store) QueueFor(domainID uuid.UUID) []models.DomainProvisioningQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collect(s.Queue, func(v *models.DomainProvisioningQueueEntry) bool { return v.DomainID == domainID },
		func(v *models.DomainProvisioningQueueEntry) time.Time { return v.CreatedAt })
}

// Audit

func (s *Store) LogAuditEvent(_ context.Context, event repository.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("LogAuditEvent"); err != nil {
		return err
	}
	s.AuditLogs = append(s.AuditLogs, models.AuditLog{
		ID:         uuid.New(),
		ActorID:    event.ActorID,
		ActorRole:  event.ActorRole,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		CreatedAt:  s.Now(),
	})
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, p repository.ListParams) ([]models.AuditLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("ListAuditLogs"); err != nil {
		return nil, 0, err
	}
	rows := slices.Clone(s.AuditLogs)
	slices.Reverse(rows)
	out, total := page(rows, p)
	return out, total, nil
}

// AuditCount reports how many audit events were written.
func (s *Store) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AuditLogs)
}

// Rate limiting

func (s *Store) CheckRateLimit(_ context.Context, identifier string, maxAttempts, _, windowMinutes int) (*repository.RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CheckRateLimit"); err != nil {
		return nil, err
	}
	return s.rateState(identifier, maxAttempts, windowMinutes), nil
}

func (s *Store) RecordLoginAttempt(_ context.Context, identifier string, success bool, maxAttempts, lockoutMinutes, windowMinutes int) (*repository.RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("RecordLoginAttempt"); err != nil {
		return nil, err
	}

	if success {
		delete(s.attempts, identifier)
		delete(s.lockouts, identifier)
		return &repository.RateLimitState{AttemptsRemaining: maxAttempts}, nil
	}

	now := s.Now()
	s.attempts[identifier] = append(s.attempts[identifier], now)
	state := s.rateState(identifier, maxAttempts, windowMinutes)
	if state.AttemptsRemaining == 0 && !state.IsLocked {
		until := now.Add(time.Duration(lockoutMinutes) * time.Minute)
		s.lockouts[identifier] = until
		state.IsLocked = true
		state.LockedUntil = &until
	}
	return state, nil
}

func (s *Store) rateState(identifier string, maxAttempts, windowMinutes int) *repository.RateLimitState {
	now := s.Now()
	if until, ok := s.lockouts[identifier]; ok && until.After(now) {
		return &repository.RateLimitState{IsLocked: true, LockedUntil: &until}
	}
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)
	recent := 0
	for _, at := range s.attempts[identifier] {
		if at.After(since) {
			recent++
		}
	}
	return &repository.RateLimitState{AttemptsRemaining: max(maxAttempts-recent, 0)}
}

// Users

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("CreateUser"); err != nil {
		return err
	}
	for _, u := range s.Users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	stamp(&user.BaseModel, s.Now())
	cp := *user
	s.Users[cp.ID] = &cp
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range s.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindUser"); err != nil {
		return nil, err
	}
	u, ok := s.Users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindRoles(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("FindRoles"); err != nil {
		return nil, err
	}
	return slices.Clone(s.Roles[userID]), nil
}

func (s *Store) GrantRole(_ context.Context, userID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("GrantRole"); err != nil {
		return err
	}
	if !slices.Contains(s.Roles[userID], role) {
		s.Roles[userID] = append(s.Roles[userID], role)
	}
	return nil
}

// Stats

func (s *Store) Stats(_ context.Context) (*repository.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.called("Stats"); err != nil {
		return nil, err
	}

	stats := &repository.Stats{
		TotalUsers:       int64(len(s.Users)),
		OrdersByStatus:   map[string]int64{},
		PaymentsByStatus: map[string]int64{},
		DomainsByStatus:  map[string]int64{},
		Revenue:          decimal.Zero,
		RevenueToday:     decimal.Zero,
	}
	for _, o := range s.Orders {
		stats.OrdersByStatus[o.Status]++
	}
	y, m, d := s.Now().Date()
	for _, p := range s.Payments {
		stats.PaymentsByStatus[p.Status]++
		if p.Status != models.PaymentStatusCompleted {
			continue
		}
		stats.Revenue = stats.Revenue.Add(p.Amount)
		if p.PaidAt != nil {
			py, pm, pd := p.PaidAt.Date()
			if py == y && pm == m && pd == d {
				stats.RevenueToday = stats.RevenueToday.Add(p.Amount)
			}
		}
	}
	for _, dom := range s.Domains {
		stats.DomainsByStatus[dom.Status]++
	}
	for _, w := range s.Webhooks {
		if w.Status == models.WebhookStatusFailed {
			stats.FailedWebhooks++
		}
	}
	return stats, nil
}
