package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/hostcore/internal/models"
)

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return translate(s.db.WithContext(ctx).Create(payment).Error)
}

func (s *Store) FindPaymentByInvoiceID(ctx context.Context, invoiceID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (s *Store) RefreshPendingPayment(ctx context.Context, invoiceID string, details PaymentDetails) error {
	return s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("invoice_id = ? AND status = ?", invoiceID, models.PaymentStatusPending).
		Updates(detailColumns(details)).Error
}

// ApplySettlement runs the conditional status update, order completion and invoice insert in one
// transaction. Only the caller whose update matched a pending row gets Applied=true.
func (s *Store) ApplySettlement(ctx context.Context, st Settlement) (*SettlementOutcome, error) {
	outcome := &SettlementOutcome{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := detailColumns(st.Details)
		updates["status"] = st.Status
		if st.Status == models.PaymentStatusCompleted {
			updates["paid_at"] = st.PaidAt
		}

		res := tx.Model(&models.Payment{}).
			Where("invoice_id = ? AND status = ?", st.InvoiceID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		var payment models.Payment
		if err := tx.Where("invoice_id = ?", st.InvoiceID).First(&payment).Error; err != nil {
			return translate(err)
		}
		outcome.Payment = &payment

		if res.RowsAffected == 0 {
			return nil
		}
		outcome.Applied = true

		if st.Status != models.PaymentStatusCompleted {
			return nil
		}

		if st.OrderID != nil {
			orderRes := tx.Model(&models.Order{}).
				Where("id = ? AND user_id = ? AND status = ?", *st.OrderID, st.UserID, models.OrderStatusPending).
				Updates(map[string]any{
					"status":      models.OrderStatusCompleted,
					"start_date":  st.OrderStart,
					"expiry_date": st.OrderExpiry,
				})
			if orderRes.Error != nil {
				return orderRes.Error
			}
			outcome.OrderCompleted = orderRes.RowsAffected > 0
		}

		paidAt := st.PaidAt
		invoice := models.Invoice{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			InvoiceNumber: st.InvoiceNumber,
			Amount:        payment.Amount,
			Status:        models.InvoiceStatusPaid,
			PaidAt:        &paidAt,
		}
		invRes := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).Create(&invoice)
		if invRes.Error != nil {
			return invRes.Error
		}
		if invRes.RowsAffected > 0 {
			outcome.Invoice = &invoice
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Store) ListPayments(ctx context.Context, p ListParams) ([]models.Payment, int64, error) {
	return list[models.Payment](ctx, s.db, p)
}

func (s *Store) ListInvoices(ctx context.Context, p ListParams) ([]models.Invoice, int64, error) {
	return list[models.Invoice](ctx, s.db, p)
}

func detailColumns(d PaymentDetails) map[string]any {
	cols := map[string]any{
		"transaction_id": d.TransactionID,
		"payment_method": d.PaymentMethod,
		"sender_number":  d.SenderNumber,
		"fee":            d.Fee,
	}
	if len(d.Metadata) > 0 {
		cols["metadata"] = d.Metadata
	}
	return cols
}

func (s *Store) CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) MarkWebhookLog(ctx context.Context, id uuid.UUID, status, note string) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"note":         note,
			"processed_at": &now,
		}).Error
}

func (s *Store) SetWebhookArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	return s.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Update("archive_key", key).Error
}

func (s *Store) ListWebhookLogs(ctx context.Context, p ListParams) ([]models.WebhookLog, int64, error) {
	p.UserID = nil
	return list[models.WebhookLog](ctx, s.db, p)
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}

func (s *Store) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, p ListParams) ([]models.Order, int64, error) {
	return list[models.Order](ctx, s.db, p)
}
