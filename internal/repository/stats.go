package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/example/hostcore/internal/models"
)

type sumRow struct {
	Total decimal.Decimal
}

type statusCount struct {
	Status string
	Count  int64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&models.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}

	var err error
	if stats.OrdersByStatus, err = s.countByStatus(ctx, &models.Order{}); err != nil {
		return nil, err
	}
	if stats.PaymentsByStatus, err = s.countByStatus(ctx, &models.Payment{}); err != nil {
		return nil, err
	}
	if stats.DomainsByStatus, err = s.countByStatus(ctx, &models.Domain{}); err != nil {
		return nil, err
	}

	var revenue, today sumRow
	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusCompleted).
		Select("COALESCE(SUM(amount), 0) AS total").
		Scan(&revenue).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Payment{}).
		Where("status = ? AND paid_at::date = CURRENT_DATE", models.PaymentStatusCompleted).
		Select("COALESCE(SUM(amount), 0) AS total").
		Scan(&today).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.WebhookLog{}).
		Where("status = ?", models.WebhookStatusFailed).
		Count(&stats.FailedWebhooks).Error; err != nil {
		return nil, err
	}

	stats.Revenue = revenue.Total.Round(2)
	stats.RevenueToday = today.Total.Round(2)
	return stats, nil
}

func (s *Store) countByStatus(ctx context.Context, model any) (map[string]int64, error) {
	var rows []statusCount
	if err := s.db.WithContext(ctx).Model(model).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
