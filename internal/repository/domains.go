package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/hostcore/internal/models"
)

func (s *Store) CreateDomain(ctx context.Context, domain *models.Domain) error {
	return translate(s.db.WithContext(ctx).Create(domain).Error)
}

func (s *Store) FindDomain(ctx context.Context, id uuid.UUID) (*models.Domain, error) {
	var domain models.Domain
	if err := s.db.WithContext(ctx).First(&domain, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &domain, nil
}

func (s *Store) FindDomainByName(ctx context.Context, name string) (*models.Domain, error) {
	var domain models.Domain
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&domain).Error; err != nil {
		return nil, translate(err)
	}
	return &domain, nil
}

func (s *Store) TransitionDomain(ctx context.Context, domain *models.Domain, from []string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Domain{}).
		Where("id = ? AND status IN ?", domain.ID, from).
		Select("*").
		Omit("id", "created_at").
		Updates(domain)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListDomains(ctx context.Context, p ListParams) ([]models.Domain, int64, error) {
	return list[models.Domain](ctx, s.db, p)
}

func (s *Store) CreateQueueEntry(ctx context.Context, entry *models.DomainProvisioningQueueEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) UpdateQueueEntry(ctx context.Context, entry *models.DomainProvisioningQueueEntry) error {
	return s.db.WithContext(ctx).Save(entry).Error
}

func (s *Store) ListQueueEntries(ctx context.Context, p ListParams) ([]models.DomainProvisioningQueueEntry, int64, error) {
	p.UserID = nil
	return list[models.DomainProvisioningQueueEntry](ctx, s.db, p)
}
