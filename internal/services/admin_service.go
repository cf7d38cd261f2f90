package services

import (
	"context"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
)

// AdminService backs the read-only admin console endpoints that have no other owner.
type AdminService struct {
	stats repository.StatsRepository
	audit repository.AuditRepository
}

func NewAdminService(stats repository.StatsRepository, audit repository.AuditRepository) *AdminService {
	return &AdminService{stats: stats, audit: audit}
}

// Stats returns dashboard aggregates.
func (s *AdminService) Stats(ctx context.Context) (*repository.Stats, error) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return nil, internalError("failed to load stats", err)
	}
	return stats, nil
}

func (s *AdminService) ListAuditLogs(ctx context.Context, p repository.ListParams) ([]models.AuditLog, int64, error) {
	return s.audit.ListAuditLogs(ctx, p)
}
