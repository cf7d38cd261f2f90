package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/hostcore/internal/models"
)

func (s *Store) LogAuditEvent(ctx context.Context, event AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	var actorID any
	if event.ActorID != nil {
		actorID = *event.ActorID
	}

	return s.db.WithContext(ctx).Exec(
		"SELECT log_audit_event(?, ?, ?, ?, ?, ?::jsonb)",
		actorID, event.ActorRole, event.Action, event.TargetType, event.TargetID, string(raw),
	).Error
}

func (s *Store) ListAuditLogs(ctx context.Context, p ListParams) ([]models.AuditLog, int64, error) {
	p.UserID = nil
	return list[models.AuditLog](ctx, s.db, p)
}
