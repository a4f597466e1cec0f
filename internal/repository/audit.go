package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, e execer, entry model.AuditEntry) error {
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	var actorID, resourceID *int64
	if entry.ActorID != 0 {
		actorID = &entry.ActorID
	}
	if entry.ResourceID != 0 {
		resourceID = &entry.ResourceID
	}

	_, err := e.Exec(ctx,
		`INSERT INTO audit_log (actor_id, action, resource, resource_id, meta, ip)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		actorID, entry.Action, entry.Resource, resourceID, meta, entry.IP,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LogAudit записывает событие в журнал аудита.
func (r *PostgresRepository) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	return insertAudit(ctx, r.pool, entry)
}
