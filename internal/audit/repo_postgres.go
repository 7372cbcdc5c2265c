package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresRepo appends to audit_events. It exposes no update or delete.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (id, tenant_id, type, actor_user_id, actor_role, ip_address, task_id, step, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)`,
		e.ID, e.TenantID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.TaskID, e.Step, e.Message, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Event, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	if f.TaskID != "" {
		args = append(args, f.TaskID)
		where = append(where, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	q := `
SELECT id, tenant_id, type, actor_user_id, actor_role, ip_address, task_id, step, message, COALESCE(metadata::text, ''), created_at
FROM audit_events
WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
ORDER BY created_at DESC
LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.TenantID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.TaskID, &e.Step, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
