package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresRepo stores tasks in scheduled_tasks (see internal/migrations).
//
// Claim and the outcome transitions are single conditional UPDATEs keyed on
// the current status, so concurrent schedulers never both win a task.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const taskColumns = `
id, tenant_id, contact_id, COALESCE(openai_assistant_id, ''), COALESCE(gemini_assistant_id, ''),
scheduled_time, status, title, description, custom_greeting, created_by,
claimed_at, call_session_id, call_started_at, call_completed_at, call_result,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t                           Task
		claimed, started, completed sql.NullTime
	)
	if err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.ContactID,
		&t.Assistant.OpenAIAssistantID,
		&t.Assistant.GeminiAssistantID,
		&t.ScheduledTime,
		&t.Status,
		&t.Title,
		&t.Description,
		&t.CustomGreeting,
		&t.CreatedBy,
		&claimed,
		&t.CallSessionID,
		&started,
		&completed,
		&t.CallResult,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	t.ClaimedAt = timePtr(claimed)
	t.CallStartedAt = timePtr(started)
	t.CallCompletedAt = timePtr(completed)
	return t, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func (r *PostgresRepo) Insert(ctx context.Context, t Task) error {
	const q = `
INSERT INTO scheduled_tasks (
  id, tenant_id, contact_id, openai_assistant_id, gemini_assistant_id,
  scheduled_time, status, title, description, custom_greeting, created_by,
  call_session_id, call_result, created_at, updated_at
) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9,$10,$11,'','',$12,$13)
`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.TenantID, t.ContactID, t.Assistant.OpenAIAssistantID, t.Assistant.GeminiAssistantID,
		t.ScheduledTime, string(t.Status), t.Title, t.Description, t.CustomGreeting, string(t.CreatedBy),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Task, error) {
	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE tenant_id = $1 AND id = $2`
	return scanTask(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Task, error) {
	if f.TenantID == "" {
		return nil, ErrInvalidArgument
	}
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("scheduled_time >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("scheduled_time < $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY scheduled_time LIMIT $%d`, len(args))
	return r.query(ctx, q, args...)
}

func (r *PostgresRepo) Update(ctx context.Context, t Task) error {
	const q = `
UPDATE scheduled_tasks
SET contact_id = $3, openai_assistant_id = NULLIF($4,''), gemini_assistant_id = NULLIF($5,''),
    scheduled_time = $6, title = $7, description = $8, custom_greeting = $9, updated_at = $10
WHERE tenant_id = $1 AND id = $2 AND status IN ('scheduled', 'pending')
`
	res, err := r.db.ExecContext(ctx, q,
		t.TenantID, t.ID, t.ContactID, t.Assistant.OpenAIAssistantID, t.Assistant.GeminiAssistantID,
		t.ScheduledTime, t.Title, t.Description, t.CustomGreeting, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return r.explainNoRows(ctx, res, t.TenantID, t.ID, ErrNotEditable)
}

func (r *PostgresRepo) Cancel(ctx context.Context, tenantID, id string, now time.Time) error {
	const q = `
UPDATE scheduled_tasks SET status = 'cancelled', updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND status IN ('scheduled', 'pending')
`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, now)
	if err != nil {
		return err
	}
	return r.explainNoRows(ctx, res, tenantID, id, ErrNotEditable)
}

func (r *PostgresRepo) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	q := `SELECT ` + taskColumns + `
FROM scheduled_tasks
WHERE status = 'scheduled' AND scheduled_time <= $1
ORDER BY scheduled_time
LIMIT $2`
	return r.query(ctx, q, now, limit)
}

func (r *PostgresRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `
UPDATE scheduled_tasks SET status = 'pending', claimed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'scheduled'
`
	res, err := r.db.ExecContext(ctx, q, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id, sessionID, result string, now time.Time) error {
	const q = `
UPDATE scheduled_tasks
SET status = 'completed', call_session_id = $2, call_result = $3,
    call_started_at = $4, call_completed_at = $4, updated_at = $4
WHERE id = $1 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, id, sessionID, result, now)
	if err != nil {
		return err
	}
	return expectTransition(res)
}

func (r *PostgresRepo) Fail(ctx context.Context, id, reason string, now time.Time) error {
	const q = `
UPDATE scheduled_tasks
SET status = 'failed', call_result = $2, call_completed_at = $3, updated_at = $3
WHERE id = $1 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, id, reason, now)
	if err != nil {
		return err
	}
	return expectTransition(res)
}

func (r *PostgresRepo) FailStalePending(ctx context.Context, olderThan time.Time, reason string, now time.Time) ([]Task, error) {
	q := `
UPDATE scheduled_tasks
SET status = 'failed', call_result = $2, call_completed_at = $3, updated_at = $3
WHERE status = 'pending' AND claimed_at < $1
RETURNING ` + taskColumns
	return r.query(ctx, q, olderThan, reason, now)
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, tenantID string, from, to time.Time) (map[Status]int, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT status, COUNT(*)
FROM scheduled_tasks
WHERE tenant_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// explainNoRows turns a zero-row conditional update into ErrNotFound or the
// given state error.
func (r *PostgresRepo) explainNoRows(ctx context.Context, res sql.Result, tenantID, id string, stateErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return stateErr
}

func expectTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}
