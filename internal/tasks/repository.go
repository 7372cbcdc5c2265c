package tasks

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("tasks: not found")
	ErrInvalidArgument = errors.New("tasks: invalid argument")
	ErrNotEditable     = errors.New("tasks: task is no longer editable")
	// ErrNotPending is returned when an outcome is recorded for a task that
	// left pending in the meantime (for example, cancelled by the user).
	ErrNotPending = errors.New("tasks: task is not pending")
)

// Repository is the TaskStore.
//
// Every tenant-facing read and write is scoped by tenant_id. The scheduler
// operations (FetchDue, Claim, Complete, Fail, FailStalePending) are global.
type Repository interface {
	Insert(ctx context.Context, t Task) error
	Get(ctx context.Context, tenantID, id string) (Task, error)
	List(ctx context.Context, f ListFilter) ([]Task, error)

	// Update persists user edits only while the stored task is still editable.
	Update(ctx context.Context, t Task) error
	// Cancel moves an editable task to cancelled.
	Cancel(ctx context.Context, tenantID, id string, now time.Time) error
	Delete(ctx context.Context, tenantID, id string) error

	// FetchDue returns scheduled tasks whose time has come, oldest first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
	// Claim atomically moves a task from scheduled to pending. Exactly one
	// concurrent caller gets true.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	// Complete and Fail move a pending task to its terminal state and stamp
	// call_completed_at. They return ErrNotPending when the task is not pending,
	// including when it no longer exists.
	Complete(ctx context.Context, id, sessionID, result string, now time.Time) error
	Fail(ctx context.Context, id, reason string, now time.Time) error
	// FailStalePending fails tasks stuck in pending since before olderThan.
	FailStalePending(ctx context.Context, olderThan time.Time, reason string, now time.Time) ([]Task, error)

	CountByStatus(ctx context.Context, tenantID string, from, to time.Time) (map[Status]int, error)
}
