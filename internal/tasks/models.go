package tasks

import (
	"time"

	"call-scheduler/internal/assistants"
)

// Task is a tenant's request to call a contact at a future time.
//
// Invariants:
// - Assistant references exactly one assistant (either kind).
// - Status only moves scheduled -> pending -> completed|failed, or to cancelled
//   from scheduled|pending. Terminal states never change again.
// - Only the scheduler moves a task out of scheduled, and only via Claim.
type Task struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	ContactID string `json:"contact_id" db:"contact_id"`

	Assistant assistants.Ref `json:"assistant" db:"-"`

	ScheduledTime time.Time `json:"scheduled_time" db:"scheduled_time"`
	Status        Status    `json:"status" db:"status"`

	Title          string    `json:"title" db:"title"`
	Description    string    `json:"description,omitempty" db:"description"`
	CustomGreeting string    `json:"custom_greeting,omitempty" db:"custom_greeting"`
	CreatedBy      CreatedBy `json:"created_by" db:"created_by"`

	ClaimedAt       *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CallSessionID   string     `json:"call_session_id,omitempty" db:"call_session_id"`
	CallStartedAt   *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`
	CallCompletedAt *time.Time `json:"call_completed_at,omitempty" db:"call_completed_at"`
	CallResult      string     `json:"call_result,omitempty" db:"call_result"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Editable reports whether user edits and cancellation are allowed.
func (s Status) Editable() bool {
	return s == StatusScheduled || s == StatusPending
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CreatedBy records who scheduled the task.
type CreatedBy string

const (
	CreatedByUser      CreatedBy = "user"
	CreatedByAssistant CreatedBy = "assistant"
)

// ListFilter scopes task listings. TenantID is required.
type ListFilter struct {
	TenantID string
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
}
