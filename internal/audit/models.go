package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Recording is best-effort; task dispatch and provisioning never block on it.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// Actor fields are empty for events raised by the scheduler or provisioning.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	TaskID string `json:"task_id,omitempty" db:"task_id"`
	// Step is a task status for task events and a provisioning step name for
	// provisioning events.
	Step string `json:"step,omitempty" db:"step"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction      EventType = "admin_action"
	EventTypeTaskStatus       EventType = "task_status"
	EventTypeProvisioningStep EventType = "provisioning_step"
)

// ListFilter scopes event listings. TenantID is required.
type ListFilter struct {
	TenantID string
	TaskID   string
	Type     EventType
	Limit    int
}
