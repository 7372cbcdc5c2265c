package audit

import (
	"context"
	"errors"
	"time"

	"call-scheduler/internal/provisioning"
	"call-scheduler/internal/tasks"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f ListFilter) ([]Event, error)
}

// Service records task lifecycle, provisioning and admin events.
//
// IMPORTANT:
// - Audit is internal-only. Tenant users see task status, not the audit trail.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Event, error) {
	if f.TenantID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, f)
}

// LogAdminAction records an operator action such as a manual repair.
func (s *Service) LogAdminAction(ctx context.Context, tenantID, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// RecordTaskEvent implements tasks.EventRecorder.
func (s *Service) RecordTaskEvent(ctx context.Context, tenantID, taskID string, status tasks.Status, message string) error {
	return s.Append(ctx, Event{
		TenantID: tenantID,
		Type:     EventTypeTaskStatus,
		TaskID:   taskID,
		Step:     string(status),
		Message:  message,
	})
}

// RecordProvisioningStep implements provisioning.StepRecorder.
func (s *Service) RecordProvisioningStep(ctx context.Context, tenantID, step, status, detail string) error {
	return s.Append(ctx, Event{
		TenantID: tenantID,
		Type:     EventTypeProvisioningStep,
		Step:     step,
		Message:  status + ": " + detail,
	})
}

var (
	_ tasks.EventRecorder       = (*Service)(nil)
	_ provisioning.StepRecorder = (*Service)(nil)
)
