package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-scheduler/internal/assistants"
	"call-scheduler/pkg/logger"

	"github.com/google/uuid"
)

// ErrUnknownReference is returned when the contact or assistant does not
// belong to the tenant.
var ErrUnknownReference = errors.New("tasks: contact or assistant not found for tenant")

const (
	maxTitleLen       = 200
	maxDescriptionLen = 4000
	maxGreetingLen    = 1000
)

// ReferenceChecker verifies that a contact and an assistant belong to a tenant.
type ReferenceChecker interface {
	CheckReferences(ctx context.Context, tenantID, contactID string, ref assistants.Ref) error
}

// EventRecorder receives task lifecycle events. Recording is best-effort.
type EventRecorder interface {
	RecordTaskEvent(ctx context.Context, tenantID, taskID string, status Status, message string) error
}

type Service struct {
	repo   Repository
	refs   ReferenceChecker
	events EventRecorder
	clock  func() time.Time
}

func NewService(repo Repository, refs ReferenceChecker, events EventRecorder) *Service {
	return &Service{repo: repo, refs: refs, events: events, clock: time.Now}
}

type CreateTaskInput struct {
	TenantID       string
	ContactID      string
	Assistant      assistants.Ref
	ScheduledTime  time.Time
	Title          string
	Description    string
	CustomGreeting string
	CreatedBy      CreatedBy
}

// UpdateTaskInput carries a partial edit; nil fields are left unchanged.
type UpdateTaskInput struct {
	ContactID      *string
	Assistant      *assistants.Ref
	ScheduledTime  *time.Time
	Title          *string
	Description    *string
	CustomGreeting *string
}

func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.CreatedBy == "" {
		in.CreatedBy = CreatedByUser
	}
	if err := validateFields(in.TenantID, in.ContactID, in.Assistant, in.ScheduledTime, in.Title, in.Description, in.CustomGreeting); err != nil {
		return Task{}, err
	}
	if in.CreatedBy != CreatedByUser && in.CreatedBy != CreatedByAssistant {
		return Task{}, fmt.Errorf("%w: created_by must be user or assistant", ErrInvalidArgument)
	}
	if s.refs != nil {
		if err := s.refs.CheckReferences(ctx, in.TenantID, in.ContactID, in.Assistant); err != nil {
			return Task{}, err
		}
	}

	now := s.clock().UTC()
	t := Task{
		ID:             uuid.NewString(),
		TenantID:       in.TenantID,
		ContactID:      in.ContactID,
		Assistant:      in.Assistant,
		ScheduledTime:  in.ScheduledTime.UTC(),
		Status:         StatusScheduled,
		Title:          in.Title,
		Description:    in.Description,
		CustomGreeting: in.CustomGreeting,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return Task{}, fmt.Errorf("tasks: insert: %w", err)
	}

	logger.From(ctx).InfoContext(ctx, "task scheduled",
		"task_id", t.ID,
		"tenant_id", t.TenantID,
		"scheduled_time", t.ScheduledTime,
		"created_by", t.CreatedBy,
	)
	s.record(ctx, t.TenantID, t.ID, StatusScheduled, "task scheduled by "+string(t.CreatedBy))
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, tenantID, id string, in UpdateTaskInput) (Task, error) {
	if tenantID == "" || id == "" {
		return Task{}, ErrInvalidArgument
	}
	t, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Task{}, err
	}
	if !t.Status.Editable() {
		return Task{}, ErrNotEditable
	}

	refsChanged := false
	if in.ContactID != nil {
		refsChanged = refsChanged || *in.ContactID != t.ContactID
		t.ContactID = *in.ContactID
	}
	if in.Assistant != nil {
		refsChanged = refsChanged || *in.Assistant != t.Assistant
		t.Assistant = *in.Assistant
	}
	if in.ScheduledTime != nil {
		t.ScheduledTime = in.ScheduledTime.UTC()
	}
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.CustomGreeting != nil {
		t.CustomGreeting = *in.CustomGreeting
	}
	if err := validateFields(t.TenantID, t.ContactID, t.Assistant, t.ScheduledTime, t.Title, t.Description, t.CustomGreeting); err != nil {
		return Task{}, err
	}
	if refsChanged && s.refs != nil {
		if err := s.refs.CheckReferences(ctx, t.TenantID, t.ContactID, t.Assistant); err != nil {
			return Task{}, err
		}
	}

	t.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Service) CancelTask(ctx context.Context, tenantID, id string) error {
	if tenantID == "" || id == "" {
		return ErrInvalidArgument
	}
	if err := s.repo.Cancel(ctx, tenantID, id, s.clock().UTC()); err != nil {
		return err
	}
	logger.From(ctx).InfoContext(ctx, "task cancelled", "task_id", id, "tenant_id", tenantID)
	s.record(ctx, tenantID, id, StatusCancelled, "cancelled by user")
	return nil
}

// DeleteTask removes the task regardless of status.
func (s *Service) DeleteTask(ctx context.Context, tenantID, id string) error {
	if tenantID == "" || id == "" {
		return ErrInvalidArgument
	}
	return s.repo.Delete(ctx, tenantID, id)
}

func (s *Service) GetTask(ctx context.Context, tenantID, id string) (Task, error) {
	if tenantID == "" || id == "" {
		return Task{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) ListTasks(ctx context.Context, f ListFilter) ([]Task, error) {
	if f.TenantID == "" {
		return nil, ErrInvalidArgument
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, f.Status)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) record(ctx context.Context, tenantID, taskID string, status Status, msg string) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordTaskEvent(ctx, tenantID, taskID, status, msg); err != nil {
		logger.From(ctx).WarnContext(ctx, "task event not recorded", "task_id", taskID, "err", err)
	}
}

func validateFields(tenantID, contactID string, ref assistants.Ref, at time.Time, title, description, greeting string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id required", ErrInvalidArgument)
	}
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: contact_id required", ErrInvalidArgument)
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	if at.IsZero() {
		return fmt.Errorf("%w: scheduled_time required", ErrInvalidArgument)
	}
	if title == "" || len(title) > maxTitleLen {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidArgument, maxTitleLen)
	}
	if len(description) > maxDescriptionLen {
		return fmt.Errorf("%w: description too long", ErrInvalidArgument)
	}
	if len(greeting) > maxGreetingLen {
		return fmt.Errorf("%w: custom_greeting too long", ErrInvalidArgument)
	}
	return nil
}
