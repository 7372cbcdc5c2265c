package reporting

import (
	"context"
	"errors"
	"time"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/tasks"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds summary queries so they stay index-friendly.
const maxRange = 366 * 24 * time.Hour

// TaskCounter is satisfied by tasks.Repository.
type TaskCounter interface {
	CountByStatus(ctx context.Context, tenantID string, from, to time.Time) (map[tasks.Status]int, error)
}

// AccountLister is satisfied by accounts.Registry.
type AccountLister interface {
	List(ctx context.Context) ([]accounts.TelephonyAccount, error)
}

type Service struct {
	tasks    TaskCounter
	accounts AccountLister
}

func NewService(tc TaskCounter, al AccountLister) *Service {
	return &Service{tasks: tc, accounts: al}
}

func (s *Service) TaskSummary(ctx context.Context, req TaskSummaryRequest) (TaskSummary, error) {
	if req.TenantID == "" {
		return TaskSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return TaskSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return TaskSummary{}, ErrInvalidRequest
	}
	if s.tasks == nil {
		return TaskSummary{}, errors.New("reporting: task store not configured")
	}

	counts, err := s.tasks.CountByStatus(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return TaskSummary{}, err
	}

	out := TaskSummary{
		TenantID:  req.TenantID,
		Range:     req.Range,
		Scheduled: counts[tasks.StatusScheduled],
		Pending:   counts[tasks.StatusPending],
		Completed: counts[tasks.StatusCompleted],
		Failed:    counts[tasks.StatusFailed],
		Cancelled: counts[tasks.StatusCancelled],
	}
	out.Total = out.Scheduled + out.Pending + out.Completed + out.Failed + out.Cancelled
	if settled := out.Completed + out.Failed; settled > 0 {
		out.SuccessRate = float64(out.Completed) / float64(settled)
	}
	return out, nil
}

func (s *Service) FleetSummary(ctx context.Context) (FleetSummary, error) {
	if s.accounts == nil {
		return FleetSummary{}, errors.New("reporting: account registry not configured")
	}
	list, err := s.accounts.List(ctx)
	if err != nil {
		return FleetSummary{}, err
	}

	out := FleetSummary{Deficiencies: map[string]int{}}
	for _, a := range list {
		out.Accounts++
		if a.VerificationStatus == accounts.VerificationVerified {
			out.Verified++
		}
		if _, ok := a.CallerID(); ok {
			out.WithNumber++
		}
		d := a.Deficiencies()
		if len(d) == 0 {
			out.Capable++
		}
		for _, reason := range d {
			out.Deficiencies[reason]++
		}
	}
	return out, nil
}
