package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory TaskStore for tests and local development.
// Claim and the terminal transitions are compare-and-set under one mutex,
// matching the conditional UPDATEs of the Postgres store.
type MemoryRepo struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{tasks: map[string]Task{}} }

func (r *MemoryRepo) Insert(ctx context.Context, t Task) error {
	if t.ID == "" || t.TenantID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.TenantID != tenantID {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Task, error) {
	if f.TenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range r.tasks {
		if t.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && t.ScheduledTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.ScheduledTime.Before(f.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[t.ID]
	if !ok || cur.TenantID != t.TenantID {
		return ErrNotFound
	}
	if !cur.Status.Editable() {
		return ErrNotEditable
	}
	cur.ContactID = t.ContactID
	cur.Assistant = t.Assistant
	cur.ScheduledTime = t.ScheduledTime
	cur.Title = t.Title
	cur.Description = t.Description
	cur.CustomGreeting = t.CustomGreeting
	cur.UpdatedAt = t.UpdatedAt
	r.tasks[t.ID] = cur
	return nil
}

func (r *MemoryRepo) Cancel(ctx context.Context, tenantID, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[id]
	if !ok || cur.TenantID != tenantID {
		return ErrNotFound
	}
	if !cur.Status.Editable() {
		return ErrNotEditable
	}
	cur.Status = StatusCancelled
	cur.UpdatedAt = now
	r.tasks[id] = cur
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[id]
	if !ok || cur.TenantID != tenantID {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range r.tasks {
		if t.Status == StatusScheduled && !t.ScheduledTime.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[id]
	if !ok || cur.Status != StatusScheduled {
		return false, nil
	}
	cur.Status = StatusPending
	cur.ClaimedAt = &now
	cur.UpdatedAt = now
	r.tasks[id] = cur
	return true, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id, sessionID, result string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[id]
	if !ok || cur.Status != StatusPending {
		return ErrNotPending
	}
	cur.Status = StatusCompleted
	cur.CallSessionID = sessionID
	cur.CallStartedAt = &now
	cur.CallCompletedAt = &now
	cur.CallResult = result
	cur.UpdatedAt = now
	r.tasks[id] = cur
	return nil
}

func (r *MemoryRepo) Fail(ctx context.Context, id, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[id]
	if !ok || cur.Status != StatusPending {
		return ErrNotPending
	}
	cur.Status = StatusFailed
	cur.CallResult = reason
	cur.CallCompletedAt = &now
	cur.UpdatedAt = now
	r.tasks[id] = cur
	return nil
}

func (r *MemoryRepo) FailStalePending(ctx context.Context, olderThan time.Time, reason string, now time.Time) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for id, t := range r.tasks {
		if t.Status != StatusPending || t.ClaimedAt == nil || !t.ClaimedAt.Before(olderThan) {
			continue
		}
		t.Status = StatusFailed
		t.CallResult = reason
		t.CallCompletedAt = &now
		t.UpdatedAt = now
		r.tasks[id] = t
		out = append(out, t)
	}
	return out, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, tenantID string, from, to time.Time) (map[Status]int, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, t := range r.tasks {
		if t.TenantID != tenantID {
			continue
		}
		if t.ScheduledTime.Before(from) || !t.ScheduledTime.Before(to) {
			continue
		}
		out[t.Status]++
	}
	return out, nil
}
