package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"
)

var ErrAccountNotFound = errors.New("provisioning: tenant has no telephony account")

type Config struct {
	// TemplateAccountID is the provider account new sub-accounts are cloned
	// from and scenario sources are read from. Optional.
	TemplateAccountID string
	CallbackURL       string
	CallbackSecret    string
	ApplicationName   string
}

func (c Config) withDefaults() Config {
	if c.ApplicationName == "" {
		c.ApplicationName = "call-scheduler"
	}
	return c
}

// Orchestrator brings a tenant's sub-account to the fully provisioned shape.
// Every step is idempotent; re-running converges on the same scenarios and
// rules.
type Orchestrator struct {
	registry accounts.Registry
	provider Provider
	events   StepRecorder
	cfg      Config
	now      func() time.Time
}

func NewOrchestrator(registry accounts.Registry, provider Provider, events StepRecorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		provider: provider,
		events:   events,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Provision creates the account if needed and runs every step.
func (o *Orchestrator) Provision(ctx context.Context, tenantID string) (Report, error) {
	if tenantID == "" {
		return Report{}, accounts.ErrInvalidArgument
	}
	rep := o.newReport(tenantID)
	ctx = logger.With(ctx, logger.From(ctx).With("tenant_id", tenantID))

	acc, res := o.ensureAccount(ctx, tenantID)
	o.record(ctx, &rep, res)
	if res.Status != StepOK {
		for _, s := range repairSteps {
			o.record(ctx, &rep, stepSkipped(s, "no provider account credentials"))
		}
		return o.finish(ctx, rep), nil
	}

	o.runSteps(ctx, &rep, &acc)
	return o.finish(ctx, rep), nil
}

// Repair re-runs every step after account creation against an existing account.
func (o *Orchestrator) Repair(ctx context.Context, tenantID string) (Report, error) {
	if tenantID == "" {
		return Report{}, accounts.ErrInvalidArgument
	}
	acc, err := o.registry.GetByTenant(ctx, tenantID)
	if errors.Is(err, accounts.ErrNotFound) {
		return Report{}, ErrAccountNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("provisioning: load account: %w", err)
	}

	rep := o.newReport(tenantID)
	ctx = logger.With(ctx, logger.From(ctx).With("tenant_id", tenantID))
	o.runSteps(ctx, &rep, &acc)
	return o.finish(ctx, rep), nil
}

// RepairAll repairs every registered account, one at a time. A failing
// account does not stop the run.
func (o *Orchestrator) RepairAll(ctx context.Context) ([]Report, error) {
	all, err := o.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("provisioning: list accounts: %w", err)
	}
	reports := make([]Report, 0, len(all))
	for _, a := range all {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := o.Repair(ctx, a.TenantID)
		if err != nil {
			logger.From(ctx).WarnContext(ctx, "repair failed", "tenant_id", a.TenantID, "err", err)
			rep = o.newReport(a.TenantID)
			rep.Steps = append(rep.Steps, stepFailed(StepAccount, "could not load account", err))
			rep.FinishedAt = o.now().UTC()
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (o *Orchestrator) runSteps(ctx context.Context, rep *Report, acc *accounts.TelephonyAccount) {
	rep.AccountID = acc.ID
	rep.ProviderAccountID = acc.ProviderAccountID

	if !acc.HasCredentials() {
		for _, s := range repairSteps {
			o.record(ctx, rep, stepSkipped(s, "no provider account credentials"))
		}
		return
	}
	for _, s := range repairSteps {
		o.record(ctx, rep, o.runStep(ctx, s, acc))
	}
}

func (o *Orchestrator) runStep(ctx context.Context, s Step, acc *accounts.TelephonyAccount) StepResult {
	switch s {
	case StepSubUser:
		return o.ensureSubUser(ctx, acc)
	case StepApplication:
		return o.ensureApplication(ctx, acc)
	case StepScenarios:
		return o.syncScenarios(ctx, acc)
	case StepRules:
		return o.syncRules(ctx, acc)
	case StepServiceAccount:
		return o.ensureServiceAccount(ctx, acc)
	case StepCallback:
		return o.ensureCallback(ctx, acc)
	default:
		return stepFailed(s, "unknown step", nil)
	}
}

func (o *Orchestrator) newReport(tenantID string) Report {
	return Report{TenantID: tenantID, Steps: []StepResult{}, StartedAt: o.now().UTC()}
}

func (o *Orchestrator) record(ctx context.Context, rep *Report, res StepResult) {
	rep.Steps = append(rep.Steps, res)

	log := logger.From(ctx)
	attrs := []any{"step", res.Step, "status", res.Status}
	if res.Detail != "" {
		attrs = append(attrs, "detail", res.Detail)
	}
	level := slog.LevelInfo
	if res.Status == StepFailed {
		level = slog.LevelWarn
		attrs = append(attrs, "err", res.Error)
	}
	log.Log(ctx, level, "provisioning step", attrs...)

	if o.events == nil {
		return
	}
	detail := res.Detail
	if res.Error != "" {
		detail = fmt.Sprintf("%s: %s", res.Detail, res.Error)
	}
	if err := o.events.RecordProvisioningStep(ctx, rep.TenantID, string(res.Step), string(res.Status), detail); err != nil {
		log.WarnContext(ctx, "record provisioning step failed", "step", res.Step, "err", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, rep Report) Report {
	rep.FinishedAt = o.now().UTC()
	logger.From(ctx).InfoContext(ctx, "provisioning finished",
		"ok", rep.OK(),
		"summary", rep.Summary(),
		"duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
	)
	return rep
}

func credsOf(acc *accounts.TelephonyAccount) telephony.Credentials {
	return telephony.AccountCredentials(acc.ProviderAccountID, acc.APIKey)
}
