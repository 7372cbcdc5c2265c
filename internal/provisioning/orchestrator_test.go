package provisioning

import (
	"context"
	"errors"
	"sort"
	"testing"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templateID = "tmpl-1"

func catalogNames() []string {
	names := make([]string, 0, len(accounts.ScenarioCatalog))
	for _, c := range accounts.ScenarioCatalog {
		names = append(names, string(c))
	}
	return names
}

type recordedStep struct {
	tenantID, step, status string
}

type stepLog struct {
	steps []recordedStep
}

func (l *stepLog) RecordProvisioningStep(_ context.Context, tenantID, step, status, _ string) error {
	l.steps = append(l.steps, recordedStep{tenantID, step, status})
	return nil
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *accounts.MemoryRegistry, *fakeProvider, *stepLog) {
	t.Helper()
	reg := accounts.NewMemoryRegistry()
	prov := newFakeProvider(templateID, catalogNames()...)
	log := &stepLog{}
	return NewOrchestrator(reg, prov, log, cfg), reg, prov, log
}

func keys(m map[accounts.Category]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func TestProvision_FreshTenantFromTemplate(t *testing.T) {
	o, reg, prov, log := newOrchestrator(t, Config{
		TemplateAccountID: templateID,
		CallbackURL:       "https://api.example.com/webhooks/telephony/callback",
		CallbackSecret:    "s3cret",
	})
	ctx := context.Background()

	rep, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, rep.OK(), rep.Summary())
	require.Len(t, rep.Steps, 7)
	assert.Equal(t, StepAccount, rep.Steps[0].Step)
	assert.Equal(t, StepCallback, rep.Steps[6].Step)
	assert.Equal(t, 1, prov.count("CloneAccount"))
	assert.Equal(t, 0, prov.count("AddAccount"))

	acc, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, acc.HasCredentials())
	assert.True(t, acc.IsActive)
	assert.NotZero(t, acc.SubUserID)
	assert.NotZero(t, acc.ApplicationID)
	assert.Len(t, acc.Scenarios, len(accounts.ScenarioCatalog))
	assert.Len(t, acc.Rules, len(accounts.OutboundRuleCatalog))
	require.NotNil(t, acc.ServiceAccount)
	assert.Equal(t, "https://api.example.com/webhooks/telephony/callback", acc.CallbackURL)
	assert.Equal(t, "https://api.example.com/webhooks/telephony/callback?token=s3cret", prov.accounts[acc.ProviderAccountID].callback)

	_, hasCRM := acc.Rule(accounts.CategoryOutboundCRM)
	assert.True(t, hasCRM)

	// Cloned scenarios are updated in place, not duplicated.
	assert.Equal(t, 0, prov.count("AddScenario"))
	assert.Equal(t, len(accounts.ScenarioCatalog), prov.count("SetScenarioInfo"))

	assert.Len(t, log.steps, 7)
	assert.Equal(t, "tenant-1", log.steps[0].tenantID)
}

func TestProvision_FixedPoint(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	ctx := context.Background()

	_, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	first, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)

	addRules := prov.count("AddRule")
	addApps := prov.count("AddApplication")
	createKeys := prov.count("CreateKey")

	rep, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, rep.OK(), rep.Summary())
	rep, err = o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, rep.OK(), rep.Summary())

	second, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, keys(first.Scenarios), keys(second.Scenarios))
	assert.Equal(t, keys(first.Rules), keys(second.Rules))
	assert.Equal(t, first.Scenarios, second.Scenarios)
	assert.Equal(t, first.Rules, second.Rules)
	assert.Equal(t, first.ApplicationID, second.ApplicationID)
	assert.Equal(t, first.ServiceAccount.KeyID, second.ServiceAccount.KeyID)

	assert.Equal(t, addRules, prov.count("AddRule"), "no duplicate rules")
	assert.Equal(t, addApps, prov.count("AddApplication"), "no duplicate applications")
	assert.Equal(t, createKeys, prov.count("CreateKey"), "key is write-once")
	assert.Equal(t, 1, prov.count("CloneAccount"))
	assert.Equal(t, 1, prov.count("AddSubUser"))
}

func TestProvision_WithoutTemplateCreatesEmptyAccount(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{})
	ctx := context.Background()

	rep, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.count("AddAccount"))

	scen, _ := rep.Step(StepScenarios)
	assert.Equal(t, StepFailed, scen.Status)
	assert.Contains(t, scen.Error, "no template account configured")

	rules, _ := rep.Step(StepRules)
	assert.Equal(t, StepFailed, rules.Status)

	// Siblings still ran.
	sa, _ := rep.Step(StepServiceAccount)
	assert.Equal(t, StepOK, sa.Status)
	cb, _ := rep.Step(StepCallback)
	assert.Equal(t, StepSkipped, cb.Status)

	acc, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, acc.Rules)
	assert.False(t, acc.CanMakeOutboundCalls())
}

func TestProvision_AccountFailureSkipsEverythingElse(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	prov.fail("CloneAccount", &telephony.APIError{Method: "CloneAccount", Code: 500, Msg: "quota exceeded"})

	rep, err := o.Provision(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.False(t, rep.OK())
	require.Len(t, rep.Steps, 7)
	assert.Equal(t, StepFailed, rep.Steps[0].Status)
	assert.Contains(t, rep.Steps[0].Error, "quota exceeded")
	for _, s := range rep.Steps[1:] {
		assert.Equal(t, StepSkipped, s.Status, s.Step)
	}

	_, err = reg.GetByTenant(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestProvision_StepFailureDoesNotAbortSiblings(t *testing.T) {
	o, _, prov, _ := newOrchestrator(t, Config{TemplateAccountID: templateID, CallbackURL: "https://cb.example"})
	prov.fail("AddSubUser", &telephony.APIError{Method: "AddSubUser", Code: 9, Msg: "login taken"})
	prov.fail("CreateKey", telephony.ErrTransport)

	rep, err := o.Provision(context.Background(), "tenant-1")
	require.NoError(t, err)

	failedSteps := map[Step]bool{}
	for _, s := range rep.Failed() {
		failedSteps[s.Step] = true
	}
	assert.Equal(t, map[Step]bool{StepSubUser: true, StepServiceAccount: true}, failedSteps)

	for _, s := range []Step{StepApplication, StepScenarios, StepRules, StepCallback} {
		r, ok := rep.Step(s)
		require.True(t, ok)
		assert.Equal(t, StepOK, r.Status, s)
	}
}

type failingKeyRegistry struct {
	*accounts.MemoryRegistry
}

func (r failingKeyRegistry) SaveServiceAccount(ctx context.Context, accountID string, cred accounts.ServiceAccountCredential) error {
	return errors.New("disk full")
}

func TestServiceAccount_UnstoredKeyIsDeleted(t *testing.T) {
	reg := failingKeyRegistry{accounts.NewMemoryRegistry()}
	prov := newFakeProvider(templateID, catalogNames()...)
	o := NewOrchestrator(reg, prov, nil, Config{TemplateAccountID: templateID})

	rep, err := o.Provision(context.Background(), "tenant-1")
	require.NoError(t, err)

	sa, _ := rep.Step(StepServiceAccount)
	assert.Equal(t, StepFailed, sa.Status)
	assert.Contains(t, sa.Error, "disk full")
	assert.Equal(t, 1, prov.count("DeleteKey"))

	acc, err := reg.GetByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, acc.ServiceAccount)
	assert.Equal(t, 0, prov.keyCount(acc.ProviderAccountID), "no live provider key without a stored copy")
}

func TestRepair_NoAccount(t *testing.T) {
	o, _, _, _ := newOrchestrator(t, Config{})
	_, err := o.Repair(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRepair_RestoresEmptyRules(t *testing.T) {
	o, reg, _, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	ctx := context.Background()

	_, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	acc, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	want := acc.Rules

	acc.Rules = map[accounts.Category]int64{}
	require.NoError(t, reg.Update(ctx, acc))

	rep, err := o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, rep.OK(), rep.Summary())

	acc, err = reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, want, acc.Rules, "existing provider rules are found by name and reused")
}

func TestRepairAll(t *testing.T) {
	o, _, _, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := o.Provision(ctx, id)
		require.NoError(t, err)
	}

	reports, err := o.RepairAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.OK(), r.Summary())
		assert.Len(t, r.Steps, len(repairSteps))
	}
}

func TestProvision_RequiresTenant(t *testing.T) {
	o, _, _, _ := newOrchestrator(t, Config{})
	_, err := o.Provision(context.Background(), "")
	assert.ErrorIs(t, err, accounts.ErrInvalidArgument)
}

func TestServiceAccount_OrphanedKeysAreDeleted(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	ctx := context.Background()

	_, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	acc, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, acc.ServiceAccount)

	prov.addKey(acc.ProviderAccountID, "key-orphan", serviceKeyDescription)
	prov.addKey(acc.ProviderAccountID, "key-ci", "ci-pipeline")

	rep, err := o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	sa, _ := rep.Step(StepServiceAccount)
	assert.Equal(t, StepOK, sa.Status)
	assert.Contains(t, sa.Detail, "deleted 1 orphaned")
	assert.Equal(t, 2, prov.keyCount(acc.ProviderAccountID), "stored key and foreign key remain")
	assert.Equal(t, 1, prov.count("CreateKey"))

	prov.fail("GetKeys", errors.New("timeout"))
	rep, err = o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	sa, _ = rep.Step(StepServiceAccount)
	assert.Equal(t, StepOK, sa.Status, "listing keys is best effort")
}

func TestCallback_AlreadyRegisteredIsNotRewritten(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{
		TemplateAccountID: templateID,
		CallbackURL:       "https://cb.example/hook",
		CallbackSecret:    "s3cret",
	})
	ctx := context.Background()

	_, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.count("SetAccountCallback"))

	rep, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	cb, _ := rep.Step(StepCallback)
	assert.Equal(t, StepOK, cb.Status)
	assert.Contains(t, cb.Detail, "already registered")
	assert.Equal(t, 1, prov.count("SetAccountCallback"))

	acc, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	prov.mu.Lock()
	prov.accounts[acc.ProviderAccountID].callback = "https://old.example/hook"
	prov.mu.Unlock()

	_, err = o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, prov.count("SetAccountCallback"))

	prov.fail("GetAccountCallback", errors.New("timeout"))
	rep, err = o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	cb, _ = rep.Step(StepCallback)
	assert.Equal(t, StepOK, cb.Status)
	assert.Equal(t, 3, prov.count("SetAccountCallback"), "unreadable callback is registered again")
}

func TestRules_DuplicateCatalogRulesArePruned(t *testing.T) {
	o, reg, prov, _ := newOrchestrator(t, Config{TemplateAccountID: templateID})
	ctx := context.Background()

	_, err := o.Provision(ctx, "tenant-1")
	require.NoError(t, err)
	first, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)

	crm := string(accounts.CategoryOutboundCRM)
	prov.addRule(first.ProviderAccountID, telephony.Rule{ID: 9001, Name: crm, Pattern: crm})
	prov.addRule(first.ProviderAccountID, telephony.Rule{ID: 9002, Name: "inbound-support", Pattern: ".*"})

	rep, err := o.Repair(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, rep.OK(), rep.Summary())
	assert.Equal(t, 1, prov.count("DelRule"))

	want := []string{"inbound-support"}
	for _, cat := range accounts.OutboundRuleCatalog {
		want = append(want, string(cat))
	}
	sort.Strings(want)
	assert.Equal(t, want, prov.ruleNames(first.ProviderAccountID))

	second, err := reg.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, first.Rules, second.Rules, "stored rule ids are kept")
}

func TestPickRules(t *testing.T) {
	crm := accounts.CategoryOutboundCRM
	existing := []telephony.Rule{
		{ID: 3, Name: string(crm)},
		{ID: 7, Name: string(crm)},
		{ID: 5, Name: "custom"},
		{ID: 6, Name: "custom"},
	}

	byName, dups := pickRules(existing, nil)
	assert.Equal(t, int64(3), byName[string(crm)])
	assert.Equal(t, []int64{7}, dups)

	byName, dups = pickRules(existing, map[accounts.Category]int64{crm: 7})
	assert.Equal(t, int64(7), byName[string(crm)])
	assert.Equal(t, []int64{3}, dups)
}
