package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"
)

var (
	subUserRoles    = []string{"Verification", "Accountant"}
	serviceKeyRoles = []string{"Owner"}
)

const serviceKeyDescription = "media-access"

func (o *Orchestrator) ensureAccount(ctx context.Context, tenantID string) (accounts.TelephonyAccount, StepResult) {
	existing, err := o.registry.GetByTenant(ctx, tenantID)
	if err == nil {
		if existing.HasCredentials() {
			return existing, stepOK(StepAccount, "reused registered account "+existing.ProviderAccountID)
		}
		return existing, stepFailed(StepAccount, "registered account has no provider credentials", nil)
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return accounts.TelephonyAccount{}, stepFailed(StepAccount, "load account", err)
	}

	spec := telephony.AccountSpec{Name: accountName(tenantID)}
	var created telephony.NewAccount
	detail := "created empty account"
	if o.cfg.TemplateAccountID != "" {
		created, err = o.provider.CloneAccount(ctx, o.cfg.TemplateAccountID, spec)
		detail = "cloned from template " + o.cfg.TemplateAccountID
	} else {
		created, err = o.provider.AddAccount(ctx, spec)
	}
	if err != nil {
		return accounts.TelephonyAccount{}, stepFailed(StepAccount, "create provider account", err)
	}

	acc, err := o.registry.Create(ctx, accounts.TelephonyAccount{
		TenantID:           tenantID,
		ProviderAccountID:  created.AccountID,
		APIKey:             created.APIKey,
		VerificationStatus: accounts.VerificationNotStarted,
		IsActive:           true,
		Scenarios:          map[accounts.Category]int64{},
		Rules:              map[accounts.Category]int64{},
	})
	if errors.Is(err, accounts.ErrAlreadyExists) {
		// A concurrent run registered first; continue with its account.
		acc, err = o.registry.GetByTenant(ctx, tenantID)
		if err == nil {
			logger.From(ctx).WarnContext(ctx, "provider account orphaned by concurrent provisioning",
				"orphan_provider_account_id", created.AccountID)
			return acc, stepOK(StepAccount, "reused concurrently registered account "+acc.ProviderAccountID)
		}
	}
	if err != nil {
		return accounts.TelephonyAccount{}, stepFailed(StepAccount,
			fmt.Sprintf("provider account %s created but not registered", created.AccountID), err)
	}
	return acc, stepOK(StepAccount, detail+" as "+acc.ProviderAccountID)
}

func (o *Orchestrator) ensureSubUser(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	if acc.SubUserID > 0 {
		return stepOK(StepSubUser, "already created: "+acc.SubUserLogin)
	}
	password, err := randomSecret(16)
	if err != nil {
		return stepFailed(StepSubUser, "generate password", err)
	}
	su, err := o.provider.AddSubUser(ctx, credsOf(acc), subUserLogin(acc.TenantID), password, subUserRoles)
	if err != nil {
		return stepFailed(StepSubUser, "create sub-user", err)
	}
	acc.SubUserID, acc.SubUserLogin = su.ID, su.Login
	if err := o.registry.Update(ctx, *acc); err != nil {
		return stepFailed(StepSubUser, "persist sub-user", err)
	}
	return stepOK(StepSubUser, "created "+su.Login)
}

func (o *Orchestrator) ensureApplication(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	name := o.cfg.ApplicationName
	apps, err := o.provider.GetApplications(ctx, credsOf(acc), name)
	if err != nil {
		return stepFailed(StepApplication, "list applications", err)
	}

	var app telephony.Application
	detail := "found " + name
	for _, a := range apps {
		if a.Name == name || strings.HasPrefix(a.Name, name+".") {
			app = a
			break
		}
	}
	if app.ID == 0 {
		app, err = o.provider.AddApplication(ctx, credsOf(acc), name)
		if err != nil {
			return stepFailed(StepApplication, "create application", err)
		}
		detail = "created " + name
	}

	if acc.ApplicationID == app.ID && acc.ApplicationName == app.Name {
		return stepOK(StepApplication, detail)
	}
	acc.ApplicationID, acc.ApplicationName = app.ID, app.Name
	if err := o.registry.Update(ctx, *acc); err != nil {
		return stepFailed(StepApplication, "persist application", err)
	}
	return stepOK(StepApplication, detail)
}

// syncScenarios copies every catalog scenario from the template account into
// the sub-account, updating same-named scenarios in place.
func (o *Orchestrator) syncScenarios(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	creds := credsOf(acc)
	own, err := o.provider.GetScenarios(ctx, creds, telephony.ScenarioFilter{})
	if err != nil {
		return stepFailed(StepScenarios, "list sub-account scenarios", err)
	}
	ownByName := make(map[string]int64, len(own))
	for _, s := range own {
		ownByName[s.Name] = s.ID
	}

	var templateByName map[string]int64
	if o.cfg.TemplateAccountID != "" {
		tmpl, err := o.provider.GetScenarios(ctx, o.templateCreds(), telephony.ScenarioFilter{})
		if err != nil {
			return stepFailed(StepScenarios, "list template scenarios", err)
		}
		templateByName = make(map[string]int64, len(tmpl))
		for _, s := range tmpl {
			templateByName[s.Name] = s.ID
		}
	}

	scenarios := make(map[accounts.Category]int64, len(accounts.ScenarioCatalog))
	var problems []string
	for _, cat := range accounts.ScenarioCatalog {
		id, err := o.syncScenario(ctx, creds, cat, ownByName, templateByName)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", cat, err))
			if prev, ok := acc.Scenarios[cat]; ok {
				scenarios[cat] = prev
			}
			continue
		}
		scenarios[cat] = id
	}

	acc.Scenarios = scenarios
	if err := o.registry.Update(ctx, *acc); err != nil {
		return stepFailed(StepScenarios, "persist scenarios", err)
	}
	if len(problems) > 0 {
		return stepFailed(StepScenarios, fmt.Sprintf("%d of %d scenarios synced", len(accounts.ScenarioCatalog)-len(problems), len(accounts.ScenarioCatalog)),
			errors.New(strings.Join(problems, "; ")))
	}
	return stepOK(StepScenarios, fmt.Sprintf("%d scenarios synced", len(scenarios)))
}

func (o *Orchestrator) syncScenario(ctx context.Context, creds telephony.Credentials, cat accounts.Category, own, template map[string]int64) (int64, error) {
	name := string(cat)
	existing, exists := own[name]

	if template == nil {
		if exists {
			return existing, nil
		}
		return 0, errors.New("missing in sub-account and no template account configured")
	}
	tmplID, ok := template[name]
	if !ok {
		if exists {
			return existing, nil
		}
		return 0, errors.New("missing in template account")
	}

	// Script sources are only returned for single-scenario reads.
	src, err := o.provider.GetScenarios(ctx, o.templateCreds(), telephony.ScenarioFilter{ID: tmplID, WithScript: true})
	if err != nil {
		return 0, fmt.Errorf("read template source: %w", err)
	}
	if len(src) == 0 || src[0].Script == "" {
		return 0, errors.New("template scenario has no source")
	}
	script := src[0].Script

	if exists {
		if err := o.provider.SetScenarioInfo(ctx, creds, existing, name, script); err != nil {
			return 0, fmt.Errorf("update: %w", err)
		}
		return existing, nil
	}
	id, err := o.provider.AddScenario(ctx, creds, name, script)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// syncRules creates or updates one outbound rule per category, each bound to
// the same-named scenario.
func (o *Orchestrator) syncRules(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	if acc.ApplicationID == 0 {
		return stepSkipped(StepRules, "application not provisioned")
	}
	creds := credsOf(acc)
	existing, err := o.provider.GetRules(ctx, creds, acc.ApplicationID)
	if err != nil {
		return stepFailed(StepRules, "list rules", err)
	}
	byName, duplicates := pickRules(existing, acc.Rules)

	rules := make(map[accounts.Category]int64, len(accounts.OutboundRuleCatalog))
	var problems []string
	for _, id := range duplicates {
		if err := o.provider.DelRule(ctx, creds, id); err != nil {
			problems = append(problems, fmt.Sprintf("rule %d: delete duplicate: %v", id, err))
		}
	}
	for _, cat := range accounts.OutboundRuleCatalog {
		scenarioID, ok := acc.Scenarios[cat]
		if !ok || scenarioID == 0 {
			problems = append(problems, fmt.Sprintf("%s: scenario not provisioned", cat))
			continue
		}
		spec := telephony.RuleSpec{
			ApplicationID: acc.ApplicationID,
			Name:          string(cat),
			Pattern:       string(cat),
			ScenarioID:    scenarioID,
		}
		if id, found := byName[string(cat)]; found {
			if err := o.provider.SetRuleInfo(ctx, creds, id, spec); err != nil {
				problems = append(problems, fmt.Sprintf("%s: update: %v", cat, err))
				continue
			}
			rules[cat] = id
			continue
		}
		id, err := o.provider.AddRule(ctx, creds, spec)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: create: %v", cat, err))
			continue
		}
		rules[cat] = id
	}

	synced := len(rules)
	// Keep previously known rules for categories that failed this run.
	for cat, id := range acc.Rules {
		if _, ok := rules[cat]; !ok {
			rules[cat] = id
		}
	}
	acc.Rules = rules
	if err := o.registry.Update(ctx, *acc); err != nil {
		return stepFailed(StepRules, "persist rules", err)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return stepFailed(StepRules, fmt.Sprintf("%d of %d rules synced", synced, len(accounts.OutboundRuleCatalog)),
			errors.New(strings.Join(problems, "; ")))
	}
	return stepOK(StepRules, fmt.Sprintf("%d rules synced", synced))
}

// pickRules maps each catalog rule name to one provider rule id, preferring
// the id already stored. Other rules sharing a catalog name are returned as
// duplicates. Rules outside the catalog are left alone.
func pickRules(existing []telephony.Rule, stored map[accounts.Category]int64) (map[string]int64, []int64) {
	catalog := make(map[string]bool, len(accounts.OutboundRuleCatalog))
	for _, cat := range accounts.OutboundRuleCatalog {
		catalog[string(cat)] = true
	}
	sorted := append([]telephony.Rule(nil), existing...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byName := make(map[string]int64, len(sorted))
	for _, r := range sorted {
		if _, seen := byName[r.Name]; !seen || stored[accounts.Category(r.Name)] == r.ID {
			byName[r.Name] = r.ID
		}
	}
	var duplicates []int64
	for _, r := range sorted {
		if catalog[r.Name] && byName[r.Name] != r.ID {
			duplicates = append(duplicates, r.ID)
		}
	}
	return byName, duplicates
}

// ensureServiceAccount creates the media signing key. The private key is only
// returned once, so it is stored before the step reports success; if storing
// fails the provider key is deleted.
func (o *Orchestrator) ensureServiceAccount(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	creds := credsOf(acc)
	if acc.ServiceAccount != nil {
		detail := "key already stored: " + acc.ServiceAccount.KeyID
		if n := o.deleteOrphanKeys(ctx, creds, acc.ServiceAccount.KeyID); n > 0 {
			detail += fmt.Sprintf(", deleted %d orphaned", n)
		}
		return stepOK(StepServiceAccount, detail)
	}
	key, err := o.provider.CreateKey(ctx, creds, serviceKeyDescription, serviceKeyRoles)
	if err != nil {
		return stepFailed(StepServiceAccount, "create key", err)
	}

	cred := accounts.ServiceAccountCredential{KeyID: key.KeyID, PrivateKeyPEM: key.PrivateKeyPEM}
	saveErr := o.registry.SaveServiceAccount(ctx, acc.ID, cred)
	if saveErr == nil {
		acc.ServiceAccount = &cred
		return stepOK(StepServiceAccount, "created key "+key.KeyID)
	}

	if delErr := o.provider.DeleteKey(ctx, creds, key.KeyID); delErr != nil {
		logger.From(ctx).ErrorContext(ctx, "unstored provider key could not be deleted",
			"key_id", key.KeyID, "err", delErr)
	}
	if errors.Is(saveErr, accounts.ErrServiceAccountExists) {
		return stepOK(StepServiceAccount, "key stored by a concurrent run")
	}
	return stepFailed(StepServiceAccount, "store key", saveErr)
}

// deleteOrphanKeys removes media keys on the provider that are not the stored
// one, left behind by runs that could not store or delete their key. Errors
// are logged; the stored key stays usable either way.
func (o *Orchestrator) deleteOrphanKeys(ctx context.Context, creds telephony.Credentials, storedKeyID string) int {
	log := logger.From(ctx)
	live, err := o.provider.GetKeys(ctx, creds)
	if err != nil {
		log.WarnContext(ctx, "list provider keys failed", "err", err)
		return 0
	}
	deleted := 0
	for _, k := range live {
		if k.KeyID == storedKeyID || k.Description != serviceKeyDescription {
			continue
		}
		if err := o.provider.DeleteKey(ctx, creds, k.KeyID); err != nil {
			log.WarnContext(ctx, "orphaned provider key could not be deleted", "key_id", k.KeyID, "err", err)
			continue
		}
		log.InfoContext(ctx, "deleted orphaned provider key", "key_id", k.KeyID)
		deleted++
	}
	return deleted
}

func (o *Orchestrator) ensureCallback(ctx context.Context, acc *accounts.TelephonyAccount) StepResult {
	if o.cfg.CallbackURL == "" {
		return stepSkipped(StepCallback, "no callback url configured")
	}
	creds := credsOf(acc)
	target := telephony.CallbackURL(o.cfg.CallbackURL, o.cfg.CallbackSecret)
	detail := "registered " + o.cfg.CallbackURL
	current, err := o.provider.GetAccountCallback(ctx, creds)
	if err != nil {
		logger.From(ctx).WarnContext(ctx, "read account callback failed", "err", err)
	}
	if err == nil && current.URL == target {
		detail = "already registered " + o.cfg.CallbackURL
	} else if err := o.provider.SetAccountCallback(ctx, creds, target); err != nil {
		return stepFailed(StepCallback, "register callback", err)
	}
	if acc.CallbackURL != o.cfg.CallbackURL {
		acc.CallbackURL = o.cfg.CallbackURL
		if err := o.registry.Update(ctx, *acc); err != nil {
			return stepFailed(StepCallback, "persist callback", err)
		}
	}
	return stepOK(StepCallback, detail)
}

func (o *Orchestrator) templateCreds() telephony.Credentials {
	return o.provider.ParentCredentials(o.cfg.TemplateAccountID)
}

func accountName(tenantID string) string {
	return "tenant-" + shortID(tenantID)
}

func subUserLogin(tenantID string) string {
	return "verify-" + shortID(tenantID)
}

func shortID(id string) string {
	id = strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(id) > 20 {
		return id[:20]
	}
	return id
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
