package provisioning

import (
	"context"

	"call-scheduler/internal/telephony"
)

// Provider is the subset of the telephony API used to build and maintain
// tenant sub-accounts. *telephony.Client implements it.
type Provider interface {
	ParentCredentials(childAccountID string) telephony.Credentials

	AddAccount(ctx context.Context, spec telephony.AccountSpec) (telephony.NewAccount, error)
	CloneAccount(ctx context.Context, templateAccountID string, spec telephony.AccountSpec) (telephony.NewAccount, error)
	AddSubUser(ctx context.Context, creds telephony.Credentials, login, password string, roles []string) (telephony.SubUser, error)

	GetApplications(ctx context.Context, creds telephony.Credentials, name string) ([]telephony.Application, error)
	AddApplication(ctx context.Context, creds telephony.Credentials, name string) (telephony.Application, error)

	GetScenarios(ctx context.Context, creds telephony.Credentials, f telephony.ScenarioFilter) ([]telephony.Scenario, error)
	AddScenario(ctx context.Context, creds telephony.Credentials, name, script string) (int64, error)
	SetScenarioInfo(ctx context.Context, creds telephony.Credentials, id int64, name, script string) error

	GetRules(ctx context.Context, creds telephony.Credentials, applicationID int64) ([]telephony.Rule, error)
	AddRule(ctx context.Context, creds telephony.Credentials, spec telephony.RuleSpec) (int64, error)
	SetRuleInfo(ctx context.Context, creds telephony.Credentials, ruleID int64, spec telephony.RuleSpec) error
	DelRule(ctx context.Context, creds telephony.Credentials, ruleID int64) error

	CreateKey(ctx context.Context, creds telephony.Credentials, description string, roles []string) (telephony.ServiceKey, error)
	GetKeys(ctx context.Context, creds telephony.Credentials) ([]telephony.KeyInfo, error)
	DeleteKey(ctx context.Context, creds telephony.Credentials, keyID string) error

	GetAccountCallback(ctx context.Context, creds telephony.Credentials) (telephony.AccountCallback, error)
	SetAccountCallback(ctx context.Context, creds telephony.Credentials, callbackURL string) error
}

// AccountAPI covers the tenant-facing account operations outside the
// provisioning pipeline.
type AccountAPI interface {
	GetVerificationSession(ctx context.Context, creds telephony.Credentials, subUserID int64) (telephony.VerificationSession, error)
	GetAccountDocuments(ctx context.Context, creds telephony.Credentials) (telephony.AccountDocuments, error)
	GetAccountInfo(ctx context.Context, creds telephony.Credentials) (telephony.AccountInfo, error)

	GetNewPhoneNumbers(ctx context.Context, creds telephony.Credentials, countryCode, region string, count int) ([]telephony.AvailableNumber, error)
	AttachPhoneNumber(ctx context.Context, creds telephony.Credentials, number string) (telephony.AttachedNumber, error)
	BindPhoneNumberToApplication(ctx context.Context, creds telephony.Credentials, phoneID, applicationID, ruleID int64) error
	AddRule(ctx context.Context, creds telephony.Credentials, spec telephony.RuleSpec) (int64, error)
}

// StepRecorder receives one entry per executed provisioning step.
type StepRecorder interface {
	RecordProvisioningStep(ctx context.Context, tenantID, step, status, detail string) error
}

var (
	_ Provider   = (*telephony.Client)(nil)
	_ AccountAPI = (*telephony.Client)(nil)
)
