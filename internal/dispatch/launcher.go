package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/assistants"
	"call-scheduler/internal/tasks"
	"call-scheduler/internal/telephony"
)

const legacyGeminiPrefix = "gemini_"

type Contact struct {
	ID          string
	TenantID    string
	DisplayName string
	PhoneNumber string
}

type PlaceRequest struct {
	Task      tasks.Task
	Contact   Contact
	Assistant assistants.Assistant
}

type Placement struct {
	Path                  Path
	SessionID             string
	MediaSessionAccessURL string
	RuleID                int64
	CallerID              string
}

// Launcher places one outbound call.
type Launcher interface {
	Place(ctx context.Context, req PlaceRequest) (Placement, error)
}

// CallStarter is implemented by *telephony.Client.
type CallStarter interface {
	StartScenarios(ctx context.Context, creds telephony.Credentials, ruleID int64, customData string) (telephony.StartResult, error)
}

// Payload is passed to the provider scenario as opaque custom data.
type Payload struct {
	TaskID          string `json:"task_id"`
	TenantID        string `json:"tenant_id"`
	Phone           string `json:"phone"`
	AssistantID     string `json:"assistant_id"`
	AssistantType   string `json:"assistant_type"`
	CallerID        string `json:"caller_id"`
	ContactName     string `json:"contact_name"`
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description"`
	CustomGreeting  string `json:"custom_greeting"`
	Timezone        string `json:"timezone"`
}

func buildPayload(req PlaceRequest, assistantID, callerID, timezone string) Payload {
	return Payload{
		TaskID:          req.Task.ID,
		TenantID:        req.Task.TenantID,
		Phone:           req.Contact.PhoneNumber,
		AssistantID:     assistantID,
		AssistantType:   string(req.Assistant.Kind),
		CallerID:        callerID,
		ContactName:     req.Contact.DisplayName,
		TaskTitle:       req.Task.Title,
		TaskDescription: req.Task.Description,
		CustomGreeting:  req.Task.CustomGreeting,
		Timezone:        timezone,
	}
}

func start(ctx context.Context, starter CallStarter, creds telephony.Credentials, ruleID int64, p Payload) (telephony.StartResult, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return telephony.StartResult{}, fmt.Errorf("dispatch: encode payload: %w", err)
	}
	return starter.StartScenarios(ctx, creds, ruleID, string(raw))
}

// PerTenantLauncher places calls through the tenant's own sub-account.
type PerTenantLauncher struct {
	starter  CallStarter
	account  accounts.TelephonyAccount
	timezone string
}

func NewPerTenantLauncher(starter CallStarter, account accounts.TelephonyAccount, timezone string) *PerTenantLauncher {
	return &PerTenantLauncher{starter: starter, account: account, timezone: timezone}
}

func (l *PerTenantLauncher) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	ruleID, ok := l.account.Rule(accounts.DispatchCategory)
	if !ok {
		return Placement{}, fmt.Errorf("outbound rule %q is not provisioned for this account; re-run provisioning repair", accounts.DispatchCategory)
	}
	callerID, ok := l.account.CallerID()
	if !ok {
		return Placement{}, fmt.Errorf("no active phone number to use as caller id")
	}

	p := buildPayload(req, req.Assistant.ID, callerID, l.timezone)
	creds := telephony.AccountCredentials(l.account.ProviderAccountID, l.account.APIKey)
	res, err := start(ctx, l.starter, creds, ruleID, p)
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		Path:                  PathPerTenant,
		SessionID:             res.SessionID,
		MediaSessionAccessURL: res.MediaSessionAccessURL,
		RuleID:                ruleID,
		CallerID:              callerID,
	}, nil
}

// LegacyLauncher places calls through the tenant's single shared configuration.
type LegacyLauncher struct {
	starter  CallStarter
	cfg      LegacyConfig
	timezone string
}

func NewLegacyLauncher(starter CallStarter, cfg LegacyConfig, timezone string) *LegacyLauncher {
	return &LegacyLauncher{starter: starter, cfg: cfg, timezone: timezone}
}

func (l *LegacyLauncher) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	// The legacy scenario dispatches on this prefix to pick the assistant runtime.
	assistantID := req.Assistant.ID
	if req.Assistant.Kind == assistants.KindGemini {
		assistantID = legacyGeminiPrefix + assistantID
	}

	p := buildPayload(req, assistantID, l.cfg.CallerID, l.timezone)
	creds := telephony.AccountCredentials(l.cfg.AccountID, l.cfg.APIKey)
	res, err := start(ctx, l.starter, creds, l.cfg.RuleID, p)
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		Path:                  PathLegacy,
		SessionID:             res.SessionID,
		MediaSessionAccessURL: res.MediaSessionAccessURL,
		RuleID:                l.cfg.RuleID,
		CallerID:              l.cfg.CallerID,
	}, nil
}

var (
	_ Launcher    = (*PerTenantLauncher)(nil)
	_ Launcher    = (*LegacyLauncher)(nil)
	_ CallStarter = (*telephony.Client)(nil)
)
