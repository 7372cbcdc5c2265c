package dispatch

import "call-scheduler/internal/accounts"

// Path is the call-placement strategy chosen for a task.
type Path string

const (
	PathPerTenant   Path = "per_tenant"
	PathLegacy      Path = "legacy"
	PathUnavailable Path = "unavailable"
)

// LegacyConfig is the single flat per-tenant configuration used before
// per-tenant sub-accounts existed.
type LegacyConfig struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	APIKey    string `json:"-"`
	RuleID    int64  `json:"rule_id"`
	CallerID  string `json:"caller_id"`
}

// Complete reports whether every field needed to place a call is set.
func (c LegacyConfig) Complete() bool {
	return c.AccountID != "" && c.APIKey != "" && c.RuleID > 0 && c.CallerID != ""
}

// Selection is the router's output. Exactly one of Account or Legacy is set
// for the per_tenant and legacy paths; Reason is set for unavailable.
type Selection struct {
	Path    Path
	Account *accounts.TelephonyAccount
	Legacy  *LegacyConfig
	Reason  string
}
