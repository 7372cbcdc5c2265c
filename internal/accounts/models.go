package accounts

import (
	"fmt"
	"sort"
	"time"

	"call-scheduler/internal/assistants"
)

// Category names a provisioned scenario or routing rule. The set is closed;
// provisioning and dispatch only ever key maps by these values.
type Category string

const (
	CategoryInboundOpenAI  Category = "inbound_openai"
	CategoryInboundGemini  Category = "inbound_gemini"
	CategoryOutboundOpenAI Category = "outbound_openai"
	CategoryOutboundGemini Category = "outbound_gemini"
	CategoryOutboundCRM    Category = "outbound_crm"
	CategoryOutboundTest   Category = "outbound_test"
)

// ScenarioCatalog is copied from the template account into every sub-account.
var ScenarioCatalog = []Category{
	CategoryInboundOpenAI,
	CategoryInboundGemini,
	CategoryOutboundOpenAI,
	CategoryOutboundGemini,
	CategoryOutboundCRM,
	CategoryOutboundTest,
}

// OutboundRuleCatalog lists the outbound routing rules created per application.
var OutboundRuleCatalog = []Category{
	CategoryOutboundOpenAI,
	CategoryOutboundGemini,
	CategoryOutboundCRM,
	CategoryOutboundTest,
}

// DispatchCategory is the rule scheduled tasks are placed through,
// regardless of assistant kind.
const DispatchCategory = CategoryOutboundCRM

func (c Category) Valid() bool {
	for _, k := range ScenarioCatalog {
		if k == c {
			return true
		}
	}
	return false
}

// InboundCategory returns the inbound scenario for an assistant kind.
func InboundCategory(kind assistants.Kind) Category {
	if kind == assistants.KindGemini {
		return CategoryInboundGemini
	}
	return CategoryInboundOpenAI
}

type VerificationStatus string

const (
	VerificationNotStarted           VerificationStatus = "not_started"
	VerificationAwaitingDocuments    VerificationStatus = "awaiting_documents"
	VerificationAwaitingAgreement    VerificationStatus = "awaiting_agreement"
	VerificationAwaitingVerification VerificationStatus = "awaiting_verification"
	VerificationVerified             VerificationStatus = "verified"
	VerificationRejected             VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationNotStarted, VerificationAwaitingDocuments, VerificationAwaitingAgreement,
		VerificationAwaitingVerification, VerificationVerified, VerificationRejected:
		return true
	default:
		return false
	}
}

// ServiceAccountCredential is the signing key used for secure media access.
// It is written once; the private key is never returned by the provider again.
type ServiceAccountCredential struct {
	KeyID         string `json:"key_id"`
	PrivateKeyPEM string `json:"-"`
}

// TelephonyAccount is a tenant's isolated sub-account at the telephony provider.
//
// Invariant: at most one account per tenant.
type TelephonyAccount struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	ProviderAccountID string `json:"provider_account_id" db:"provider_account_id"`
	APIKey            string `json:"-" db:"api_key"`

	SubUserID    int64  `json:"sub_user_id,omitempty" db:"sub_user_id"`
	SubUserLogin string `json:"sub_user_login,omitempty" db:"sub_user_login"`

	ApplicationID   int64  `json:"application_id,omitempty" db:"application_id"`
	ApplicationName string `json:"application_name,omitempty" db:"application_name"`

	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	IsActive           bool               `json:"is_active" db:"is_active"`

	Scenarios map[Category]int64 `json:"scenarios" db:"scenarios"`
	Rules     map[Category]int64 `json:"rules" db:"rules"`

	ServiceAccount *ServiceAccountCredential `json:"-" db:"-"`
	CallbackURL    string                    `json:"callback_url,omitempty" db:"callback_url"`

	PhoneNumbers []PhoneNumber `json:"phone_numbers" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PhoneNumber is a number rented under a tenant's sub-account.
type PhoneNumber struct {
	ID               string          `json:"id" db:"id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	Number           string          `json:"number" db:"number"`
	ProviderNumberID int64           `json:"provider_number_id" db:"provider_number_id"`
	AssistantID      string          `json:"assistant_id,omitempty" db:"assistant_id"`
	AssistantKind    assistants.Kind `json:"assistant_kind,omitempty" db:"assistant_kind"`
	InboundRuleID    int64           `json:"inbound_rule_id,omitempty" db:"inbound_rule_id"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	Position         int             `json:"position" db:"position"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// HasCredentials reports whether the sub-account exists at the provider.
func (a TelephonyAccount) HasCredentials() bool {
	return a.ProviderAccountID != "" && a.APIKey != ""
}

// CanMakeOutboundCalls is the dispatch capability check. It is the source of
// truth for routing; VerificationStatus alone is advisory.
func (a TelephonyAccount) CanMakeOutboundCalls() bool {
	return len(a.Deficiencies()) == 0
}

// Deficiencies lists every reason the account cannot place outbound calls,
// phrased for the task owner.
func (a TelephonyAccount) Deficiencies() []string {
	var out []string
	if a.VerificationStatus != VerificationVerified {
		out = append(out, fmt.Sprintf("verification status is %s, not verified", a.VerificationStatus))
	}
	if !a.IsActive {
		out = append(out, "account is inactive")
	}
	if _, ok := a.CallerID(); !ok {
		out = append(out, "no active phone number")
	}
	if len(a.Rules) == 0 {
		out = append(out, fmt.Sprintf("no outbound routing rules provisioned (missing %q); run provisioning repair", DispatchCategory))
	}
	return out
}

// CallerID returns the first active number, ordered by position.
func (a TelephonyAccount) CallerID() (string, bool) {
	nums := make([]PhoneNumber, 0, len(a.PhoneNumbers))
	for _, n := range a.PhoneNumbers {
		if n.IsActive && n.Number != "" {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return "", false
	}
	sort.SliceStable(nums, func(i, j int) bool { return nums[i].Position < nums[j].Position })
	return nums[0].Number, true
}

// Rule returns the provider rule id for a category.
func (a TelephonyAccount) Rule(c Category) (int64, bool) {
	id, ok := a.Rules[c]
	return id, ok && id > 0
}

// AccountStatus is the read model returned to the tenant UI.
type AccountStatus struct {
	Exists               bool               `json:"exists"`
	TenantID             string             `json:"tenant_id"`
	ProviderAccountID    string             `json:"provider_account_id,omitempty"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	IsActive             bool               `json:"is_active"`
	PhoneNumbers         []PhoneNumber      `json:"phone_numbers"`
	ScenarioCount        int                `json:"scenario_count"`
	RuleCount            int                `json:"rule_count"`
	HasServiceAccount    bool               `json:"has_service_account"`
	CanMakeOutboundCalls bool               `json:"can_make_outbound_calls"`
	Deficiencies         []string           `json:"deficiencies,omitempty"`
}
