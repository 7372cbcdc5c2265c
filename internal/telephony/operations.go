package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NewAccount is returned by AddAccount and CloneAccount.
type NewAccount struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
}

type AccountSpec struct {
	Name     string
	Email    string
	Password string
}

func (s AccountSpec) params() url.Values {
	v := url.Values{}
	v.Set("account_name", s.Name)
	if s.Email != "" {
		v.Set("account_email", s.Email)
	}
	if s.Password != "" {
		v.Set("account_password", s.Password)
	}
	return v
}

// AddAccount creates an empty child account under the parent.
func (c *Client) AddAccount(ctx context.Context, spec AccountSpec) (NewAccount, error) {
	var out NewAccount
	if err := c.call(ctx, "AddAccount", c.parent, spec.params(), &out); err != nil {
		return NewAccount{}, err
	}
	return out, requireAccount("AddAccount", out)
}

// CloneAccount creates a child account as a copy of templateAccountID.
func (c *Client) CloneAccount(ctx context.Context, templateAccountID string, spec AccountSpec) (NewAccount, error) {
	v := spec.params()
	v.Set("template_account_id", templateAccountID)
	var out NewAccount
	if err := c.call(ctx, "CloneAccount", c.parent, v, &out); err != nil {
		return NewAccount{}, err
	}
	return out, requireAccount("CloneAccount", out)
}

func requireAccount(method string, a NewAccount) error {
	if a.AccountID == "" || a.APIKey == "" {
		return &APIError{Method: method, HTTPStatus: 200, Msg: "result is missing account_id or api_key"}
	}
	return nil
}

type SubUser struct {
	ID    int64  `json:"subuser_id"`
	Login string `json:"subuser_name"`
}

// AddSubUser creates a restricted login for verification and billing screens.
func (c *Client) AddSubUser(ctx context.Context, creds Credentials, login, password string, roles []string) (SubUser, error) {
	v := url.Values{}
	v.Set("new_subuser_name", login)
	v.Set("new_subuser_password", password)
	if len(roles) > 0 {
		v.Set("role_name", strings.Join(roles, ";"))
	}
	var out SubUser
	if err := c.call(ctx, "AddSubUser", creds, v, &out); err != nil {
		return SubUser{}, err
	}
	if out.Login == "" {
		out.Login = login
	}
	return out, nil
}

type VerificationSession struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// GetVerificationSession returns a short-lived URL to the provider's KYC flow.
func (c *Client) GetVerificationSession(ctx context.Context, creds Credentials, subUserID int64) (VerificationSession, error) {
	v := url.Values{}
	if subUserID > 0 {
		v.Set("subuser_id", strconv.FormatInt(subUserID, 10))
	}
	var out VerificationSession
	if err := c.call(ctx, "GetVerificationSession", creds, v, &out); err != nil {
		return VerificationSession{}, err
	}
	return out, nil
}

type AccountDocuments struct {
	VerificationStatus string `json:"verification_status"`
	Comment            string `json:"comment,omitempty"`
}

func (c *Client) GetAccountDocuments(ctx context.Context, creds Credentials) (AccountDocuments, error) {
	var out AccountDocuments
	err := c.call(ctx, "GetAccountDocuments", creds, nil, &out)
	return out, err
}

type AccountInfo struct {
	AccountID string  `json:"account_id"`
	Balance   float64 `json:"balance"`
	Currency  string  `json:"currency"`
	Active    bool    `json:"active"`
	Frozen    bool    `json:"frozen"`
}

func (c *Client) GetAccountInfo(ctx context.Context, creds Credentials) (AccountInfo, error) {
	var out AccountInfo
	err := c.call(ctx, "GetAccountInfo", creds, nil, &out)
	return out, err
}

type AvailableNumber struct {
	Number      string  `json:"phone_number"`
	CountryCode string  `json:"country_code"`
	RegionName  string  `json:"phone_region_name"`
	MonthlyFee  float64 `json:"phone_price"`
}

// GetNewPhoneNumbers lists numbers available for rent in a region.
func (c *Client) GetNewPhoneNumbers(ctx context.Context, creds Credentials, countryCode, region string, count int) ([]AvailableNumber, error) {
	v := url.Values{}
	v.Set("country_code", countryCode)
	if region != "" {
		v.Set("phone_region_name", region)
	}
	if count > 0 {
		v.Set("count", strconv.Itoa(count))
	}
	var out []AvailableNumber
	err := c.call(ctx, "GetNewPhoneNumbers", creds, v, &out)
	return out, err
}

type AttachedNumber struct {
	PhoneID int64  `json:"phone_id"`
	Number  string `json:"phone_number"`
}

// AttachPhoneNumber rents a number into the account.
func (c *Client) AttachPhoneNumber(ctx context.Context, creds Credentials, number string) (AttachedNumber, error) {
	v := url.Values{}
	v.Set("phone_number", number)
	var out AttachedNumber
	if err := c.call(ctx, "AttachPhoneNumber", creds, v, &out); err != nil {
		return AttachedNumber{}, err
	}
	if out.PhoneID == 0 {
		return AttachedNumber{}, &APIError{Method: "AttachPhoneNumber", HTTPStatus: 200, Msg: "result is missing phone_id"}
	}
	return out, nil
}

// BindPhoneNumberToApplication routes inbound calls on a number to an
// application rule.
func (c *Client) BindPhoneNumberToApplication(ctx context.Context, creds Credentials, phoneID, applicationID, ruleID int64) error {
	v := url.Values{}
	v.Set("phone_id", strconv.FormatInt(phoneID, 10))
	v.Set("application_id", strconv.FormatInt(applicationID, 10))
	if ruleID > 0 {
		v.Set("rule_id", strconv.FormatInt(ruleID, 10))
	}
	return c.call(ctx, "BindPhoneNumberToApplication", creds, v, nil)
}

type Application struct {
	ID   int64  `json:"application_id"`
	Name string `json:"application_name"`
}

func (c *Client) GetApplications(ctx context.Context, creds Credentials, name string) ([]Application, error) {
	v := url.Values{}
	if name != "" {
		v.Set("application_name", name)
	}
	var out []Application
	err := c.call(ctx, "GetApplications", creds, v, &out)
	return out, err
}

func (c *Client) AddApplication(ctx context.Context, creds Credentials, name string) (Application, error) {
	v := url.Values{}
	v.Set("application_name", name)
	var out Application
	if err := c.call(ctx, "AddApplication", creds, v, &out); err != nil {
		return Application{}, err
	}
	if out.ID == 0 {
		return Application{}, &APIError{Method: "AddApplication", HTTPStatus: 200, Msg: "result is missing application_id"}
	}
	if out.Name == "" {
		out.Name = name
	}
	return out, nil
}

type Scenario struct {
	ID     int64  `json:"scenario_id"`
	Name   string `json:"scenario_name"`
	Script string `json:"scenario_script,omitempty"`
}

type ScenarioFilter struct {
	ID         int64
	Name       string
	WithScript bool
}

// GetScenarios lists scenarios. Script sources are only returned when
// WithScript is set, and the provider only honours that for a single id.
func (c *Client) GetScenarios(ctx context.Context, creds Credentials, f ScenarioFilter) ([]Scenario, error) {
	v := url.Values{}
	if f.ID > 0 {
		v.Set("scenario_id", strconv.FormatInt(f.ID, 10))
	}
	if f.Name != "" {
		v.Set("scenario_name", f.Name)
	}
	if f.WithScript {
		v.Set("with_script", "true")
	}
	var out []Scenario
	err := c.call(ctx, "GetScenarios", creds, v, &out)
	return out, err
}

func (c *Client) AddScenario(ctx context.Context, creds Credentials, name, script string) (int64, error) {
	v := url.Values{}
	v.Set("scenario_name", name)
	v.Set("scenario_script", script)
	var out Scenario
	if err := c.call(ctx, "AddScenario", creds, v, &out); err != nil {
		return 0, err
	}
	if out.ID == 0 {
		return 0, &APIError{Method: "AddScenario", HTTPStatus: 200, Msg: "result is missing scenario_id"}
	}
	return out.ID, nil
}

func (c *Client) SetScenarioInfo(ctx context.Context, creds Credentials, id int64, name, script string) error {
	v := url.Values{}
	v.Set("scenario_id", strconv.FormatInt(id, 10))
	v.Set("scenario_name", name)
	v.Set("scenario_script", script)
	return c.call(ctx, "SetScenarioInfo", creds, v, nil)
}

type Rule struct {
	ID          int64   `json:"rule_id"`
	Name        string  `json:"rule_name"`
	Pattern     string  `json:"rule_pattern"`
	ScenarioIDs []int64 `json:"scenario_ids,omitempty"`
}

type RuleSpec struct {
	ApplicationID int64
	Name          string
	Pattern       string
	ScenarioID    int64
}

func (s RuleSpec) params() url.Values {
	v := url.Values{}
	v.Set("application_id", strconv.FormatInt(s.ApplicationID, 10))
	v.Set("rule_name", s.Name)
	v.Set("rule_pattern", s.Pattern)
	v.Set("scenario_id", strconv.FormatInt(s.ScenarioID, 10))
	return v
}

func (c *Client) GetRules(ctx context.Context, creds Credentials, applicationID int64) ([]Rule, error) {
	v := url.Values{}
	v.Set("application_id", strconv.FormatInt(applicationID, 10))
	var out []Rule
	err := c.call(ctx, "GetRules", creds, v, &out)
	return out, err
}

func (c *Client) AddRule(ctx context.Context, creds Credentials, spec RuleSpec) (int64, error) {
	var out Rule
	if err := c.call(ctx, "AddRule", creds, spec.params(), &out); err != nil {
		return 0, err
	}
	if out.ID == 0 {
		return 0, &APIError{Method: "AddRule", HTTPStatus: 200, Msg: "result is missing rule_id"}
	}
	return out.ID, nil
}

func (c *Client) SetRuleInfo(ctx context.Context, creds Credentials, ruleID int64, spec RuleSpec) error {
	v := spec.params()
	v.Set("rule_id", strconv.FormatInt(ruleID, 10))
	return c.call(ctx, "SetRuleInfo", creds, v, nil)
}

func (c *Client) DelRule(ctx context.Context, creds Credentials, ruleID int64) error {
	v := url.Values{}
	v.Set("rule_id", strconv.FormatInt(ruleID, 10))
	return c.call(ctx, "DelRule", creds, v, nil)
}

// ServiceKey is only ever returned once, at creation time.
type ServiceKey struct {
	KeyID         string `json:"key_id"`
	PrivateKeyPEM string `json:"private_key"`
}

type KeyInfo struct {
	KeyID       string `json:"key_id"`
	Description string `json:"description"`
}

func (c *Client) CreateKey(ctx context.Context, creds Credentials, description string, roles []string) (ServiceKey, error) {
	v := url.Values{}
	v.Set("description", description)
	if len(roles) > 0 {
		v.Set("role_name", strings.Join(roles, ";"))
	}
	var out ServiceKey
	if err := c.call(ctx, "CreateKey", creds, v, &out); err != nil {
		return ServiceKey{}, err
	}
	if out.KeyID == "" || out.PrivateKeyPEM == "" {
		return ServiceKey{}, &APIError{Method: "CreateKey", HTTPStatus: 200, Msg: "result is missing key_id or private_key"}
	}
	return out, nil
}

func (c *Client) GetKeys(ctx context.Context, creds Credentials) ([]KeyInfo, error) {
	var out []KeyInfo
	err := c.call(ctx, "GetKeys", creds, nil, &out)
	return out, err
}

func (c *Client) DeleteKey(ctx context.Context, creds Credentials, keyID string) error {
	v := url.Values{}
	v.Set("key_id", keyID)
	return c.call(ctx, "DeleteKey", creds, v, nil)
}

// StartResult identifies a placed call.
type StartResult struct {
	SessionID             string `json:"call_session_history_id"`
	MediaSessionAccessURL string `json:"media_session_access_url,omitempty"`
}

// UnmarshalJSON accepts the session id as either a JSON number or string.
func (r *StartResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		SessionID             any    `json:"call_session_history_id"`
		MediaSessionAccessURL string `json:"media_session_access_url"`
	}
	// Session ids exceed 2^53, so numbers must not pass through float64.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.SessionID.(type) {
	case string:
		r.SessionID = v
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("call_session_history_id is not an integer: %s", v)
		}
		r.SessionID = v.String()
	case nil:
		r.SessionID = ""
	default:
		return errors.New("call_session_history_id has unexpected type")
	}
	r.MediaSessionAccessURL = raw.MediaSessionAccessURL
	return nil
}

// StartScenarios places a call by running the scenario bound to ruleID with
// customData passed through opaquely to the scenario.
func (c *Client) StartScenarios(ctx context.Context, creds Credentials, ruleID int64, customData string) (StartResult, error) {
	v := url.Values{}
	v.Set("rule_id", strconv.FormatInt(ruleID, 10))
	v.Set("script_custom_data", customData)
	var out StartResult
	if err := c.call(ctx, "StartScenarios", creds, v, &out); err != nil {
		return StartResult{}, err
	}
	if out.SessionID == "" {
		return StartResult{}, &APIError{Method: "StartScenarios", HTTPStatus: 200, Msg: "result is missing call_session_history_id"}
	}
	return out, nil
}

// SetAccountCallback registers the URL that receives account events such as
// verification status changes.
func (c *Client) SetAccountCallback(ctx context.Context, creds Credentials, callbackURL string) error {
	v := url.Values{}
	v.Set("callback_url", callbackURL)
	v.Set("account_document_status", "true")
	return c.call(ctx, "SetAccountCallback", creds, v, nil)
}

type AccountCallback struct {
	URL string `json:"callback_url"`
}

func (c *Client) GetAccountCallback(ctx context.Context, creds Credentials) (AccountCallback, error) {
	var out AccountCallback
	err := c.call(ctx, "GetAccountCallback", creds, nil, &out)
	return out, err
}
