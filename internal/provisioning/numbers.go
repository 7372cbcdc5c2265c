package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/assistants"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"
)

var ErrNotProvisioned = errors.New("provisioning: account is not fully provisioned")

// AccountOps covers tenant-initiated account operations: the verification
// session, the balance and phone numbers.
type AccountOps struct {
	registry    accounts.Registry
	api         AccountAPI
	countryCode string
}

func NewAccountOps(registry accounts.Registry, api AccountAPI, countryCode string) *AccountOps {
	if countryCode == "" {
		countryCode = "US"
	}
	return &AccountOps{registry: registry, api: api, countryCode: countryCode}
}

func (s *AccountOps) load(ctx context.Context, tenantID string) (accounts.TelephonyAccount, error) {
	if tenantID == "" {
		return accounts.TelephonyAccount{}, accounts.ErrInvalidArgument
	}
	acc, err := s.registry.GetByTenant(ctx, tenantID)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.TelephonyAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return accounts.TelephonyAccount{}, err
	}
	if !acc.HasCredentials() {
		return accounts.TelephonyAccount{}, fmt.Errorf("%w: no provider credentials", ErrNotProvisioned)
	}
	return acc, nil
}

// VerificationURL returns a short-lived link to the provider's verification flow.
func (s *AccountOps) VerificationURL(ctx context.Context, tenantID string) (telephony.VerificationSession, error) {
	acc, err := s.load(ctx, tenantID)
	if err != nil {
		return telephony.VerificationSession{}, err
	}
	if acc.SubUserID == 0 {
		return telephony.VerificationSession{}, fmt.Errorf("%w: verification sub-user missing; run provisioning repair", ErrNotProvisioned)
	}
	return s.api.GetVerificationSession(ctx, credsOf(&acc), acc.SubUserID)
}

type Balance struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Frozen   bool    `json:"frozen"`
}

func (s *AccountOps) Balance(ctx context.Context, tenantID string) (Balance, error) {
	acc, err := s.load(ctx, tenantID)
	if err != nil {
		return Balance{}, err
	}
	info, err := s.api.GetAccountInfo(ctx, credsOf(&acc))
	if err != nil {
		return Balance{}, err
	}
	return Balance{Amount: info.Balance, Currency: info.Currency, Frozen: info.Frozen}, nil
}

func (s *AccountOps) AvailableNumbers(ctx context.Context, tenantID, region string) ([]telephony.AvailableNumber, error) {
	acc, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	nums, err := s.api.GetNewPhoneNumbers(ctx, credsOf(&acc), s.countryCode, strings.TrimSpace(region), 20)
	if err != nil {
		return nil, err
	}
	if nums == nil {
		nums = []telephony.AvailableNumber{}
	}
	return nums, nil
}

type PurchaseInput struct {
	Number    string
	Assistant assistants.Assistant
}

// PurchaseNumber rents a number and routes its inbound calls to the given
// assistant. The number is recorded inactive as soon as it is rented and only
// activated once the inbound route is in place, so a partial failure never
// loses track of a rented number.
func (s *AccountOps) PurchaseNumber(ctx context.Context, tenantID string, in PurchaseInput) (accounts.PhoneNumber, error) {
	number := strings.TrimSpace(in.Number)
	if number == "" || !in.Assistant.Kind.Valid() || in.Assistant.ID == "" {
		return accounts.PhoneNumber{}, accounts.ErrInvalidArgument
	}
	acc, err := s.load(ctx, tenantID)
	if err != nil {
		return accounts.PhoneNumber{}, err
	}
	if acc.ApplicationID == 0 {
		return accounts.PhoneNumber{}, fmt.Errorf("%w: application missing; run provisioning repair", ErrNotProvisioned)
	}
	inbound := accounts.InboundCategory(in.Assistant.Kind)
	scenarioID, ok := acc.Scenarios[inbound]
	if !ok || scenarioID == 0 {
		return accounts.PhoneNumber{}, fmt.Errorf("%w: %s scenario missing; run provisioning repair", ErrNotProvisioned, inbound)
	}

	creds := credsOf(&acc)
	attached, err := s.api.AttachPhoneNumber(ctx, creds, number)
	if err != nil {
		return accounts.PhoneNumber{}, err
	}

	if attached.Number == "" {
		attached.Number = number
	}
	rec, err := s.registry.AddPhoneNumber(ctx, accounts.PhoneNumber{
		AccountID:        acc.ID,
		Number:           attached.Number,
		ProviderNumberID: attached.PhoneID,
		AssistantID:      in.Assistant.ID,
		AssistantKind:    in.Assistant.Kind,
		Position:         nextPosition(acc.PhoneNumbers),
	})
	if err != nil {
		logger.From(ctx).ErrorContext(ctx, "rented number not recorded",
			"tenant_id", tenantID, "number", attached.Number, "phone_id", attached.PhoneID, "err", err)
		return accounts.PhoneNumber{}, fmt.Errorf("provisioning: record number: %w", err)
	}

	ruleID, err := s.api.AddRule(ctx, creds, telephony.RuleSpec{
		ApplicationID: acc.ApplicationID,
		Name:          fmt.Sprintf("%s_%s", inbound, strings.TrimPrefix(rec.Number, "+")),
		Pattern:       strings.TrimPrefix(rec.Number, "+"),
		ScenarioID:    scenarioID,
	})
	if err != nil {
		return rec, fmt.Errorf("provisioning: inbound rule for %s: %w", rec.Number, err)
	}
	if err := s.api.BindPhoneNumberToApplication(ctx, creds, attached.PhoneID, acc.ApplicationID, ruleID); err != nil {
		return rec, fmt.Errorf("provisioning: bind %s: %w", rec.Number, err)
	}

	rec.InboundRuleID = ruleID
	rec.IsActive = true
	if err := s.registry.UpdatePhoneNumber(ctx, rec); err != nil {
		return rec, fmt.Errorf("provisioning: activate number: %w", err)
	}
	return rec, nil
}

func nextPosition(nums []accounts.PhoneNumber) int {
	next := 0
	for _, n := range nums {
		if n.Position >= next {
			next = n.Position + 1
		}
	}
	return next
}
