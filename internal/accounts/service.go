package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"call-scheduler/pkg/logger"
)

// Service exposes read models and observed state changes for telephony accounts.
// Provisioning writes go through internal/provisioning.
type Service struct {
	registry Registry
}

func NewService(registry Registry) *Service {
	return &Service{registry: registry}
}

// GetAccountStatus returns the tenant's account view. A tenant without an
// account gets Exists=false rather than an error.
func (s *Service) GetAccountStatus(ctx context.Context, tenantID string) (AccountStatus, error) {
	if tenantID == "" {
		return AccountStatus{}, ErrInvalidArgument
	}
	a, err := s.registry.GetByTenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return AccountStatus{
			TenantID:           tenantID,
			VerificationStatus: VerificationNotStarted,
			PhoneNumbers:       []PhoneNumber{},
			Deficiencies:       []string{"telephony account not provisioned"},
		}, nil
	}
	if err != nil {
		return AccountStatus{}, err
	}

	nums := a.PhoneNumbers
	if nums == nil {
		nums = []PhoneNumber{}
	}
	return AccountStatus{
		Exists:               true,
		TenantID:             a.TenantID,
		ProviderAccountID:    a.ProviderAccountID,
		VerificationStatus:   a.VerificationStatus,
		IsActive:             a.IsActive,
		PhoneNumbers:         nums,
		ScenarioCount:        len(a.Scenarios),
		RuleCount:            len(a.Rules),
		HasServiceAccount:    a.ServiceAccount != nil,
		CanMakeOutboundCalls: a.CanMakeOutboundCalls(),
		Deficiencies:         a.Deficiencies(),
	}, nil
}

// ApplyVerificationStatus records a status observed from the provider (webhook
// or poll). Unchanged statuses are a no-op.
func (s *Service) ApplyVerificationStatus(ctx context.Context, providerAccountID string, status VerificationStatus) (changed bool, err error) {
	if providerAccountID == "" || !status.Valid() {
		return false, ErrInvalidArgument
	}
	a, err := s.registry.GetByProviderAccount(ctx, providerAccountID)
	if err != nil {
		return false, err
	}
	if a.VerificationStatus == status {
		return false, nil
	}
	if err := s.registry.SetVerificationStatus(ctx, a.ID, status); err != nil {
		return false, fmt.Errorf("accounts: set verification status: %w", err)
	}
	logger.From(ctx).InfoContext(ctx, "verification status changed",
		"tenant_id", a.TenantID,
		"provider_account_id", providerAccountID,
		"from", a.VerificationStatus,
		"to", status,
	)
	return true, nil
}

// ParseProviderVerificationStatus maps the provider's document/verification
// state strings onto VerificationStatus.
func ParseProviderVerificationStatus(raw string) (VerificationStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "NOT_STARTED", "NOT_REQUIRED_YET":
		return VerificationNotStarted, true
	case "AWAITING_DOCUMENTS_UPLOADING", "AWAITING_DOCUMENTS":
		return VerificationAwaitingDocuments, true
	case "AWAITING_AGREEMENT_UPLOADING", "AWAITING_AGREEMENT":
		return VerificationAwaitingAgreement, true
	case "AWAITING_VERIFICATION", "IN_PROGRESS", "WAITING_FOR_CONFIRMATION":
		return VerificationAwaitingVerification, true
	case "VERIFIED", "ACCEPTED":
		return VerificationVerified, true
	case "REJECTED", "DECLINED":
		return VerificationRejected, true
	default:
		return "", false
	}
}
