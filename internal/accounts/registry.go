package accounts

import (
	"context"
	"errors"
)

var (
	ErrNotFound             = errors.New("accounts: not found")
	ErrAlreadyExists        = errors.New("accounts: tenant already has a telephony account")
	ErrServiceAccountExists = errors.New("accounts: service account key already stored")
	ErrInvalidArgument      = errors.New("accounts: invalid argument")
)

// Registry persists telephony accounts and their numbers.
//
// GetByTenant and GetByProviderAccount return the account with PhoneNumbers
// and ServiceAccount populated.
type Registry interface {
	GetByTenant(ctx context.Context, tenantID string) (TelephonyAccount, error)
	GetByProviderAccount(ctx context.Context, providerAccountID string) (TelephonyAccount, error)
	List(ctx context.Context) ([]TelephonyAccount, error)

	Create(ctx context.Context, a TelephonyAccount) (TelephonyAccount, error)
	// Update overwrites provisioning fields. It never touches the service account or numbers.
	Update(ctx context.Context, a TelephonyAccount) error
	SetVerificationStatus(ctx context.Context, accountID string, status VerificationStatus) error

	// SaveServiceAccount is write-once per account.
	SaveServiceAccount(ctx context.Context, accountID string, cred ServiceAccountCredential) error

	AddPhoneNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error)
	UpdatePhoneNumber(ctx context.Context, n PhoneNumber) error
}
