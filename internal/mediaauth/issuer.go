package mediaauth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"call-scheduler/internal/accounts"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issued-at is backdated to tolerate small clock drift against the provider.
	issuedAtSkew = 5 * time.Second
	tokenTTL     = 60 * time.Second
)

var ErrNoServiceAccount = errors.New("mediaauth: account has no service-account credential")

// Issuer signs short-lived RS256 tokens with an account's service-account key.
// The token authenticates the account against the provider's media endpoints.
type Issuer struct {
	now func() time.Time
}

func NewIssuer() *Issuer {
	return &Issuer{now: time.Now}
}

// Issue returns a compact JWT with kid set to the credential's key id and
// iss set to the provider account id.
func (i *Issuer) Issue(account accounts.TelephonyAccount) (string, error) {
	if account.ServiceAccount == nil {
		return "", ErrNoServiceAccount
	}
	if account.ProviderAccountID == "" {
		return "", errors.New("mediaauth: provider account id is empty")
	}
	key, err := parsePrivateKey(account.ServiceAccount.PrivateKeyPEM)
	if err != nil {
		return "", err
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    account.ProviderAccountID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-issuedAtSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = account.ServiceAccount.KeyID
	return t.SignedString(key)
}

func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("mediaauth: parse service-account key: %w", err)
	}
	return key, nil
}
