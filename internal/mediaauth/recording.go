package mediaauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"call-scheduler/internal/accounts"
)

const bearerPrefix = "Bearer "

type AccountLookup interface {
	GetByTenant(ctx context.Context, tenantID string) (accounts.TelephonyAccount, error)
}

// RecordingAuthorizer builds the Authorization header needed to download a
// call recording. Only secure recording URLs need one.
type RecordingAuthorizer struct {
	accounts AccountLookup
	issuer   *Issuer
}

func NewRecordingAuthorizer(lookup AccountLookup, issuer *Issuer) *RecordingAuthorizer {
	if issuer == nil {
		issuer = NewIssuer()
	}
	return &RecordingAuthorizer{accounts: lookup, issuer: issuer}
}

// Authorize returns ("", nil) for public recording URLs.
func (a *RecordingAuthorizer) Authorize(ctx context.Context, tenantID, recordingURL string) (string, error) {
	if !IsSecureRecordingURL(recordingURL) {
		return "", nil
	}
	acc, err := a.accounts.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("mediaauth: load account: %w", err)
	}
	tok, err := a.issuer.Issue(acc)
	if err != nil {
		return "", err
	}
	return bearerPrefix + tok, nil
}

// IsSecureRecordingURL reports whether the URL's host or path mentions "secure".
func IsSecureRecordingURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(strings.ToLower(raw), "secure")
	}
	return strings.Contains(strings.ToLower(u.Host), "secure") ||
		strings.Contains(strings.ToLower(u.Path), "secure")
}
