package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Principal tells people apart from the assistant runtime, which schedules
// follow-up calls on a tenant's behalf.
type Principal string

const (
	PrincipalUser    Principal = "user"
	PrincipalService Principal = "service"
)

// Claims carry the caller's identity. The JWT subject is the user id, or the
// service name for service tokens. Every token is bound to one tenant.
type Claims struct {
	jwt.RegisteredClaims

	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
	Principal Principal `json:"principal"`
}

// Validate runs after the registered claims have been checked by the parser.
func (c Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("subject missing")
	}
	if c.TenantID == "" {
		return errors.New("tenant_id missing")
	}
	switch c.Principal {
	case PrincipalUser:
	case PrincipalService:
		if c.TokenType != TokenTypeAccess {
			return errors.New("service principals only hold access tokens")
		}
	default:
		return errors.New("unknown principal")
	}
	if c.TokenType == TokenTypeAccess && c.Role == "" {
		return errors.New("role missing in access token")
	}
	return nil
}

// Identity is what the rest of the service sees of an authenticated caller.
func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, TenantID: c.TenantID, Role: c.Role, Principal: c.Principal}
}
