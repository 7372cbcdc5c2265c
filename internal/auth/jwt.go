package auth

import (
	"errors"
	"fmt"
	"time"

	"call-scheduler/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("auth: invalid token")

// clockSkew is tolerated on exp/iat between this service and the token issuer.
const clockSkew = 30 * time.Second

// Manager issues and verifies HS256 tokens shared with the identity service.
type Manager struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	m := &Manager{
		key:        []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = 15 * time.Minute
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 7 * 24 * time.Hour
	}
	return m, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access token and a role-less refresh token for a user.
func (m *Manager) IssuePair(now time.Time, userID, tenantID, role string) (TokenPair, error) {
	if userID == "" || tenantID == "" {
		return TokenPair{}, errors.New("user_id and tenant_id are required")
	}
	access, err := m.sign(now, m.accessTTL, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		TenantID:         tenantID,
		Role:             role,
		TokenType:        TokenTypeAccess,
		Principal:        PrincipalUser,
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(now, m.refreshTTL, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		TenantID:         tenantID,
		TokenType:        TokenTypeRefresh,
		Principal:        PrincipalUser,
	})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueServiceToken mints a short-lived access token for the assistant runtime,
// which schedules tasks on a tenant's behalf through the internal API.
func (m *Manager) IssueServiceToken(now time.Time, serviceName, tenantID, role string, ttl time.Duration) (string, error) {
	if serviceName == "" || tenantID == "" || role == "" {
		return "", errors.New("service name, tenant_id and role are required")
	}
	if ttl <= 0 || ttl > m.accessTTL {
		ttl = m.accessTTL
	}
	return m.sign(now, ttl, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: serviceName},
		TenantID:         tenantID,
		Role:             role,
		TokenType:        TokenTypeAccess,
		Principal:        PrincipalService,
	})
}

// Verify parses the token and checks signature, time claims against now,
// issuer and audience when configured, and the expected token type.
func (m *Manager) Verify(token string, expected TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, m.keyFunc, opts...); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != expected {
		return Claims{}, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, expected, claims.TokenType)
	}
	return claims, nil
}

func (m *Manager) keyFunc(*jwt.Token) (any, error) { return m.key, nil }

func (m *Manager) sign(now time.Time, ttl time.Duration, c Claims) (string, error) {
	c.Issuer = m.issuer
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	c.ID = uuid.NewString()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
}
