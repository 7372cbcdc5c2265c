package auth

import (
	"errors"
	"testing"
	"time"

	"call-scheduler/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "tenant-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.TenantID != "tenant-1" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "tenant-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "t", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestIssueServiceToken(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	tok, err := m.IssueServiceToken(now, "assistant-runtime", "tenant-1", "service", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok, TokenTypeAccess, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "assistant-runtime" || claims.TenantID != "tenant-1" || claims.Role != "service" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if claims.Principal != PrincipalService {
		t.Fatalf("expected service principal, got %q", claims.Principal)
	}
	if _, err := m.IssueServiceToken(now, "assistant-runtime", "", "service", time.Minute); err == nil {
		t.Fatalf("expected tenant_id to be required")
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	m := newManager(t)
	other, _ := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud"})
	now := time.Now()
	p, err := other.IssuePair(now, "u", "t", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaimsValidate(t *testing.T) {
	base := Claims{TenantID: "t", Role: "member", TokenType: TokenTypeAccess, Principal: PrincipalUser}
	base.Subject = "u"
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid claims, got %v", err)
	}

	noTenant := base
	noTenant.TenantID = ""
	refreshService := base
	refreshService.Principal = PrincipalService
	refreshService.TokenType = TokenTypeRefresh
	noRole := base
	noRole.Role = ""
	for name, c := range map[string]Claims{"no tenant": noTenant, "service refresh": refreshService, "no role": noRole} {
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
