package mediaauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"call-scheduler/internal/accounts"

	"github.com/golang-jwt/jwt/v5"
)

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

func accountWithKey(pemText string) accounts.TelephonyAccount {
	return accounts.TelephonyAccount{
		TenantID:          "t1",
		ProviderAccountID: "10042",
		ServiceAccount:    &accounts.ServiceAccountCredential{KeyID: "key-abc", PrivateKeyPEM: pemText},
	}
}

func TestIssue_Claims(t *testing.T) {
	key, pemText := testKey(t)
	now := time.Unix(1700000000, 0).UTC()
	iss := &Issuer{now: func() time.Time { return now }}

	tok, err := iss.Issue(accountWithKey(pemText))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	).ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Header["kid"] != "key-abc" {
		t.Fatalf("unexpected kid %v", parsed.Header["kid"])
	}
	if claims.Issuer != "10042" {
		t.Fatalf("unexpected iss %q", claims.Issuer)
	}
	if !claims.IssuedAt.Time.Equal(now.Add(-5 * time.Second)) {
		t.Fatalf("unexpected iat %v", claims.IssuedAt.Time)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(60 * time.Second)) {
		t.Fatalf("unexpected exp %v", claims.ExpiresAt.Time)
	}
}

func TestIssue_NoServiceAccount(t *testing.T) {
	_, err := NewIssuer().Issue(accounts.TelephonyAccount{ProviderAccountID: "1"})
	if err != ErrNoServiceAccount {
		t.Fatalf("expected ErrNoServiceAccount, got %v", err)
	}
}

func TestIssue_BadKey(t *testing.T) {
	if _, err := NewIssuer().Issue(accountWithKey("not a key")); err == nil {
		t.Fatalf("expected parse error")
	}
}

type lookupFunc func(ctx context.Context, tenantID string) (accounts.TelephonyAccount, error)

func (f lookupFunc) GetByTenant(ctx context.Context, tenantID string) (accounts.TelephonyAccount, error) {
	return f(ctx, tenantID)
}

func TestIsSecureRecordingURL(t *testing.T) {
	cases := map[string]bool{
		"https://storage.example.com/records/1.mp3":        false,
		"https://secure-storage.example.com/records/1.mp3": true,
		"https://storage.example.com/SECURE/records/1.mp3": true,
		"https://storage.example.com/r.mp3?secure=1":       false,
	}
	for raw, want := range cases {
		if got := IsSecureRecordingURL(raw); got != want {
			t.Fatalf("%s: expected %v, got %v", raw, want, got)
		}
	}
}

func TestRecordingAuthorizer(t *testing.T) {
	_, pemText := testKey(t)
	calls := 0
	a := NewRecordingAuthorizer(lookupFunc(func(_ context.Context, tenantID string) (accounts.TelephonyAccount, error) {
		calls++
		if tenantID != "t1" {
			return accounts.TelephonyAccount{}, accounts.ErrNotFound
		}
		return accountWithKey(pemText), nil
	}), nil)

	h, err := a.Authorize(context.Background(), "t1", "https://storage.example.com/public/1.mp3")
	if err != nil || h != "" {
		t.Fatalf("public url: expected no header, got %q %v", h, err)
	}
	if calls != 0 {
		t.Fatalf("public urls must not load the account")
	}

	h, err = a.Authorize(context.Background(), "t1", "https://secure.example.com/1.mp3")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.HasPrefix(h, "Bearer ") || len(h) <= len("Bearer ") {
		t.Fatalf("unexpected header %q", h)
	}

	if _, err := a.Authorize(context.Background(), "other", "https://secure.example.com/1.mp3"); err == nil {
		t.Fatalf("expected error for unknown tenant")
	}
}
