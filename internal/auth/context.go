package auth

import (
	"context"
	"errors"
)

// Identity of the caller of the current request.
type Identity struct {
	UserID    string
	TenantID  string
	Role      string
	Principal Principal
}

type identityKey struct{}

var errNoIdentity = errors.New("auth: no identity in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.Principal == "" {
		id.Principal = PrincipalUser
	}
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	return field(ctx, "user_id", func(id Identity) string { return id.UserID })
}

func TenantID(ctx context.Context) (string, error) {
	return field(ctx, "tenant_id", func(id Identity) string { return id.TenantID })
}

func Role(ctx context.Context) (string, error) {
	return field(ctx, "role", func(id Identity) string { return id.Role })
}

// IsService reports whether the caller is the assistant runtime.
func IsService(ctx context.Context) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.Principal == PrincipalService
}

func field(ctx context.Context, name string, get func(Identity) string) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", errNoIdentity
	}
	if v := get(id); v != "" {
		return v, nil
	}
	return "", errors.New("auth: " + name + " not in context")
}
