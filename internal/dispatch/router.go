package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"call-scheduler/internal/accounts"
)

// LegacyConfigSource returns (LegacyConfig{}, false, nil) when the tenant has none.
type LegacyConfigSource interface {
	Get(ctx context.Context, tenantID string) (LegacyConfig, bool, error)
}

type AccountSource interface {
	GetByTenant(ctx context.Context, tenantID string) (accounts.TelephonyAccount, error)
}

// Router decides how a tenant's calls are placed. Select is pure; Resolve
// loads the inputs and then calls Select.
//
// Priority:
//  1. per-tenant account that can make outbound calls
//  2. complete legacy configuration
//  3. unavailable, with the reasons the tenant can act on
type Router struct {
	Accounts AccountSource
	Legacy   LegacyConfigSource
}

func NewRouter(accts AccountSource, legacy LegacyConfigSource) *Router {
	return &Router{Accounts: accts, Legacy: legacy}
}

func Select(account *accounts.TelephonyAccount, legacy *LegacyConfig) Selection {
	if account != nil && account.CanMakeOutboundCalls() {
		return Selection{Path: PathPerTenant, Account: account}
	}
	if legacy != nil && legacy.Complete() {
		return Selection{Path: PathLegacy, Legacy: legacy}
	}
	return Selection{Path: PathUnavailable, Reason: unavailableReason(account, legacy)}
}

func unavailableReason(account *accounts.TelephonyAccount, legacy *LegacyConfig) string {
	var parts []string
	if account == nil {
		parts = append(parts, "telephony account not provisioned")
	} else {
		parts = append(parts, account.Deficiencies()...)
	}
	if legacy != nil && !legacy.Complete() {
		parts = append(parts, "legacy telephony configuration is incomplete")
	}
	return "no dispatch path: " + strings.Join(parts, "; ")
}

// Resolve loads the tenant's account and legacy configuration and selects a path.
// Lookup failures are returned as errors, never as an unavailable selection.
func (r *Router) Resolve(ctx context.Context, tenantID string) (Selection, error) {
	if tenantID == "" {
		return Selection{}, errors.New("dispatch: tenant_id required")
	}

	var account *accounts.TelephonyAccount
	if r.Accounts != nil {
		a, err := r.Accounts.GetByTenant(ctx, tenantID)
		switch {
		case err == nil:
			account = &a
		case errors.Is(err, accounts.ErrNotFound):
		default:
			return Selection{}, fmt.Errorf("dispatch: load account: %w", err)
		}
	}
	if account != nil && account.CanMakeOutboundCalls() {
		return Select(account, nil), nil
	}

	var legacy *LegacyConfig
	if r.Legacy != nil {
		cfg, found, err := r.Legacy.Get(ctx, tenantID)
		if err != nil {
			return Selection{}, fmt.Errorf("dispatch: load legacy config: %w", err)
		}
		if found {
			legacy = &cfg
		}
	}
	return Select(account, legacy), nil
}
