// Package directory reads collaborator data owned by other services:
// contacts, assistants and the legacy per-tenant telephony configuration.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/dispatch"
)

var ErrNotFound = errors.New("directory: not found")

type Contacts struct {
	db *sql.DB
}

func NewContacts(db *sql.DB) *Contacts { return &Contacts{db: db} }

// Get implements dispatch.ContactLookup. Contacts of other tenants are reported as not found.
func (c *Contacts) Get(ctx context.Context, tenantID, contactID string) (dispatch.Contact, error) {
	var out dispatch.Contact
	err := c.db.QueryRowContext(ctx, `
SELECT id, tenant_id, display_name, phone_number
FROM contacts
WHERE id = $1 AND tenant_id = $2`, contactID, tenantID).Scan(&out.ID, &out.TenantID, &out.DisplayName, &out.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Contact{}, ErrNotFound
	}
	if err != nil {
		return dispatch.Contact{}, fmt.Errorf("directory: get contact: %w", err)
	}
	return out, nil
}

type Assistants struct {
	db *sql.DB
}

func NewAssistants(db *sql.DB) *Assistants { return &Assistants{db: db} }

// Resolve implements dispatch.AssistantResolver. The stored kind must match
// the kind the reference was made with.
func (a *Assistants) Resolve(ctx context.Context, tenantID string, ref assistants.Ref) (assistants.Assistant, error) {
	if err := ref.Validate(); err != nil {
		return assistants.Assistant{}, err
	}
	id, kind := ref.Resolve()

	var out assistants.Assistant
	err := a.db.QueryRowContext(ctx, `
SELECT id, tenant_id, display_name, kind
FROM assistants
WHERE id = $1 AND tenant_id = $2`, id, tenantID).Scan(&out.ID, &out.TenantID, &out.DisplayName, &out.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return assistants.Assistant{}, ErrNotFound
	}
	if err != nil {
		return assistants.Assistant{}, fmt.Errorf("directory: get assistant: %w", err)
	}
	if out.Kind != kind {
		return assistants.Assistant{}, fmt.Errorf("%w: assistant %s is %s, referenced as %s", ErrNotFound, id, out.Kind, kind)
	}
	return out, nil
}

type LegacyConfigs struct {
	db    *sql.DB
	clock func() time.Time
}

func NewLegacyConfigs(db *sql.DB) *LegacyConfigs { return &LegacyConfigs{db: db, clock: time.Now} }

// Get implements dispatch.LegacyConfigSource.
func (l *LegacyConfigs) Get(ctx context.Context, tenantID string) (dispatch.LegacyConfig, bool, error) {
	cfg := dispatch.LegacyConfig{TenantID: tenantID}
	err := l.db.QueryRowContext(ctx, `
SELECT account_id, api_key, rule_id, caller_id
FROM legacy_telephony_configs
WHERE tenant_id = $1`, tenantID).Scan(&cfg.AccountID, &cfg.APIKey, &cfg.RuleID, &cfg.CallerID)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.LegacyConfig{}, false, nil
	}
	if err != nil {
		return dispatch.LegacyConfig{}, false, fmt.Errorf("directory: get legacy config: %w", err)
	}
	return cfg, true, nil
}

func (l *LegacyConfigs) Upsert(ctx context.Context, cfg dispatch.LegacyConfig) error {
	if cfg.TenantID == "" {
		return errors.New("directory: tenant_id required")
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO legacy_telephony_configs (tenant_id, account_id, api_key, rule_id, caller_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id) DO UPDATE SET
  account_id = EXCLUDED.account_id,
  api_key    = EXCLUDED.api_key,
  rule_id    = EXCLUDED.rule_id,
  caller_id  = EXCLUDED.caller_id,
  updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.AccountID, cfg.APIKey, cfg.RuleID, cfg.CallerID, l.clock().UTC())
	if err != nil {
		return fmt.Errorf("directory: upsert legacy config: %w", err)
	}
	return nil
}

var (
	_ dispatch.ContactLookup      = (*Contacts)(nil)
	_ dispatch.AssistantResolver  = (*Assistants)(nil)
	_ dispatch.LegacyConfigSource = (*LegacyConfigs)(nil)
)
