package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call-scheduler/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRegistry stores accounts in telephony_accounts and
// telephony_phone_numbers (see internal/migrations).
type PostgresRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, clock: time.Now}
}

const accountColumns = `
id, tenant_id, provider_account_id, api_key, sub_user_id, sub_user_login,
application_id, application_name, verification_status, is_active,
scenarios, rules, service_key_id, service_private_key, callback_url,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (TelephonyAccount, error) {
	var (
		a                 TelephonyAccount
		scenarios, rules  []byte
		keyID, privateKey sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ProviderAccountID,
		&a.APIKey,
		&a.SubUserID,
		&a.SubUserLogin,
		&a.ApplicationID,
		&a.ApplicationName,
		&a.VerificationStatus,
		&a.IsActive,
		&scenarios,
		&rules,
		&keyID,
		&privateKey,
		&a.CallbackURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TelephonyAccount{}, ErrNotFound
		}
		return TelephonyAccount{}, err
	}
	a.Scenarios = map[Category]int64{}
	a.Rules = map[Category]int64{}
	if len(scenarios) > 0 {
		if err := json.Unmarshal(scenarios, &a.Scenarios); err != nil {
			return TelephonyAccount{}, fmt.Errorf("accounts: decode scenarios: %w", err)
		}
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &a.Rules); err != nil {
			return TelephonyAccount{}, fmt.Errorf("accounts: decode rules: %w", err)
		}
	}
	if keyID.Valid && privateKey.Valid && keyID.String != "" {
		a.ServiceAccount = &ServiceAccountCredential{KeyID: keyID.String, PrivateKeyPEM: privateKey.String}
	}
	return a, nil
}

func (r *PostgresRegistry) GetByTenant(ctx context.Context, tenantID string) (TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts WHERE tenant_id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, tenantID))
	if err != nil {
		return TelephonyAccount{}, err
	}
	return r.withNumbers(ctx, a)
}

func (r *PostgresRegistry) GetByProviderAccount(ctx context.Context, providerAccountID string) (TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts WHERE provider_account_id = $1 AND provider_account_id <> ''`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, providerAccountID))
	if err != nil {
		return TelephonyAccount{}, err
	}
	return r.withNumbers(ctx, a)
}

func (r *PostgresRegistry) List(ctx context.Context) ([]TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TelephonyAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i], err = r.withNumbers(ctx, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, a TelephonyAccount) (TelephonyAccount, error) {
	if a.TenantID == "" {
		return TelephonyAccount{}, ErrInvalidArgument
	}
	now := r.clock().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = VerificationNotStarted
	}
	a.CreatedAt, a.UpdatedAt = now, now
	scenarios, rules, err := encodeMaps(a)
	if err != nil {
		return TelephonyAccount{}, err
	}

	const q = `
INSERT INTO telephony_accounts (
  id, tenant_id, provider_account_id, api_key, sub_user_id, sub_user_login,
  application_id, application_name, verification_status, is_active,
  scenarios, rules, callback_url, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12::jsonb,$13,$14,$15)
`
	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.ProviderAccountID, a.APIKey, a.SubUserID, a.SubUserLogin,
		a.ApplicationID, a.ApplicationName, string(a.VerificationStatus), a.IsActive,
		scenarios, rules, a.CallbackURL, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return TelephonyAccount{}, ErrAlreadyExists
		}
		return TelephonyAccount{}, err
	}
	a.PhoneNumbers = nil
	a.ServiceAccount = nil
	return a, nil
}

func (r *PostgresRegistry) Update(ctx context.Context, a TelephonyAccount) error {
	scenarios, rules, err := encodeMaps(a)
	if err != nil {
		return err
	}
	const q = `
UPDATE telephony_accounts
SET provider_account_id = $2, api_key = $3, sub_user_id = $4, sub_user_login = $5,
    application_id = $6, application_name = $7, is_active = $8,
    scenarios = $9::jsonb, rules = $10::jsonb, callback_url = $11, updated_at = $12
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		a.ID, a.ProviderAccountID, a.APIKey, a.SubUserID, a.SubUserLogin,
		a.ApplicationID, a.ApplicationName, a.IsActive,
		scenarios, rules, a.CallbackURL, r.clock().UTC(),
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *PostgresRegistry) SetVerificationStatus(ctx context.Context, accountID string, status VerificationStatus) error {
	const q = `UPDATE telephony_accounts SET verification_status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, accountID, string(status), r.clock().UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *PostgresRegistry) SaveServiceAccount(ctx context.Context, accountID string, cred ServiceAccountCredential) error {
	if cred.KeyID == "" || cred.PrivateKeyPEM == "" {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var existing sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT service_key_id FROM telephony_accounts WHERE id = $1 FOR UPDATE`, accountID,
		).Scan(&existing)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if existing.Valid && existing.String != "" {
			return ErrServiceAccountExists
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE telephony_accounts SET service_key_id = $2, service_private_key = $3, updated_at = $4 WHERE id = $1`,
			accountID, cred.KeyID, cred.PrivateKeyPEM, r.clock().UTC(),
		)
		return err
	})
}

func (r *PostgresRegistry) AddPhoneNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	if n.AccountID == "" || n.Number == "" {
		return PhoneNumber{}, ErrInvalidArgument
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.clock().UTC()
	}
	const q = `
INSERT INTO telephony_phone_numbers (
  id, account_id, number, provider_number_id, assistant_id, assistant_kind,
  inbound_rule_id, is_active, position, created_at
) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		n.ID, n.AccountID, n.Number, n.ProviderNumberID, n.AssistantID, string(n.AssistantKind),
		n.InboundRuleID, n.IsActive, n.Position, n.CreatedAt,
	)
	if err != nil {
		return PhoneNumber{}, err
	}
	return n, nil
}

func (r *PostgresRegistry) UpdatePhoneNumber(ctx context.Context, n PhoneNumber) error {
	const q = `
UPDATE telephony_phone_numbers
SET assistant_id = NULLIF($3,''), assistant_kind = NULLIF($4,''), inbound_rule_id = $5,
    is_active = $6, position = $7
WHERE id = $1 AND account_id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		n.ID, n.AccountID, n.AssistantID, string(n.AssistantKind), n.InboundRuleID, n.IsActive, n.Position,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *PostgresRegistry) withNumbers(ctx context.Context, a TelephonyAccount) (TelephonyAccount, error) {
	const q = `
SELECT id, account_id, number, provider_number_id, COALESCE(assistant_id, ''),
       COALESCE(assistant_kind, ''), inbound_rule_id, is_active, position, created_at
FROM telephony_phone_numbers
WHERE account_id = $1
ORDER BY position, created_at
`
	rows, err := r.db.QueryContext(ctx, q, a.ID)
	if err != nil {
		return TelephonyAccount{}, err
	}
	defer rows.Close()

	a.PhoneNumbers = nil
	for rows.Next() {
		var n PhoneNumber
		if err := rows.Scan(
			&n.ID, &n.AccountID, &n.Number, &n.ProviderNumberID, &n.AssistantID,
			&n.AssistantKind, &n.InboundRuleID, &n.IsActive, &n.Position, &n.CreatedAt,
		); err != nil {
			return TelephonyAccount{}, err
		}
		a.PhoneNumbers = append(a.PhoneNumbers, n)
	}
	return a, rows.Err()
}

func encodeMaps(a TelephonyAccount) (scenarios, rules string, err error) {
	s, err := json.Marshal(copyMap(a.Scenarios))
	if err != nil {
		return "", "", err
	}
	r, err := json.Marshal(copyMap(a.Rules))
	if err != nil {
		return "", "", err
	}
	return string(s), string(r), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
