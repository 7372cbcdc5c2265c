package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory Registry for tests and local development.
type MemoryRegistry struct {
	mu       sync.Mutex
	accounts map[string]TelephonyAccount // by account id
	numbers  map[string][]PhoneNumber    // by account id
	clock    func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		accounts: map[string]TelephonyAccount{},
		numbers:  map[string][]PhoneNumber{},
		clock:    time.Now,
	}
}

func (r *MemoryRegistry) GetByTenant(ctx context.Context, tenantID string) (TelephonyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.TenantID == tenantID {
			return r.hydrate(a), nil
		}
	}
	return TelephonyAccount{}, ErrNotFound
}

func (r *MemoryRegistry) GetByProviderAccount(ctx context.Context, providerAccountID string) (TelephonyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ProviderAccountID != "" && a.ProviderAccountID == providerAccountID {
			return r.hydrate(a), nil
		}
	}
	return TelephonyAccount{}, ErrNotFound
}

func (r *MemoryRegistry) List(ctx context.Context) ([]TelephonyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TelephonyAccount, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, r.hydrate(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRegistry) Create(ctx context.Context, a TelephonyAccount) (TelephonyAccount, error) {
	if a.TenantID == "" {
		return TelephonyAccount{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.TenantID == a.TenantID {
			return TelephonyAccount{}, ErrAlreadyExists
		}
	}
	now := r.clock().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = VerificationNotStarted
	}
	a.CreatedAt, a.UpdatedAt = now, now
	a.PhoneNumbers = nil
	a.Scenarios = copyMap(a.Scenarios)
	a.Rules = copyMap(a.Rules)
	r.accounts[a.ID] = a
	return r.hydrate(a), nil
}

func (r *MemoryRegistry) Update(ctx context.Context, a TelephonyAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	cur.ProviderAccountID = a.ProviderAccountID
	cur.APIKey = a.APIKey
	cur.SubUserID = a.SubUserID
	cur.SubUserLogin = a.SubUserLogin
	cur.ApplicationID = a.ApplicationID
	cur.ApplicationName = a.ApplicationName
	cur.IsActive = a.IsActive
	cur.Scenarios = copyMap(a.Scenarios)
	cur.Rules = copyMap(a.Rules)
	cur.CallbackURL = a.CallbackURL
	cur.UpdatedAt = r.clock().UTC()
	r.accounts[a.ID] = cur
	return nil
}

func (r *MemoryRegistry) SetVerificationStatus(ctx context.Context, accountID string, status VerificationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	cur.VerificationStatus = status
	cur.UpdatedAt = r.clock().UTC()
	r.accounts[accountID] = cur
	return nil
}

func (r *MemoryRegistry) SaveServiceAccount(ctx context.Context, accountID string, cred ServiceAccountCredential) error {
	if cred.KeyID == "" || cred.PrivateKeyPEM == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if cur.ServiceAccount != nil {
		return ErrServiceAccountExists
	}
	c := cred
	cur.ServiceAccount = &c
	r.accounts[accountID] = cur
	return nil
}

func (r *MemoryRegistry) AddPhoneNumber(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	if n.AccountID == "" || n.Number == "" {
		return PhoneNumber{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[n.AccountID]; !ok {
		return PhoneNumber{}, ErrNotFound
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.clock().UTC()
	}
	r.numbers[n.AccountID] = append(r.numbers[n.AccountID], n)
	return n, nil
}

func (r *MemoryRegistry) UpdatePhoneNumber(ctx context.Context, n PhoneNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	nums := r.numbers[n.AccountID]
	for i := range nums {
		if nums[i].ID == n.ID {
			nums[i].AssistantID = n.AssistantID
			nums[i].AssistantKind = n.AssistantKind
			nums[i].InboundRuleID = n.InboundRuleID
			nums[i].IsActive = n.IsActive
			nums[i].Position = n.Position
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRegistry) hydrate(a TelephonyAccount) TelephonyAccount {
	a.Scenarios = copyMap(a.Scenarios)
	a.Rules = copyMap(a.Rules)
	a.PhoneNumbers = append([]PhoneNumber(nil), r.numbers[a.ID]...)
	if a.ServiceAccount != nil {
		c := *a.ServiceAccount
		a.ServiceAccount = &c
	}
	return a
}

func copyMap(in map[Category]int64) map[Category]int64 {
	out := make(map[Category]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
