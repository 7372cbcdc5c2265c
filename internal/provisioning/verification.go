package provisioning

import (
	"context"
	"fmt"
	"time"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"

	"github.com/robfig/cron/v3"
)

type DocumentsAPI interface {
	GetAccountDocuments(ctx context.Context, creds telephony.Credentials) (telephony.AccountDocuments, error)
}

// VerificationSync keeps VerificationStatus in step with the provider, from
// pushed callbacks and from a periodic poll.
type VerificationSync struct {
	registry accounts.Registry
	accounts *accounts.Service
	api      DocumentsAPI
	timeout  time.Duration
}

func NewVerificationSync(registry accounts.Registry, svc *accounts.Service, api DocumentsAPI, pollTimeout time.Duration) *VerificationSync {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Minute
	}
	return &VerificationSync{registry: registry, accounts: svc, api: api, timeout: pollTimeout}
}

// ApplyProviderStatus implements telephony.VerificationSink.
func (v *VerificationSync) ApplyProviderStatus(ctx context.Context, providerAccountID, rawStatus string) error {
	status, ok := accounts.ParseProviderVerificationStatus(rawStatus)
	if !ok {
		return fmt.Errorf("provisioning: unknown verification status %q", rawStatus)
	}
	_, err := v.accounts.ApplyVerificationStatus(ctx, providerAccountID, status)
	return err
}

// SyncAll polls every account that is not yet verified. Per-account failures
// are logged and counted; the poll carries on.
func (v *VerificationSync) SyncAll(ctx context.Context) (changed, failed int, err error) {
	all, err := v.registry.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("provisioning: list accounts: %w", err)
	}
	log := logger.From(ctx)
	for _, a := range all {
		if err := ctx.Err(); err != nil {
			return changed, failed, err
		}
		if !a.HasCredentials() || a.VerificationStatus == accounts.VerificationVerified {
			continue
		}
		docs, err := v.api.GetAccountDocuments(ctx, credsOf(&a))
		if err != nil {
			failed++
			log.WarnContext(ctx, "verification poll failed", "tenant_id", a.TenantID, "err", err)
			continue
		}
		status, ok := accounts.ParseProviderVerificationStatus(docs.VerificationStatus)
		if !ok {
			failed++
			log.WarnContext(ctx, "verification poll returned unknown status",
				"tenant_id", a.TenantID, "status", docs.VerificationStatus)
			continue
		}
		did, err := v.accounts.ApplyVerificationStatus(ctx, a.ProviderAccountID, status)
		if err != nil {
			failed++
			log.WarnContext(ctx, "verification status not applied", "tenant_id", a.TenantID, "err", err)
			continue
		}
		if did {
			changed++
		}
	}
	return changed, failed, nil
}

// Schedule registers the poll on c using a standard cron spec or descriptor
// such as "@every 15m".
func (v *VerificationSync) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		changed, failed, err := v.SyncAll(runCtx)
		log := logger.From(ctx)
		if err != nil {
			log.ErrorContext(ctx, "verification sync aborted", "err", err)
			return
		}
		log.InfoContext(ctx, "verification sync finished", "changed", changed, "failed", failed)
	})
}

var _ telephony.VerificationSink = (*VerificationSync)(nil)
