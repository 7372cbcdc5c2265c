package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/assistants"
	"call-scheduler/internal/audit"
	"call-scheduler/internal/auth"
	"call-scheduler/internal/mediaauth"
	"call-scheduler/internal/provisioning"
	"call-scheduler/internal/rbac"
	"call-scheduler/internal/reporting"
	"call-scheduler/internal/tasks"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Provisioner is satisfied by *provisioning.Orchestrator.
type Provisioner interface {
	Provision(ctx context.Context, tenantID string) (provisioning.Report, error)
	Repair(ctx context.Context, tenantID string) (provisioning.Report, error)
	RepairAll(ctx context.Context) ([]provisioning.Report, error)
}

// AccountOperations is satisfied by *provisioning.AccountOps.
type AccountOperations interface {
	VerificationURL(ctx context.Context, tenantID string) (telephony.VerificationSession, error)
	Balance(ctx context.Context, tenantID string) (provisioning.Balance, error)
	AvailableNumbers(ctx context.Context, tenantID, region string) ([]telephony.AvailableNumber, error)
	PurchaseNumber(ctx context.Context, tenantID string, in provisioning.PurchaseInput) (accounts.PhoneNumber, error)
}

type AssistantResolver interface {
	Resolve(ctx context.Context, tenantID string, ref assistants.Ref) (assistants.Assistant, error)
}

// RecordingAuthorizer is satisfied by *mediaauth.RecordingAuthorizer.
type RecordingAuthorizer interface {
	Authorize(ctx context.Context, tenantID, recordingURL string) (string, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Tasks        *tasks.Service
	Accounts     *accounts.Service
	Provisioner  Provisioner
	AccountOps   AccountOperations
	Assistants   AssistantResolver
	Reporting    *reporting.Service
	Audit        *audit.Service
	Recordings   RecordingAuthorizer
	AllowDevAuth bool
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Development only. Credentials are not checked; tokens normally come
// from the identity service that shares JWT_SECRET.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.AllowDevAuth {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	tid, _ := auth.TenantID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
}

// --- helpers ---

func tenantOf(c *gin.Context) (string, bool) {
	tid, err := auth.TenantID(c.Request.Context())
	if err != nil || tid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tid, true
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " not configured"})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrInvalidArgument),
		errors.Is(err, tasks.ErrUnknownReference),
		errors.Is(err, assistants.ErrInvalidRef),
		errors.Is(err, accounts.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, accounts.ErrNotFound),
		errors.Is(err, provisioning.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrNotEditable),
		errors.Is(err, provisioning.ErrNotProvisioned),
		errors.Is(err, mediaauth.ErrNoServiceAccount):
		return http.StatusConflict
	case errors.Is(err, telephony.ErrTransport):
		return http.StatusBadGateway
	}
	if _, ok := telephony.IsAPIError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err. Internal errors are logged and not echoed.
func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if code == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "error", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func actor(c *gin.Context) (userID, role string) {
	userID, _ = auth.UserID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return userID, role
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
