package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/audit"
	"call-scheduler/internal/directory"
	"call-scheduler/internal/provisioning"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetAccountStatus(c *gin.Context) {
	if h.Accounts == nil {
		notConfigured(c, "accounts")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	st, err := h.Accounts.GetAccountStatus(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Provision runs the full pipeline. Step failures are reported in the body;
// the status is 200 only when every step succeeded or was skipped.
func (h Handlers) Provision(c *gin.Context) {
	if h.Provisioner == nil {
		notConfigured(c, "provisioning")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	rep, err := h.Provisioner.Provision(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, tenantID, "provision: "+rep.Summary())
	c.JSON(reportStatus(rep), rep)
}

func (h Handlers) Repair(c *gin.Context) {
	if h.Provisioner == nil {
		notConfigured(c, "provisioning")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	rep, err := h.Provisioner.Repair(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, tenantID, "repair: "+rep.Summary())
	c.JSON(reportStatus(rep), rep)
}

// RepairAll is operator-only and runs across every tenant.
func (h Handlers) RepairAll(c *gin.Context) {
	if h.Provisioner == nil {
		notConfigured(c, "provisioning")
		return
	}
	reports, err := h.Provisioner.RepairAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
		h.logAdmin(c, r.TenantID, "repair-all: "+r.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"accounts": len(reports), "failed": failed, "reports": reports})
}

func reportStatus(rep provisioning.Report) int {
	if rep.OK() {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}

func (h Handlers) VerificationURL(c *gin.Context) {
	if h.AccountOps == nil {
		notConfigured(c, "account operations")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	sess, err := h.AccountOps.VerificationURL(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) Balance(c *gin.Context) {
	if h.AccountOps == nil {
		notConfigured(c, "account operations")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	bal, err := h.AccountOps.Balance(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) AvailableNumbers(c *gin.Context) {
	if h.AccountOps == nil {
		notConfigured(c, "account operations")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	nums, err := h.AccountOps.AvailableNumbers(c.Request.Context(), tenantID, c.Query("region"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": nums})
}

type purchaseNumberRequest struct {
	Number            string `json:"number"`
	OpenAIAssistantID string `json:"openai_assistant_id"`
	GeminiAssistantID string `json:"gemini_assistant_id"`
}

// PurchaseNumber rents a number and routes its inbound calls to an assistant.
func (h Handlers) PurchaseNumber(c *gin.Context) {
	if h.AccountOps == nil || h.Assistants == nil {
		notConfigured(c, "account operations")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	var req purchaseNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	asst, err := h.Assistants.Resolve(c.Request.Context(), tenantID, assistants.Ref{
		OpenAIAssistantID: req.OpenAIAssistantID,
		GeminiAssistantID: req.GeminiAssistantID,
	})
	if errors.Is(err, directory.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "assistant not found for tenant"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	num, err := h.AccountOps.PurchaseNumber(c.Request.Context(), tenantID, provisioning.PurchaseInput{
		Number:    req.Number,
		Assistant: asst,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, tenantID, fmt.Sprintf("purchased number %s for assistant %s", num.Number, asst.ID))
	c.JSON(http.StatusCreated, num)
}

// AuthorizeRecording returns the Authorization header value needed to fetch a
// call recording, or an empty value for public recordings.
func (h Handlers) AuthorizeRecording(c *gin.Context) {
	if h.Recordings == nil {
		notConfigured(c, "recordings")
		return
	}
	tenantID, ok := tenantOf(c)
	if !ok {
		return
	}
	raw := c.Query("url")
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}
	header, err := h.Recordings.Authorize(c.Request.Context(), tenantID, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization": header})
}

// FleetSummary is operator-only.
func (h Handlers) FleetSummary(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	out, err := h.Reporting.FleetSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListAudit is operator-only: audit records are not shown to tenant users.
func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		notConfigured(c, "audit")
		return
	}
	f := audit.ListFilter{
		TenantID: c.Query("tenant_id"),
		TaskID:   c.Query("task_id"),
		Type:     audit.EventType(c.Query("type")),
		Limit:    100,
	}
	if f.TenantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id required"})
		return
	}
	evs, err := h.Audit.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// logAdmin is best-effort.
func (h Handlers) logAdmin(c *gin.Context, tenantID, message string) {
	if h.Audit == nil {
		return
	}
	userID, role := actor(c)
	if err := h.Audit.LogAdminAction(c.Request.Context(), tenantID, userID, role, c.ClientIP(), message, ""); err != nil {
		_ = c.Error(err)
	}
}
