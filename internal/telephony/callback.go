package telephony

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"call-scheduler/pkg/logger"

	"github.com/gin-gonic/gin"
)

const callbackTypeDocumentStatus = "account_document_status_updated"

// AccountEvent is one entry of a provider account callback.
type AccountEvent struct {
	Type      string          `json:"type"`
	AccountID json.RawMessage `json:"account_id"`
	NewStatus string          `json:"new_status"`
	Comment   string          `json:"comment,omitempty"`
}

// ProviderAccountID normalises account_id, which the provider sends as a number.
func (e AccountEvent) ProviderAccountID() string {
	if len(e.AccountID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.AccountID, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(e.AccountID, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

type callbackBody struct {
	Callbacks []AccountEvent `json:"callbacks"`
}

// VerificationSink receives verification status changes reported by the provider.
type VerificationSink interface {
	ApplyProviderStatus(ctx context.Context, providerAccountID, rawStatus string) error
}

// CallbackHandler accepts the provider's account callbacks. Only document
// status events are acted on; everything else is acknowledged and dropped so
// the provider stops redelivering.
type CallbackHandler struct {
	Sink VerificationSink

	// Secret must match the "token" query parameter of the callback URL
	// registered with SetAccountCallback. Without it every callback is refused.
	Secret string
}

func (h CallbackHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "verification sink not configured"})
		return
	}
	if h.Secret == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	got := c.Query("token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
		return
	}

	var body callbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn("provider callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid callback body"})
		return
	}

	applied := 0
	for _, ev := range body.Callbacks {
		if ev.Type != callbackTypeDocumentStatus {
			continue
		}
		accountID := ev.ProviderAccountID()
		if accountID == "" {
			log.Warn("provider callback without account id", "type", ev.Type)
			continue
		}
		if err := h.Sink.ApplyProviderStatus(ctx, accountID, ev.NewStatus); err != nil {
			// Unknown accounts and unmapped statuses are logged, not retried.
			log.Warn("provider callback not applied",
				"provider_account_id", accountID,
				"status", ev.NewStatus,
				"err", err,
			)
			continue
		}
		applied++
	}

	c.JSON(http.StatusOK, gin.H{"received": len(body.Callbacks), "applied": applied})
}

// CallbackURL appends the shared secret to a base callback URL.
func CallbackURL(base, secret string) string {
	if secret == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stoken=%s", base, sep, url.QueryEscape(secret))
}
