package auth

import (
	"net/http"
	"strings"
	"time"

	"call-scheduler/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAccessToken authenticates the bearer token and attaches the caller's
// identity to the request context. The request logger gains tenant_id and
// principal so downstream task and provisioning logs are attributable.
// Authorization is left to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(token, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		l := logger.FromGin(c).With("tenant_id", id.TenantID, "principal", string(id.Principal))
		c.Set("logger", l)
		ctx := WithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(logger.With(ctx, l))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
