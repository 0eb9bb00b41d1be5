package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotdash/integration-gateway/internal/audit"
	"github.com/hotdash/integration-gateway/internal/config"
	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/webhook"
)

// WebhookGuard authenticates inbound webhooks for one source. All checks
// run before any business logic: IP allowlist, per-address flood window,
// then HMAC signature, timestamp and nonce via the verifier. Rejections
// carry a minimal, non-leaking body and are audited best-effort.
func WebhookGuard(cfg config.WebhookConfig, verifier *webhook.Verifier, limiter webhook.SourceLimiter, trail *audit.Trail) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = true
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if len(allowed) > 0 && !allowed[clientIP] {
			reject(c, trail, cfg.Source, clientIP, &webhook.Rejection{
				Status: http.StatusForbidden,
				Kind:   webhook.KindForbidden,
			})
			return
		}

		if limiter != nil {
			ok, err := limiter.Allow(c.Request.Context(), cfg.Source, clientIP)
			if err == nil && !ok {
				reject(c, trail, cfg.Source, clientIP, &webhook.Rejection{
					Status: http.StatusTooManyRequests,
					Kind:   webhook.KindTooManyRequests,
				})
				return
			}
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if rejection := verifier.Verify(c.Request.Context(), body, c.Request.Header); rejection != nil {
			reject(c, trail, cfg.Source, clientIP, rejection)
			return
		}

		c.Next()
	}
}

func reject(c *gin.Context, trail *audit.Trail, source, clientIP string, rejection *webhook.Rejection) {
	if trail != nil {
		trail.LogAsync(audit.Entry{
			EventType:  models.AuditWebhookRejected,
			ActorID:    clientIP,
			ActorRole:  "webhook",
			Resource:   "webhook",
			ResourceID: source,
			Action:     rejection.Kind,
			IPAddress:  clientIP,
			UserAgent:  c.Request.UserAgent(),
		})
	}

	c.JSON(rejection.Status, gin.H{"error": rejection.Kind})
	c.Abort()
}
