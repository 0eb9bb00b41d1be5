package handler

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookHandler runs after the authentication and idempotency stages
// have passed; by the time it executes the request is authentic, fresh,
// and not a duplicate.
type WebhookHandler struct{}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

func (h *WebhookHandler) Receive(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		var payload map[string]interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
				return
			}
		}

		requestID := c.GetString("request_id")
		log.Printf("[%s] webhook accepted from %s (%d bytes)", requestID, source, len(body))

		c.JSON(http.StatusOK, gin.H{
			"status":     "accepted",
			"source":     source,
			"request_id": requestID,
		})
	}
}
