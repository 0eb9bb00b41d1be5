package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hotdash/integration-gateway/internal/config"
	"github.com/hotdash/integration-gateway/internal/idempotency"
	"github.com/hotdash/integration-gateway/internal/models"
)

// ReplayHeader marks responses served from a stored idempotency record
const ReplayHeader = "X-Idempotent-Replay"

// Idempotency deduplicates mutating requests by the caller-supplied key
// header. A missing header means no deduplication. A replayed key with the
// same payload returns the stored response verbatim; the same key with a
// different payload is a conflict and the handler never runs.
func Idempotency(store idempotency.Store, cfg config.IdempotencyConfig) gin.HandlerFunc {
	ttl := cfg.TTL()

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(cfg.HeaderName)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var requestHash string
		if cfg.BodyHashing() {
			sum := sha256.Sum256(body)
			requestHash = hex.EncodeToString(sum[:])
		}

		ctx := c.Request.Context()
		record, err := store.Get(ctx, key)
		if err == nil && record != nil && !record.Expired(ttl) {
			if record.RequestHash == requestHash {
				c.Header(ReplayHeader, "true")
				c.Data(record.ResponseStatus, "application/json", record.ResponseBody)
				c.Abort()
				return
			}

			c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_conflict"})
			c.Abort()
			return
		}

		// First time we see this key: run the handler and capture its output
		recorder := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = recorder

		c.Next()

		status := recorder.Status()
		if status >= 200 && status < 300 {
			store.PutIfAbsent(ctx, &models.IdempotencyRecord{
				Key:            key,
				RequestHash:    requestHash,
				ResponseStatus: status,
				ResponseBody:   recorder.body.Bytes(),
				CreatedAt:      time.Now().UTC(),
			})
		}
	}
}

// Captures the response body on its way out so it can be stored for replay
type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
