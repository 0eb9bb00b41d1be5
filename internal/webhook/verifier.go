package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/hotdash/integration-gateway/internal/config"
)

// Rejection kinds surfaced in the error body
const (
	KindMissingSignature = "missing_signature"
	KindInvalidSignature = "invalid_signature"
	KindRequestExpired   = "request_expired"
	KindDuplicateRequest = "duplicate_request"
	KindTooManyRequests  = "too_many_requests"
	KindForbidden        = "forbidden"
)

// Default header names when a source doesn't configure its own
const (
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultTimestampHeader = "X-Webhook-Timestamp"
	DefaultNonceHeader     = "X-Webhook-Nonce"
)

// A rejected webhook request; nil means the request passed
type Rejection struct {
	Status int
	Kind   string
}

// Verifier authenticates inbound webhooks for one source: HMAC signature
// over the raw body, optional timestamp freshness, optional nonce replay
// detection. All checks run before any business logic.
type Verifier struct {
	source          string
	secret          []byte
	signatureHeader string
	timestampHeader string
	nonceHeader     string
	tolerance       time.Duration
	nonces          NonceStore

	now func() time.Time
}

func NewVerifier(cfg config.WebhookConfig, nonces NonceStore) *Verifier {
	v := &Verifier{
		source:          cfg.Source,
		secret:          []byte(cfg.Secret),
		signatureHeader: cfg.SignatureHeader,
		timestampHeader: cfg.TimestampHeader,
		nonceHeader:     cfg.NonceHeader,
		tolerance:       cfg.Tolerance(),
		nonces:          nonces,
		now:             time.Now,
	}

	if v.signatureHeader == "" {
		v.signatureHeader = DefaultSignatureHeader
	}
	if v.timestampHeader == "" {
		v.timestampHeader = DefaultTimestampHeader
	}
	if v.nonceHeader == "" {
		v.nonceHeader = DefaultNonceHeader
	}

	return v
}

// Verify checks the raw body and headers. Returns nil when the request is
// authentic, fresh, and not a replay.
func (v *Verifier) Verify(ctx context.Context, body []byte, header http.Header) *Rejection {
	signature := header.Get(v.signatureHeader)
	if signature == "" {
		return &Rejection{Status: http.StatusUnauthorized, Kind: KindMissingSignature}
	}

	expected := v.Sign(body)
	// Constant-time comparison to avoid timing side-channels
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &Rejection{Status: http.StatusUnauthorized, Kind: KindInvalidSignature}
	}

	// A timestamp bounds the replay window even before nonce checking
	if ts := header.Get(v.timestampHeader); ts != "" {
		seconds, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return &Rejection{Status: http.StatusUnauthorized, Kind: KindRequestExpired}
		}

		age := v.now().Sub(time.Unix(seconds, 0))
		if age > v.tolerance || age < -v.tolerance {
			return &Rejection{Status: http.StatusUnauthorized, Kind: KindRequestExpired}
		}
	}

	if nonce := header.Get(v.nonceHeader); nonce != "" && v.nonces != nil {
		fresh, err := v.nonces.CheckAndRecord(ctx, v.source, nonce)
		if err == nil && !fresh {
			return &Rejection{Status: http.StatusUnauthorized, Kind: KindDuplicateRequest}
		}
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 of body under the source's secret
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Source() string {
	return v.source
}
