package integration

import (
	"fmt"
	"time"
)

// Error codes surfaced in Response envelopes
const (
	CodeCircuitOpen     = "CIRCUIT_BREAKER_OPEN"
	CodeNotFound        = "INTEGRATION_NOT_FOUND"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeRequestError    = "REQUEST_ERROR"
	CodeIntegrationErr  = "INTEGRATION_ERROR"
	httpErrCodePrefix   = "HTTP_"
	statusThrottled     = 429
	statusServerErrBase = 500
)

// APIError is the structured failure carried in a Response. Retryable
// mirrors the rate limiter's classification: 429 and 5xx are retryable,
// other HTTP statuses are not.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode lets the rate limiter's retry wrapper classify this error
func (e *APIError) StatusCode() int {
	return e.Status
}

func httpError(status int, message string) *APIError {
	return &APIError{
		Code:      fmt.Sprintf("%s%d", httpErrCodePrefix, status),
		Message:   message,
		Status:    status,
		Retryable: status >= statusServerErrBase || status == statusThrottled,
	}
}

// Metadata describes how a request was served
type Metadata struct {
	Status     int           `json:"status"`
	Latency    time.Duration `json:"latency"`
	RetryCount int           `json:"retry_count"`
}

// Response is the envelope every integration call returns. Failures are
// carried as data rather than raised, so bulk operations can keep
// processing siblings.
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    *APIError   `json:"error,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
}

func failure(err *APIError) Response {
	return Response{Success: false, Error: err}
}
