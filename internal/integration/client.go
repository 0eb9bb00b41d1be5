package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hotdash/integration-gateway/internal/config"
	"github.com/hotdash/integration-gateway/internal/ratelimit"
)

const userAgent = "integration-gateway/1.0"

// Client is an outbound HTTP client for one third-party API. Every request
// is routed through the API's shared rate limiter, so all call sites for
// the same integration drain from the same bucket.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter

	authType   string
	authToken  string
	authHeader string
	headers    map[string]string
}

func NewClient(cfg config.IntegrationConfig, limiter *ratelimit.Limiter) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		authType:   cfg.AuthType,
		authToken:  cfg.AuthToken,
		authHeader: cfg.AuthHeader,
		headers:    map[string]string{},
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.authType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	case "basic":
		// Token carries "user:password"
		user, pass, ok := strings.Cut(c.authToken, ":")
		if ok {
			req.SetBasicAuth(user, pass)
		}
	case "api-key":
		header := c.authHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, c.authToken)
	}
}

// Request performs an HTTP request under the integration's rate limit.
// Non-2xx statuses become APIErrors so the limiter's retry wrapper can
// classify 429/5xx as retryable.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) Response {
	start := time.Now()

	attempts := 0
	data, err := c.limiter.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		attempts++
		return c.doOnce(ctx, method, path, body)
	})

	latency := time.Since(start)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	if err != nil {
		apiErr, ok := err.(*APIError)
		if !ok {
			apiErr = &APIError{
				Code:      CodeNetworkError,
				Message:   err.Error(),
				Retryable: true,
			}
		}
		return Response{
			Success:  false,
			Error:    apiErr,
			Metadata: &Metadata{Status: apiErr.Status, Latency: latency, RetryCount: retries},
		}
	}

	status := http.StatusOK
	if resp, ok := data.(*decodedResponse); ok {
		status = resp.status
		data = resp.body
	}

	return Response{
		Success:  true,
		Data:     data,
		Metadata: &Metadata{Status: status, Latency: latency, RetryCount: retries},
	}
}

type decodedResponse struct {
	status int
	body   interface{}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}) (interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Code: CodeRequestError, Message: err.Error()}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &APIError{Code: CodeRequestError, Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Code: CodeNetworkError, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: CodeNetworkError, Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 400 {
		return nil, httpError(resp.StatusCode, string(raw))
	}

	var decoded interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Not every API returns JSON
			decoded = string(raw)
		}
	}

	return &decodedResponse{status: resp.StatusCode, body: decoded}, nil
}

func (c *Client) Get(ctx context.Context, path string) Response {
	return c.Request(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) Response {
	return c.Request(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}) Response {
	return c.Request(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) Response {
	return c.Request(ctx, http.MethodDelete, path, nil)
}

// HealthCheck result for one integration
type HealthCheck struct {
	Service     string        `json:"service"`
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency,omitempty"`
	Error       string        `json:"error,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthCheck probes the integration's health endpoint
func (c *Client) HealthCheck(ctx context.Context) HealthCheck {
	resp := c.Get(ctx, "/health")

	check := HealthCheck{
		Service:     c.name,
		Healthy:     resp.Success,
		LastChecked: time.Now(),
	}
	if resp.Metadata != nil {
		check.Latency = resp.Metadata.Latency
	}
	if resp.Error != nil {
		check.Error = resp.Error.Message
	}

	return check
}

// GetQueueStats exposes the underlying limiter's queue snapshot
func (c *Client) GetQueueStats() ratelimit.QueueStats {
	return c.limiter.GetQueueStats()
}

// SetHeader adds a default header sent with every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) String() string {
	return fmt.Sprintf("integration client %q -> %s", c.name, c.baseURL)
}
