package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hotdash/integration-gateway/internal/circuitbreaker"
	"github.com/hotdash/integration-gateway/internal/config"
	"github.com/hotdash/integration-gateway/internal/ratelimit"
)

// AuditSink receives notable integration events (circuit transitions,
// manual resets). Implementations must never block or fail the caller.
type AuditSink interface {
	LogEvent(ctx context.Context, eventType, actorID, resource, action string, metadata map[string]interface{})
}

// RequestFunc is one integration call executed by the manager
type RequestFunc func(ctx context.Context, client *Client) Response

// Per-integration rolling counters
type IntegrationMetrics struct {
	Name               string  `json:"name"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	AverageLatency     float64 `json:"average_latency_ms"`
	LastError          string  `json:"last_error,omitempty"`
	LastSuccess        string  `json:"last_success,omitempty"`
	CircuitBreakerOpen bool    `json:"circuit_breaker_open"`
}

type integration struct {
	name    string
	client  *Client
	breaker *circuitbreaker.CircuitBreaker

	mu      sync.Mutex
	metrics IntegrationMetrics
}

// Manager is the single entry point for all outbound integration calls.
// It gates each call behind the integration's circuit breaker, routes it
// through the shared rate limiter (via the client), and records metrics
// regardless of outcome.
type Manager struct {
	mu           sync.RWMutex
	integrations map[string]*integration
	registry     *ratelimit.Registry
	audit        AuditSink
}

func NewManager(registry *ratelimit.Registry, audit AuditSink) *Manager {
	return &Manager{
		integrations: make(map[string]*integration),
		registry:     registry,
		audit:        audit,
	}
}

// Register wires up one integration from config: a shared rate limiter, an
// HTTP client and a circuit breaker keyed by the integration name.
func (m *Manager) Register(cfg config.IntegrationConfig) {
	m.registry.SetDefault(cfg.Name, ratelimit.Config{
		MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		BurstSize:            cfg.BurstSize,
		RetryOn429:           true,
	})

	client := NewClient(cfg, m.registry.Get(cfg.Name))
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutMs) * time.Millisecond,
		MonitoringPeriod: time.Duration(cfg.MonitoringPeriodMs) * time.Millisecond,
	})

	m.RegisterClient(cfg.Name, client, breaker)
}

// RegisterClient installs a prebuilt client, mainly for tests
func (m *Manager) RegisterClient(name string, client *Client, breaker *circuitbreaker.CircuitBreaker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.integrations[name] = &integration{
		name:    name,
		client:  client,
		breaker: breaker,
		metrics: IntegrationMetrics{Name: name},
	}
}

func (m *Manager) get(name string) *integration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.integrations[name]
}

// ExecuteRequest runs one call against the named integration. If the
// circuit is open and the recovery timeout hasn't elapsed, the call fails
// fast without touching the client or the rate limiter underneath.
func (m *Manager) ExecuteRequest(ctx context.Context, name string, fn RequestFunc) Response {
	integ := m.get(name)
	if integ == nil {
		return failure(&APIError{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("integration %q not found", name),
		})
	}

	if err := integ.breaker.Allow(); err != nil {
		return failure(&APIError{
			Code:      CodeCircuitOpen,
			Message:   fmt.Sprintf("circuit breaker is open for %s", name),
			Retryable: true,
		})
	}

	stateBefore := integ.breaker.State()
	start := time.Now()

	resp := fn(ctx, integ.client)

	latency := time.Since(start)
	integ.record(resp, latency)

	if resp.Success {
		integ.breaker.RecordSuccess()
	} else {
		integ.breaker.RecordFailure()
	}

	m.auditTransition(ctx, integ, stateBefore)

	return resp
}

// Updates counters and rolling average latency. Every call counts,
// whatever the circuit did.
func (i *integration) record(resp Response, latency time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.metrics.TotalRequests++
	if resp.Success {
		i.metrics.SuccessfulRequests++
		i.metrics.LastSuccess = time.Now().Format(time.RFC3339)
	} else {
		i.metrics.FailedRequests++
		if resp.Error != nil {
			i.metrics.LastError = resp.Error.Message
		}
	}

	latencyMs := float64(latency.Milliseconds())
	total := float64(i.metrics.TotalRequests)
	i.metrics.AverageLatency = (i.metrics.AverageLatency*(total-1) + latencyMs) / total
}

func (m *Manager) auditTransition(ctx context.Context, integ *integration, before circuitbreaker.State) {
	if m.audit == nil {
		return
	}

	after := integ.breaker.State()
	if before == after {
		return
	}

	switch after {
	case circuitbreaker.StateOpen:
		m.audit.LogEvent(ctx, "circuit:opened", "system", "integration", integ.name,
			map[string]interface{}{"previous_state": before.String()})
	case circuitbreaker.StateClosed:
		m.audit.LogEvent(ctx, "circuit:closed", "system", "integration", integ.name,
			map[string]interface{}{"previous_state": before.String()})
	}
}

// One operation inside a bulk dispatch
type BulkOperation struct {
	Name string
	Fn   RequestFunc
}

type BulkResult struct {
	Successful []BulkSuccess `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	Summary    BulkSummary   `json:"summary"`
}

type BulkSuccess struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

type BulkFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type BulkSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// ExecuteBulk dispatches operations concurrently. A failure in one
// integration never blocks the others.
func (m *Manager) ExecuteBulk(ctx context.Context, ops []BulkOperation) BulkResult {
	responses := make([]Response, len(ops))
	var wg sync.WaitGroup

	for i, op := range ops {
		wg.Add(1)
		go func(i int, op BulkOperation) {
			defer wg.Done()
			responses[i] = m.ExecuteRequest(ctx, op.Name, op.Fn)
		}(i, op)
	}
	wg.Wait()

	result := BulkResult{}
	for i, resp := range responses {
		if resp.Success {
			result.Successful = append(result.Successful, BulkSuccess{
				Name: ops[i].Name,
				Data: resp.Data,
			})
		} else {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			result.Failed = append(result.Failed, BulkFailure{
				Name:  ops[i].Name,
				Error: msg,
			})
		}
	}

	result.Summary = BulkSummary{
		Total:      len(ops),
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
	}
	if len(ops) > 0 {
		result.Summary.SuccessRate = float64(len(result.Successful)) / float64(len(ops))
	}

	return result
}

// HealthStatus probes every registered integration concurrently
func (m *Manager) HealthStatus(ctx context.Context) []HealthCheck {
	m.mu.RLock()
	integrations := make([]*integration, 0, len(m.integrations))
	for _, integ := range m.integrations {
		integrations = append(integrations, integ)
	}
	m.mu.RUnlock()

	checks := make([]HealthCheck, len(integrations))
	var wg sync.WaitGroup
	for i, integ := range integrations {
		wg.Add(1)
		go func(i int, integ *integration) {
			defer wg.Done()
			checks[i] = integ.client.HealthCheck(ctx)
		}(i, integ)
	}
	wg.Wait()

	return checks
}

// Metrics returns a snapshot for every integration
func (m *Manager) Metrics() []IntegrationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]IntegrationMetrics, 0, len(m.integrations))
	for _, integ := range m.integrations {
		out = append(out, integ.snapshot())
	}
	return out
}

// IntegrationMetrics returns a snapshot for one integration
func (m *Manager) IntegrationMetrics(name string) (IntegrationMetrics, bool) {
	integ := m.get(name)
	if integ == nil {
		return IntegrationMetrics{}, false
	}
	return integ.snapshot(), true
}

func (i *integration) snapshot() IntegrationMetrics {
	i.mu.Lock()
	defer i.mu.Unlock()

	snap := i.metrics
	snap.CircuitBreakerOpen = i.breaker.IsOpen()
	return snap
}

// ResetMetrics zeroes counters for one integration, or all when name is empty
func (m *Manager) ResetMetrics(name string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, integ := range m.integrations {
		if name != "" && integ.name != name {
			continue
		}
		integ.mu.Lock()
		integ.metrics = IntegrationMetrics{Name: integ.name}
		integ.mu.Unlock()
	}
}

// CircuitOpen reports whether the named integration's circuit is open
func (m *Manager) CircuitOpen(name string) bool {
	integ := m.get(name)
	if integ == nil {
		return false
	}
	return integ.breaker.IsOpen()
}

// CircuitMetrics returns breaker internals for the admin surface
func (m *Manager) CircuitMetrics(name string) (circuitbreaker.Metrics, bool) {
	integ := m.get(name)
	if integ == nil {
		return circuitbreaker.Metrics{}, false
	}
	return integ.breaker.Metrics(), true
}

// ResetCircuitBreaker manually closes the named circuit
func (m *Manager) ResetCircuitBreaker(ctx context.Context, name, actorID string) bool {
	integ := m.get(name)
	if integ == nil {
		return false
	}

	integ.breaker.Reset()
	if m.audit != nil {
		m.audit.LogEvent(ctx, "circuit:reset", actorID, "integration", name, nil)
	}
	return true
}

// QueueStats exposes per-integration rate limiter queues
func (m *Manager) QueueStats() map[string]ratelimit.QueueStats {
	return m.registry.Stats()
}

// Names lists registered integrations
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.integrations))
	for name := range m.integrations {
		names = append(names, name)
	}
	return names
}
