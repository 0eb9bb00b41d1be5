package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hotdash/integration-gateway/internal/audit"
	"github.com/hotdash/integration-gateway/internal/integration"
	"github.com/hotdash/integration-gateway/internal/repository"
)

// AdminHandler exposes the operational surface: integration metrics,
// circuit breaker control, rate limiter queues, and the audit trail
type AdminHandler struct {
	manager *integration.Manager
	trail   *audit.Trail
}

func NewAdminHandler(manager *integration.Manager, trail *audit.Trail) *AdminHandler {
	return &AdminHandler{manager: manager, trail: trail}
}

// Returns metrics for all integrations
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Metrics())
}

// Returns metrics for one integration
func (h *AdminHandler) IntegrationMetrics(c *gin.Context) {
	name := c.Param("name")

	metrics, ok := h.manager.IntegrationMetrics(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// Zeroes metrics for one integration, or all with no name
func (h *AdminHandler) ResetMetrics(c *gin.Context) {
	name := c.Query("name")
	h.manager.ResetMetrics(name)
	c.JSON(http.StatusOK, gin.H{"message": "metrics reset"})
}

// Returns the state of every circuit breaker
func (h *AdminHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]interface{})

	for _, name := range h.manager.Names() {
		metrics, ok := h.manager.CircuitMetrics(name)
		if !ok {
			continue
		}
		statuses[name] = gin.H{
			"state":             metrics.State,
			"failure_count":     metrics.FailureCount,
			"success_count":     metrics.SuccessCount,
			"last_failure_time": metrics.LastFailureTime,
			"last_state_change": metrics.LastStateChange,
		}
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually closes a circuit breaker
func (h *AdminHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")
	actor := c.GetString("email")
	if actor == "" {
		actor = "admin"
	}

	if !h.manager.ResetCircuitBreaker(c.Request.Context(), name, actor) {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "circuit breaker reset", "integration": name})
}

// Returns rate limiter queue snapshots per integration
func (h *AdminHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.QueueStats())
}

// Probes every registered integration
func (h *AdminHandler) HealthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.HealthStatus(c.Request.Context()))
}

// Queries the audit trail, newest first
func (h *AdminHandler) AuditEvents(c *gin.Context) {
	filter := repository.AuditFilter{
		ActorID:   c.Query("actor_id"),
		EventType: c.Query("event_type"),
		Resource:  c.Query("resource"),
	}

	if v := c.Query("start"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return
		}
		filter.Start = &start
	}
	if v := c.Query("end"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return
		}
		filter.End = &end
	}

	events, err := h.trail.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, events)
}

// Walks the full audit chain and reports every mismatch
func (h *AdminHandler) VerifyAuditIntegrity(c *gin.Context) {
	result, err := h.trail.VerifyIntegrity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Generates a compliance report for a time window
func (h *AdminHandler) ComplianceReport(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
		return
	}

	report, err := h.trail.GenerateComplianceReport(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}
