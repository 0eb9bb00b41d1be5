package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hotdash/integration-gateway/internal/audit"
	"github.com/hotdash/integration-gateway/internal/config"
	"github.com/hotdash/integration-gateway/internal/handler"
	"github.com/hotdash/integration-gateway/internal/idempotency"
	"github.com/hotdash/integration-gateway/internal/integration"
	"github.com/hotdash/integration-gateway/internal/middleware"
	"github.com/hotdash/integration-gateway/internal/ratelimit"
	"github.com/hotdash/integration-gateway/internal/repository"
	"github.com/hotdash/integration-gateway/internal/service"
	"github.com/hotdash/integration-gateway/internal/storage"
	"github.com/hotdash/integration-gateway/internal/webhook"
)

type Server struct {
	router       *gin.Engine
	config       *config.Config
	redis        *storage.RedisClient
	postgres     *storage.Postgres
	registry     *ratelimit.Registry
	manager      *integration.Manager
	trail        *audit.Trail
	authService  *service.AuthService
	authHandler  *handler.AuthHandler
	adminHandler *handler.AdminHandler
	httpServer   *http.Server
	sweepStop    chan struct{}
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Audit trail first: everything else reports into it
	auditRepo := repository.NewAuditRepository(postgres)
	trail := audit.NewTrail(auditRepo)
	trail.StartAsync(256)

	// Outbound side: one shared limiter registry, one manager
	registry := ratelimit.NewRegistry()
	manager := integration.NewManager(registry, trail)
	for _, integCfg := range cfg.Integrations {
		manager.Register(integCfg)
		log.Printf("Registered integration %q -> %s", integCfg.Name, integCfg.BaseURL)
	}

	// Admin auth
	authRepo := repository.NewUserRepository(postgres)
	authService := service.NewAuthService(authRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)
	authHandler := handler.NewAuthHandler(authService, trail)
	adminHandler := handler.NewAdminHandler(manager, trail)

	s := &Server{
		router:       router,
		config:       cfg,
		redis:        redis,
		postgres:     postgres,
		registry:     registry,
		manager:      manager,
		trail:        trail,
		authService:  authService,
		authHandler:  authHandler,
		adminHandler: adminHandler,
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.startIdempotencySweep()

	return s
}

// Expired idempotency keys are swept hourly so the table doesn't grow
// without bound. The in-memory fallback store evicts on its own.
func (s *Server) startIdempotencySweep() {
	if s.postgres == nil {
		return
	}

	repo := repository.NewIdempotencyRepository(s.postgres)
	ttl := s.config.Idempotency.TTL()
	s.sweepStop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed, err := repo.DeleteExpired(context.Background(), time.Now().UTC().Add(-ttl))
				if err != nil {
					log.Printf("Idempotency sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("Idempotency sweep removed %d expired keys", removed)
				}
			case <-s.sweepStop:
				return
			}
		}
	}()
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	s.router.POST("/auth/register", s.authHandler.Register)
	s.router.POST("/auth/login", s.authHandler.Login)

	s.setupWebhookRoutes()

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.GET("/integrations/metrics", s.adminHandler.Metrics)
		admin.GET("/integrations/:name/metrics", s.adminHandler.IntegrationMetrics)
		admin.POST("/integrations/metrics/reset", s.adminHandler.ResetMetrics)
		admin.GET("/integrations/health", s.adminHandler.HealthStatus)
		admin.GET("/integrations/queues", s.adminHandler.QueueStats)
		admin.GET("/circuit-breakers", s.adminHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/:name/reset", s.adminHandler.ResetCircuitBreaker)
		admin.GET("/audit/events", s.adminHandler.AuditEvents)
		admin.GET("/audit/verify", s.adminHandler.VerifyAuditIntegrity)
		admin.GET("/audit/compliance-report", s.adminHandler.ComplianceReport)
	}
}

// Each webhook source gets its own guard chain: HMAC auth and flood
// protection first, then idempotency, then the handler
func (s *Server) setupWebhookRoutes() {
	idemStore := s.buildIdempotencyStore()
	webhookHandler := handler.NewWebhookHandler()

	for _, whCfg := range s.config.Webhooks {
		verifier := webhook.NewVerifier(whCfg, s.buildNonceStore())
		limiter := s.buildSourceLimiter(whCfg)

		s.router.POST("/webhooks/"+whCfg.Source,
			middleware.WebhookGuard(whCfg, verifier, limiter, s.trail),
			middleware.Idempotency(idemStore, s.config.Idempotency),
			webhookHandler.Receive(whCfg.Source),
		)

		log.Printf("Registered webhook source %q", whCfg.Source)
	}
}

func (s *Server) buildIdempotencyStore() idempotency.Store {
	memory := idempotency.NewMemoryStore(s.config.Idempotency.MaxEntries, s.config.Idempotency.TTL())
	if s.postgres == nil {
		return memory
	}

	primary := repository.NewIdempotencyRepository(s.postgres)
	return idempotency.NewFallbackStore(primary, memory)
}

func (s *Server) buildNonceStore() webhook.NonceStore {
	if s.redis != nil {
		return webhook.NewRedisNonceStore(s.redis, time.Hour)
	}
	return webhook.NewMemoryNonceStore(10000)
}

func (s *Server) buildSourceLimiter(cfg config.WebhookConfig) webhook.SourceLimiter {
	if s.redis != nil {
		return webhook.NewRedisSourceLimiter(s.redis, cfg.RequestsPerMin, time.Minute)
	}
	return webhook.NewMemorySourceLimiter(cfg.RequestsPerMin, time.Minute)
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "integration-gateway",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).Seconds(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting integration gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}

	// Drain buffered audit events before exit
	s.trail.Stop()

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Manager exposes the integration layer for callers embedding the server
func (s *Server) Manager() *integration.Manager {
	return s.manager
}

var startTime = time.Now()
