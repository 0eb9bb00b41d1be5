package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotdash/integration-gateway/internal/audit"
	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/service"
)

type AuthHandler struct {
	service *service.AuthService
	trail   *audit.Trail
}

func NewAuthHandler(service *service.AuthService, trail *audit.Trail) *AuthHandler {
	return &AuthHandler{service: service, trail: trail}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.service.Register(ctx, req.Email, req.Password, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "user created"})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	token, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if h.trail != nil {
		h.trail.LogAsync(audit.Entry{
			EventType: models.AuditUserLogin,
			ActorID:   req.Email,
			ActorRole: "admin",
			Resource:  "auth",
			Action:    "login",
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
