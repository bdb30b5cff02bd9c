package router

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"notigate/internal/auth"
	"notigate/internal/common"
	"notigate/internal/config"
	"notigate/internal/domain/notification"
	"notigate/internal/middleware"
)

const serviceName = "notigate"

// Health aggregates dependency checks for the /health endpoint. Until
// MarkStarted is called it reports "starting" with 200, keeping container
// health checks green while background connection setup runs.
type Health struct {
	started       atomic.Bool
	BrokerHealthy func() bool
	StoreHealthy  func(ctx context.Context) bool
}

// NewHealth creates a Health aggregator from dependency probes.
func NewHealth(broker func() bool, store func(ctx context.Context) bool) *Health {
	return &Health{BrokerHealthy: broker, StoreHealthy: store}
}

// MarkStarted ends the startup grace period.
func (h *Health) MarkStarted() {
	h.started.Store(true)
}

// New creates and configures the Gin router with all middleware and routes.
func New(
	cfg *config.Config,
	validator *auth.Validator,
	notificationHandler *notification.Handler,
	health *Health,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.Correlation())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	ipLimiter := middleware.NewIPRateLimiter(
		cfg.IPLimit.RequestsPerSecond,
		cfg.IPLimit.Burst,
	)
	r.Use(ipLimiter.Middleware())

	// Public routes
	r.GET("/", serviceInfo)
	r.GET("/health", health.check)
	r.POST("/api/v1/auth/verify", verifyToken(validator))

	// Status updates come from the downstream delivery services over the
	// internal network, not from end users; no bearer token here.
	r.POST("/api/v1/:preference/status", notificationHandler.UpdateStatus)

	// Protected API routes (bearer token required)
	protected := r.Group("/api/v1")
	protected.Use(middleware.Auth(validator))
	{
		protected.POST("/notifications", notificationHandler.Send)
		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/:id/status", notificationHandler.Status)
	}

	return r
}

// check handles GET /health. It never hard-fails: degraded dependencies are
// reported in the body with a 200 so orchestrators keep the process alive.
func (h *Health) check(c *gin.Context) {
	if !h.started.Load() {
		c.JSON(http.StatusOK, gin.H{
			"status":    "starting",
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"message":   "service initializing",
		})
		return
	}

	brokerOK := h.BrokerHealthy()
	storeOK := h.StoreHealthy(c.Request.Context())

	status := "healthy"
	if !brokerOK || !storeOK {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"checks": gin.H{
			"rabbitmq": brokerOK,
			"redis":    storeOK,
			"service":  "up",
		},
	})
}

// serviceInfo handles GET /
func serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":      serviceName,
		"status":       "running",
		"health_check": "/health",
	})
}

// verifyToken handles POST /api/v1/auth/verify. Tokens are issued by the
// identity service; this endpoint only checks validity for other services.
func verifyToken(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			common.Error(c, http.StatusUnauthorized, "invalid token format")
			return
		}

		claims, err := validator.Verify(token)
		if err != nil {
			common.HandleError(c, err)
			return
		}

		common.Success(c, http.StatusOK, gin.H{
			"valid":   true,
			"user_id": claims.UserID,
		}, "Token is valid")
	}
}
