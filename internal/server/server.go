package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// NewRouter wires the payment routes. health may be nil.
func NewRouter(h *PaymentHandler, health HealthChecker, corsOrigins []string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(logger))
	r.Use(corsMiddleware(corsOrigins))

	r.POST("/create-payment", h.CreatePayment)
	r.GET("/check-status", h.CheckStatus)
	r.GET("/check-status/:collect_request_id", h.CheckStatus)
	r.POST("/payment-callback", h.PaymentCallback)

	r.GET("/health", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "up"})
			return
		}
		stats := health.Health(c.Request.Context())
		code := http.StatusOK
		if stats["status"] != "up" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, stats)
	})

	return r
}
