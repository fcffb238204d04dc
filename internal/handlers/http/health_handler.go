package http

import (
	"net/http"
	"time"

	"cdnpulse/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	subscribers func() int
	started     time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, subscribers func() int) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		subscribers: subscribers,
		started:     time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health reports liveness only.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.subscribers != nil {
		body["subscribers"] = h.subscribers()
	}
	c.JSON(http.StatusOK, body)
}

// Ready runs the dependency checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
