package middleware

import (
	"time"

	rlog "cdnpulse/pkg/logger"
	"cdnpulse/pkg/utils"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

// HTTPRequestObserver records served requests.
type HTTPRequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// RequestIDMiddleware propagates or assigns a request id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(rlog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLogMiddleware logs each request with its correlation ids.
func AccessLogMiddleware(logger *rlog.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogRequest(c.Request.Context(), c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

// MetricsMiddleware reports request counts and latency by route.
func MetricsMiddleware(observer HTTPRequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observer.ObserveHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
