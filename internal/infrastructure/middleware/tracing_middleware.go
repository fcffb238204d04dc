package middleware

import (
	rlog "cdnpulse/pkg/logger"
	"cdnpulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// TracingMiddleware opens a server span per request, continuing any trace
// carried in the incoming headers.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, routeOf(c))
		defer span.End()

		span.SetAttributes(attribute.String("http.client_ip", c.ClientIP()))
		if id := rlog.RequestID(ctx); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}

// routeOf returns the matched route template so labels and span names stay
// bounded.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
