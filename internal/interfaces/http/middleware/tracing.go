// Package middleware provides the gin middleware of the ledger API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "profit-ledger",
		Enabled:     true,
	}
}

// Tracing returns OpenTelemetry tracing middleware. otelgin names spans
// "METHOD route_pattern" and marks 5xx responses as errors.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector adds request and shop attributes to the current
// span. Place it after the JWT middleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			ctx := c.Request.Context()
			if id := logger.GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if shopDomain := logger.GetShopDomain(ctx); shopDomain != "" {
				span.SetAttributes(telemetry.AttrShopDomain.String(shopDomain))
			}
		}
		c.Next()
	}
}
