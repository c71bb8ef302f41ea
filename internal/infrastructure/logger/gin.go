package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader is read from and echoed to clients
const RequestIDHeader = "X-Request-ID"

// GinMiddleware assigns a request id, stores a request-scoped logger in the
// request context and logs one line per request.
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := WithContext(c.Request.Context(), base.With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		))
		ctx = WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		l := FromContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("HTTP request", fields...)
		case status >= 400:
			l.Warn("HTTP request", fields...)
		default:
			l.Info("HTTP request", fields...)
		}
	}
}

// Recovery recovers from handler panics and logs them with a stack trace
func Recovery(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				base.Error("panic recovered",
					zap.String("request_id", GetRequestID(c.Request.Context())),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
