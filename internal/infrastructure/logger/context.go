package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	requestIDKey  contextKey = "request_id"
	shopDomainKey contextKey = "shop_domain"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id and attaches it to the context logger
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return WithContext(ctx, FromContext(ctx).With(zap.String("request_id", requestID)))
}

// WithShopDomain stores the shop domain and attaches it to the context logger
func WithShopDomain(ctx context.Context, domain string) context.Context {
	ctx = context.WithValue(ctx, shopDomainKey, domain)
	return WithContext(ctx, FromContext(ctx).With(zap.String("shop_domain", domain)))
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetShopDomain retrieves the shop domain from context
func GetShopDomain(ctx context.Context) string {
	d, _ := ctx.Value(shopDomainKey).(string)
	return d
}

// L returns the context logger enriched with trace_id/span_id when the
// context carries a valid span.
//
//	logger.L(ctx).Info("order reconciled", zap.String("order_id", id))
func L(ctx context.Context) *zap.Logger {
	l := FromContext(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
