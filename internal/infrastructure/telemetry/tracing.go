package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of ledger spans
const TracerName = "profit-ledger"

// Span attributes of ledger operations
const (
	AttrOrderID    = attribute.Key("order.external_id")
	AttrBackfillID = attribute.Key("backfill.id")
	AttrDays       = attribute.Key("backfill.days")
	AttrDate       = attribute.Key("ledger.date")
	AttrOrders     = attribute.Key("ledger.orders")
	AttrFailed     = attribute.Key("ledger.failed")
)

// Start opens an internal span on the global provider.
//
//	ctx, span := telemetry.Start(ctx, "ledger.reconcile_order", telemetry.AttrOrderID.String(id))
//	defer telemetry.End(span, &err)
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// End ends span, marking it failed when *errp holds an error
func End(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}

// TraceID returns the trace ID carried by ctx, or ""
func TraceID(ctx context.Context) string {
	if id := trace.SpanContextFromContext(ctx).TraceID(); id.IsValid() {
		return id.String()
	}
	return ""
}

// Annotate adds attributes to the span carried by ctx
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
