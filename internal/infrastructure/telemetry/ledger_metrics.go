package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// LedgerMetrics records webhook intake, reconciliation latency and backfill
// throughput.
type LedgerMetrics struct {
	eventsTotal       *Counter
	reconcileDuration *Histogram
	backfillOrders    *Counter
}

// NewLedgerMetrics creates the ledger instruments on meter.
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &LedgerMetrics{}
	var err error

	m.eventsTotal, err = NewCounter(meter,
		"ledger_webhook_events_total",
		"Webhook deliveries by topic and outcome",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.reconcileDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "ledger_reconcile_duration_seconds",
		Description: "Time spent reconciling one webhook event",
		Unit:        "s",
		Boundaries:  ReconcileDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	m.backfillOrders, err = NewCounter(meter,
		"ledger_backfill_orders_total",
		"Backfilled orders by result",
		"{orders}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EventAdmitted counts one webhook delivery.
func (m *LedgerMetrics) EventAdmitted(ctx context.Context, topic, outcome string) {
	m.eventsTotal.Add(ctx, 1, AttrTopic.String(topic), AttrOutcome.String(outcome))
}

// ReconcileDuration records how long one event took to reconcile.
func (m *LedgerMetrics) ReconcileDuration(ctx context.Context, topic string, d time.Duration) {
	m.reconcileDuration.RecordDuration(ctx, d, AttrTopic.String(topic))
}

// BackfillProgress adds processed and failed order groups.
func (m *LedgerMetrics) BackfillProgress(ctx context.Context, processed, failed int) {
	if processed > 0 {
		m.backfillOrders.Add(ctx, int64(processed), AttrResult.String("processed"))
	}
	if failed > 0 {
		m.backfillOrders.Add(ctx, int64(failed), AttrResult.String("failed"))
	}
}
