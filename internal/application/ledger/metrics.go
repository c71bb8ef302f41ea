package ledger

import (
	"context"
	"time"
)

// Metrics receives ledger counters. The telemetry package provides the
// OpenTelemetry implementation.
type Metrics interface {
	// EventAdmitted counts one webhook by topic and outcome
	// (completed, duplicate, failed, rejected)
	EventAdmitted(ctx context.Context, topic, outcome string)
	// ReconcileDuration records the time taken to reconcile one event
	ReconcileDuration(ctx context.Context, topic string, d time.Duration)
	// BackfillProgress counts processed and failed backfill order groups
	BackfillProgress(ctx context.Context, processed, failed int)
}

type noopMetrics struct{}

func (noopMetrics) EventAdmitted(context.Context, string, string)            {}
func (noopMetrics) ReconcileDuration(context.Context, string, time.Duration) {}
func (noopMetrics) BackfillProgress(context.Context, int, int)               {}
