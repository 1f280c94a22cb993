package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments exported over OTLP
type OTelMetrics struct {
	checksTotal       metric.Int64Counter
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	eventsTotal       metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/gatekeeper"))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.checksTotal, err = meter.Int64Counter(
		"gatekeeper.permission.checks",
		metric.WithDescription("Total number of permission checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission checks counter: %w", err)
	}

	m.operationsTotal, err = meter.Int64Counter(
		"gatekeeper.operations",
		metric.WithDescription("Total number of permission service operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.operationDuration, err = meter.Float64Histogram(
		"gatekeeper.operation.duration",
		metric.WithDescription("Permission service operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	m.eventsTotal, err = meter.Int64Counter(
		"gatekeeper.events",
		metric.WithDescription("Permission events published on the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	return m, nil
}

// RecordCheck records a permission check
func (m *OTelMetrics) RecordCheck(ctx context.Context, channel string, allowed, cached bool) {
	m.checksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("allowed", allowed),
		attribute.Bool("cached", cached),
	))
}

// RecordOperation records a service operation
func (m *OTelMetrics) RecordOperation(ctx context.Context, op string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("error", err != nil),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordEvent records an event published on the bus
func (m *OTelMetrics) RecordEvent(ctx context.Context, eventType string) {
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
