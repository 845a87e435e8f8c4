// Package observability holds the OpenTelemetry instruments of the pipeline.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "regwatch-ai/backend"

// Metrics records pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	oracleCalls metric.Int64Counter
	fallbacks   metric.Int64Counter
	deliveries  metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider, which is a no-op until an SDK is installed.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	oracleCalls, err := meter.Int64Counter("regwatch.oracle.calls",
		metric.WithDescription("Oracle calls by mode and outcome"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("regwatch.fallbacks",
		metric.WithDescription("Artifacts produced by the fallback generator"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("regwatch.dispatch.deliveries",
		metric.WithDescription("Dispatch outcomes by mode and status"))
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("regwatch.run.duration",
		metric.WithDescription("Pipeline run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		oracleCalls: oracleCalls,
		fallbacks:   fallbacks,
		deliveries:  deliveries,
		runDuration: runDuration,
	}, nil
}

// OracleCall counts one completed oracle call. outcome is "ok" or an error kind.
func (m *Metrics) OracleCall(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.oracleCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// Fallback counts one fallback artifact.
func (m *Metrics) Fallback(ctx context.Context, mode, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("reason", reason),
	))
}

// Delivery counts one dispatch outcome.
func (m *Metrics) Delivery(ctx context.Context, mode, status string) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RunDuration records the wall time of one pipeline run.
func (m *Metrics) RunDuration(ctx context.Context, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}
