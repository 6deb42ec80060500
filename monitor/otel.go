package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/acgov/go-mesh/mesh"
)

// OTelMetrics exports mesh monitoring counters through the OpenTelemetry
// metric API. Exporter wiring is the host process's concern.
type OTelMetrics struct {
	samplesRecorded  metric.Int64Counter
	alertsRaised     metric.Int64Counter
	responseTime     metric.Float64Histogram
	healthyInstances metric.Int64Gauge
}

// NewOTelMetrics registers the mesh instruments on the global meter
// provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("go-mesh/monitor")

	samplesRecorded, err := meter.Int64Counter(
		"mesh_samples_recorded_total",
		metric.WithDescription("Performance samples ingested"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	alertsRaised, err := meter.Int64Counter(
		"mesh_alerts_raised_total",
		metric.WithDescription("Alerts raised or escalated"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"mesh_instance_response_time_ms",
		metric.WithDescription("Health-check response time distribution"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	healthyInstances, err := meter.Int64Gauge(
		"mesh_healthy_instances",
		metric.WithDescription("Healthy instance count per service type"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		samplesRecorded:  samplesRecorded,
		alertsRaised:     alertsRaised,
		responseTime:     responseTime,
		healthyInstances: healthyInstances,
	}, nil
}

// RecordSample counts one ingested sample and its response time.
func (o *OTelMetrics) RecordSample(ctx context.Context, m Metrics) {
	attrs := metric.WithAttributes(
		attribute.String("service_type", m.ServiceType.String()),
		attribute.String("instance_id", m.InstanceID),
	)
	o.samplesRecorded.Add(ctx, 1, attrs)
	if m.ResponseTimeMs > 0 {
		o.responseTime.Record(ctx, m.ResponseTimeMs, attrs)
	}
}

// RecordAlert counts one raised or escalated alert.
func (o *OTelMetrics) RecordAlert(ctx context.Context, alert *Alert) {
	o.alertsRaised.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service_type", alert.ServiceType.String()),
		attribute.String("metric", string(alert.Metric)),
		attribute.String("severity", alert.Severity.String()),
	))
}

// SetHealthyInstances publishes the healthy-instance gauge for one service
// type.
func (o *OTelMetrics) SetHealthyInstances(ctx context.Context, serviceType mesh.ServiceType, count int) {
	o.healthyInstances.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("service_type", serviceType.String()),
	))
}
