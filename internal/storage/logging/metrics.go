package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

type metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	bytes      metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger pslog.Logger) *metrics {
	m := &metrics{}
	var err error

	m.operations, err = meter.Int64Counter(
		"pageblob.storage.operations",
		metric.WithDescription("Backend operations by operation and result"),
	)
	logMetricInitError(logger, "pageblob.storage.operations", err)

	m.duration, err = meter.Float64Histogram(
		"pageblob.storage.duration",
		metric.WithDescription("Backend operation latency"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "pageblob.storage.duration", err)

	m.bytes, err = meter.Int64Counter(
		"pageblob.storage.bytes",
		metric.WithDescription("Page bytes moved to or from the backend"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "pageblob.storage.bytes", err)

	return m
}

func (m *metrics) record(ctx context.Context, op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	)
	if m.operations != nil {
		m.operations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func (m *metrics) addBytes(ctx context.Context, direction string, n int) {
	if m == nil || m.bytes == nil || n <= 0 {
		return
	}
	m.bytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", direction)))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
