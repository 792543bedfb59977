package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records outcome metrics for RPC call attempts.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAttempt records one call attempt with duration and error status.
	RecordAttempt(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordRetry records a failover retry for a call.
	RecordRetry(ctx context.Context, meta CallMeta)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"rpc.call.total",
		metric.WithDescription("Total number of RPC call attempts"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"rpc.call.errors",
		metric.WithDescription("Total number of failed RPC call attempts"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"rpc.call.retries",
		metric.WithDescription("Total number of failover retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"rpc.call.duration_ms",
		metric.WithDescription("RPC call attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		durationHist: durationHist,
	}, nil
}

func callAttributes(meta CallMeta) metric.MeasurementOption {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.method", meta.Method),
	}
	if meta.Endpoint != "" {
		attrs = append(attrs, attribute.String("rpc.endpoint", meta.Endpoint))
	}
	return metric.WithAttributes(attrs...)
}

// RecordAttempt records metrics for one call attempt.
func (m *metricsImpl) RecordAttempt(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := callAttributes(meta)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordRetry records a failover retry.
func (m *metricsImpl) RecordRetry(ctx context.Context, meta CallMeta) {
	m.retryCount.Add(ctx, 1, callAttributes(meta))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordAttempt(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordRetry(ctx context.Context, meta CallMeta) {}
