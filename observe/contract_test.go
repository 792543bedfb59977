package observe

import (
	"context"
	"testing"
	"time"
)

func TestObserverContract_Noops(t *testing.T) {
	cfg := Config{
		ServiceName: "observe-test",
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	if obs.Tracer() == nil {
		t.Fatalf("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Fatalf("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestLoggerContract_WithCall(t *testing.T) {
	logger := &noopLogger{}
	if logger.WithCall(CallMeta{RequestID: "r1", Method: "eth_chainId"}) == nil {
		t.Fatalf("WithCall should return non-nil logger")
	}
}

func TestMetricsContract_NoPanic(t *testing.T) {
	metrics := &noopMetrics{}
	meta := CallMeta{RequestID: "r1", Method: "eth_chainId"}
	metrics.RecordAttempt(context.Background(), meta, 10*time.Millisecond, nil)
	metrics.RecordRetry(context.Background(), meta)
}

func TestTracerContract_NoPanic(t *testing.T) {
	tracer := newNoopTracer()
	ctx := context.Background()
	_, span := tracer.StartSpan(ctx, CallMeta{RequestID: "r1", Method: "eth_chainId"})
	tracer.EndSpan(span, nil)
}
