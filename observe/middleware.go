package observe

import (
	"context"
	"time"
)

// DispatchFunc is the signature for RPC dispatch functions.
// This is the standard function signature that Middleware wraps.
type DispatchFunc func(ctx context.Context, meta CallMeta) (any, error)

// Middleware wraps RPC dispatch with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe DispatchFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Request/response values are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a DispatchFunc with tracing, metrics, and logging. Each
// invocation is one attempt: retries wrap again with a fresh meta.
func (m *Middleware) Wrap(fn DispatchFunc) DispatchFunc {
	return func(ctx context.Context, meta CallMeta) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx, meta)
		duration := time.Since(start)

		// End span (records error status if err != nil)
		m.tracer.EndSpan(span, err)

		m.metrics.RecordAttempt(ctx, meta, duration, err)

		callLogger := m.logger.WithCall(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}

		if err != nil {
			fields = append(fields, Field{Key: "outcome", Value: "failure"})
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			callLogger.Error(ctx, "rpc attempt failed", fields...)
		} else {
			fields = append(fields, Field{Key: "outcome", Value: "success"})
			callLogger.Info(ctx, "rpc attempt completed", fields...)
		}

		return result, err
	}
}

// RecordRetry records a failover retry on the underlying metrics and
// logs it at warn level.
func (m *Middleware) RecordRetry(ctx context.Context, meta CallMeta, attempt int, backoff time.Duration) {
	m.metrics.RecordRetry(ctx, meta)
	m.logger.WithCall(meta).Warn(ctx, "rpc attempt retried",
		Field{Key: "attempt", Value: attempt},
		Field{Key: "backoff_ms", Value: float64(backoff.Milliseconds())},
	)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	tracer := newTracer(obs.Tracer())

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(newNoopTracer(), &noopMetrics{}, &noopLogger{})
}
