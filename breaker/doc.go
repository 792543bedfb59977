// Package breaker implements the per-endpoint circuit breaker used by
// the connection pool.
//
// A Breaker moves between three states:
//
//   - closed: all requests admitted. Opens when consecutive failures
//     reach FailureThreshold, when the rolling-window failure rate
//     exceeds WindowFailureRate, or when a "successful" call exceeds
//     MaxLatency.
//   - open: all requests denied until Cooldown (plus deterministic
//     jitter) elapses.
//   - half-open: at most HalfOpenMaxInFlight probes admitted. One probe
//     success closes the circuit; any probe failure re-opens it and
//     re-arms the cooldown.
//
// Unlike the classic breaker, a single success while closed does not
// clear the consecutive-failure counter; only SuccessReset of
// failure-free operation does. Intermittently flapping endpoints
// therefore still trip.
//
// All timing flows through an injected clock so transitions are exactly
// reproducible in tests:
//
//	mock := clock.NewMock()
//	b := breaker.New(breaker.Config{
//	    FailureThreshold: 5,
//	    Cooldown:         10 * time.Second,
//	    Clock:            mock,
//	})
package breaker
