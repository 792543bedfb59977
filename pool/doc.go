// Package pool routes JSON-RPC calls across a fixed set of upstream
// endpoints, each gated by its own token bucket and circuit breaker.
//
// A call moves through a fixed pipeline: validation, pool-wide
// admission against concurrency and queue limits, endpoint selection
// by routing mode, per-endpoint rate and circuit admission, dispatch
// through the configured transport, then failover with linear backoff
// to the remaining endpoints until success, retry exhaustion, or the
// deadline.
//
// Construction is synchronous and performs no network I/O: an invalid
// configuration fails immediately from New. Time, randomness, and
// request-ID generation are injected so behavior is reproducible under
// test.
//
// GetHealth returns a read-only snapshot of every endpoint and never
// mutates bucket, breaker, or counter state.
package pool
