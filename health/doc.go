// Package health exposes the pool and its process on standard health
// probes.
//
// A Checker is any component that can report its health status. The
// Status type represents the health state: Healthy, Degraded, or Down.
// The pool contributes a checker that summarizes its endpoints; the
// memory checker watches heap pressure in the long-running process.
//
// Use Aggregator to combine checkers into one composite check:
//
//	agg := health.NewAggregator()
//	agg.Register("rpc-pool", p.Checker())
//	agg.Register("memory", health.NewMemoryChecker(health.MemoryCheckerConfig{}))
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// HTTP handlers cover the common probe patterns:
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg) // /healthz, /readyz, /health
package health
