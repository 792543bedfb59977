// Package rpcerr defines the error taxonomy shared by the rate limiter,
// circuit breaker, and connection pool.
//
// Every operation in this module fails with an *Error carrying one of a
// fixed set of codes. Callers branch on codes, not on message text:
//
//	res, err := p.Call(ctx, "eth_getBalance", params, opts)
//	if rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
//	    // back off and retry later
//	}
//
// Codes are part of the public contract: transient conditions
// (RATE_LIMITED, TIMEOUT, DEPENDENCY_UNAVAILABLE) may be retried by the
// caller, VALIDATION_ERROR and CONFLICT must not be, and
// INVARIANT_BREACH always indicates a defect in this module.
package rpcerr
