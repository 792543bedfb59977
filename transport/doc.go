// Package transport executes JSON-RPC 2.0 requests against upstream
// endpoints.
//
// Two implementations satisfy the Transport interface: HTTP, the real
// wire transport, and Fake, a deterministic scripted in-memory
// transport for tests. A pool is constructed with exactly one of them
// and never branches on which is active.
//
// The package also owns numeric safety for the wire format: params are
// checked with ValidateParams so values beyond 2^53 travel as decimal
// strings, and results are decoded with DecodeResult so large integers
// keep their textual form.
package transport
