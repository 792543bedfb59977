// Package observe provides observability primitives for RPC calls.
//
// It is a pure instrumentation library: no dispatch, no transport, no
// I/O beyond exporter setup. The pool wires a Middleware around each
// call attempt; other consumers can reuse the Observer directly.
package observe
