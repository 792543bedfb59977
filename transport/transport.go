package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is a single JSON-RPC call bound for an endpoint.
type Request struct {
	// ID correlates the request with its response. Required.
	ID string

	// Method is the JSON-RPC method name.
	Method string

	// Params are the positional call parameters. They must survive
	// ValidateParams before dispatch.
	Params []any
}

// Response carries the upstream result. The result stays raw JSON so
// large integer values round-trip without precision loss.
type Response struct {
	Result json.RawMessage
}

// Transport executes JSON-RPC requests against upstream endpoints.
// The pool is constructed with exactly one implementation: the real
// HTTP transport or a deterministic fake; callers never branch on
// which one is active.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Do must honor cancellation/deadlines.
// - Errors: failures that may have reached the provider must be
//   wrapped with MarkDispatched so retry policy can stay safe for
//   non-idempotent calls.
type Transport interface {
	Do(ctx context.Context, endpoint string, req Request) (*Response, error)
}

// ProviderError is a JSON-RPC error object returned by the upstream.
type ProviderError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// JSON-RPC 2.0 well-known error codes.
const (
	codeMethodNotFound = -32601
)

// IsMethodNotFound reports whether err is the upstream's
// method-not-found response.
func IsMethodNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == codeMethodNotFound
}

// dispatchedError marks a failure that happened after the request may
// have reached the provider.
type dispatchedError struct {
	err error
}

func (e *dispatchedError) Error() string { return e.err.Error() }

func (e *dispatchedError) Unwrap() error { return e.err }

// MarkDispatched wraps err to record that the request was (or may have
// been) sent before the failure.
func MarkDispatched(err error) error {
	if err == nil {
		return nil
	}
	return &dispatchedError{err: err}
}

// WasDispatched reports whether the failed request may have reached
// the provider. Retrying a non-idempotent call after such a failure
// risks duplicate side effects.
func WasDispatched(err error) bool {
	var de *dispatchedError
	return errors.As(err, &de)
}
