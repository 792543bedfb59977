package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler produces a scripted result for a fake call.
type Handler func(ctx context.Context, endpoint string, req Request) (json.RawMessage, error)

// Call records one request the fake has seen.
type Call struct {
	Endpoint string
	Method   string
	ID       string
}

// Fake is a deterministic in-memory Transport for tests and dry runs.
// It performs no I/O; behavior is fully scripted. Resolution order for
// a request: endpoint script, then method script, then the default
// handler (echo of the params).
type Fake struct {
	mu        sync.Mutex
	endpoints map[string]Handler
	methods   map[string]Handler
	fallback  Handler
	calls     []Call
}

// NewFake creates a fake transport that echoes params by default.
func NewFake() *Fake {
	return &Fake{
		endpoints: make(map[string]Handler),
		methods:   make(map[string]Handler),
		fallback: func(_ context.Context, _ string, req Request) (json.RawMessage, error) {
			return json.Marshal(req.Params)
		},
	}
}

// ScriptEndpoint sets the handler for every request to an endpoint.
func (f *Fake) ScriptEndpoint(endpoint string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[endpoint] = h
}

// ScriptMethod sets the handler for a method on any endpoint.
func (f *Fake) ScriptMethod(method string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[method] = h
}

// ScriptDefault replaces the fallback handler.
func (f *Fake) ScriptDefault(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = h
}

// FailEndpoint scripts an endpoint to fail every request with err.
func (f *Fake) FailEndpoint(endpoint string, err error) {
	f.ScriptEndpoint(endpoint, func(context.Context, string, Request) (json.RawMessage, error) {
		return nil, err
	})
}

// FailEndpointN scripts an endpoint to fail the next n requests with
// err, then fall through to the remaining scripts.
func (f *Fake) FailEndpointN(endpoint string, n int, err error) {
	var mu sync.Mutex
	remaining := n
	f.ScriptEndpoint(endpoint, func(ctx context.Context, ep string, req Request) (json.RawMessage, error) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()
		if fail {
			return nil, err
		}
		return f.dispatchUnscripted(ctx, ep, req)
	})
}

// MethodNotFound returns the error an upstream produces for an unknown
// method.
func MethodNotFound(method string) error {
	return &ProviderError{
		Code:    codeMethodNotFound,
		Message: fmt.Sprintf("the method %s does not exist/is not available", method),
	}
}

// Do executes the scripted behavior for the request.
func (f *Fake) Do(ctx context.Context, endpoint string, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Endpoint: endpoint, Method: req.Method, ID: req.ID})
	h, ok := f.endpoints[endpoint]
	if !ok {
		h, ok = f.methods[req.Method]
	}
	if !ok {
		h = f.fallback
	}
	f.mu.Unlock()

	result, err := h(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	return &Response{Result: result}, nil
}

// dispatchUnscripted resolves past the endpoint script, used by
// handlers that only intercept part of the traffic.
func (f *Fake) dispatchUnscripted(ctx context.Context, endpoint string, req Request) (json.RawMessage, error) {
	f.mu.Lock()
	h, ok := f.methods[req.Method]
	if !ok {
		h = f.fallback
	}
	f.mu.Unlock()
	return h(ctx, endpoint, req)
}

// Calls returns a copy of the request log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many requests reached an endpoint.
func (f *Fake) CallCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Ensure Fake satisfies Transport.
var _ Transport = (*Fake)(nil)
