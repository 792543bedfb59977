package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/rpcpool/breaker"
	"github.com/jonwraymond/rpcpool/observe"
	"github.com/jonwraymond/rpcpool/rpcerr"
	"github.com/jonwraymond/rpcpool/secret"
	"github.com/jonwraymond/rpcpool/transport"
)

// MaxEndpoints bounds the endpoint list of one pool.
const MaxEndpoints = 32

func defaultRand() float64 { return rand.Float64() }

// Routing selects how the pool orders candidate endpoints.
type Routing string

const (
	// RoutingBalanced weights endpoints by configured weight and inverse
	// in-flight count.
	RoutingBalanced Routing = "balanced"

	// RoutingPrimary always prefers the first healthy endpoint in
	// configuration order.
	RoutingPrimary Routing = "primary"

	// RoutingLatencyBiased ranks endpoints by EMA latency, fastest first.
	RoutingLatencyBiased Routing = "latency-biased"
)

// Config configures a Pool. Immutable after construction.
type Config struct {
	// Endpoints is the provider list, at most MaxEndpoints entries with
	// unique URLs. Required.
	Endpoints []EndpointConfig

	// Transport executes attempts. Exactly one implementation is chosen
	// here, the real HTTP transport or a deterministic fake; nothing
	// downstream branches on which. Required.
	Transport transport.Transport

	// MaxConcurrency bounds pool-wide in-flight calls.
	// Default: 64
	MaxConcurrency int

	// QueueCapacity bounds calls waiting for a concurrency slot. A call
	// arriving with the queue full fails fast with RATE_LIMITED.
	// Default: 128
	QueueCapacity int

	// GlobalTimeout bounds a whole call including retries when the
	// caller sets no deadline.
	// Default: 30 seconds
	GlobalTimeout time.Duration

	// RetryBackoff is the linear backoff unit between attempts: the
	// wait before attempt n+1 is RetryBackoff * n.
	// Default: 200 milliseconds
	RetryBackoff time.Duration

	// MaxRetries bounds the total number of attempts for one call.
	// Default: 3
	MaxRetries int

	// PreferFastest makes latency-biased the default routing mode.
	PreferFastest bool

	// Clock supplies time. Inject a mock for deterministic tests.
	// Default: clock.New() (wall clock)
	Clock clock.Clock

	// Rand returns values in [0,1) for selection tie-breaks. Inject a
	// deterministic source for reproducible routing.
	// Default: math/rand
	Rand func() float64

	// NewRequestID generates correlation IDs for calls that arrive
	// without one.
	// Default: uuid.NewString
	NewRequestID func() string

	// Middleware instruments every attempt with tracing, metrics, and
	// structured logs.
	// Default: observe.NopMiddleware()
	Middleware *observe.Middleware

	// Logger receives pool-level events: saturation, open circuits,
	// invariant breaches.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Secrets resolves ${ENV} and secretref: references in endpoint
	// URLs before validation. Nil leaves URLs untouched.
	Secrets *secret.Resolver
}

// CallOptions carries per-call settings.
type CallOptions struct {
	// RequestID correlates the call across logs, traces, and breaker
	// records. Generated when empty.
	RequestID string

	// Deadline is the absolute point after which the call must not
	// continue to retry or block. Zero means GlobalTimeout applies.
	Deadline time.Time

	// MaxLatency bounds each attempt in addition to the endpoint
	// timeout. Zero means no extra bound.
	MaxLatency time.Duration

	// Routing selects the endpoint ordering mode. Empty means balanced,
	// or latency-biased when the pool prefers fastest.
	Routing Routing

	// Idempotent marks the call safe to retry on another endpoint even
	// after it may have reached a provider.
	Idempotent bool
}

// Result is a successful call outcome. The payload stays raw JSON so
// large integer values survive as decimal strings.
type Result struct {
	RequestID string
	Endpoint  string // redacted URL
	Attempts  int
	Result    json.RawMessage
}

// Decode unmarshals the payload, keeping large integers textual.
func (r *Result) Decode(out *any) error {
	return transport.DecodeResult(r.Result, out)
}

// Pool routes JSON-RPC calls across endpoints, each gated by its own
// token bucket and circuit breaker.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: Call honors cancellation/deadlines on every wait.
// - Errors: every failure carries an rpcerr code.
type Pool struct {
	config    Config
	clock     clock.Clock
	random    func() float64
	requestID func() string
	mw        *observe.Middleware
	endpoints []*endpoint

	sem    *semaphore.Weighted
	admit  chan struct{} // buffered, models the bounded queue
	logger observe.Logger
}

// New validates the configuration and builds a pool. No network I/O is
// performed; an invalid configuration fails synchronously.
func New(config Config) (*Pool, error) {
	if config.Secrets != nil {
		// Endpoints is resolved on a copy so the caller's slice keeps
		// its references unexpanded.
		resolved := make([]EndpointConfig, len(config.Endpoints))
		copy(resolved, config.Endpoints)
		for i := range resolved {
			u, err := config.Secrets.Resolve(context.Background(), resolved[i].URL)
			if err != nil {
				return nil, rpcerr.Wrap(rpcerr.CodeValidation, err, "endpoint %d: resolve url", i)
			}
			resolved[i].URL = u
		}
		config.Endpoints = resolved
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	// Apply defaults
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 64
	}
	if config.QueueCapacity == 0 {
		config.QueueCapacity = 128
	}
	if config.GlobalTimeout == 0 {
		config.GlobalTimeout = 30 * time.Second
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Rand == nil {
		config.Rand = defaultRand
	}
	if config.NewRequestID == nil {
		config.NewRequestID = uuid.NewString
	}
	if config.Middleware == nil {
		config.Middleware = observe.NopMiddleware()
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	p := &Pool{
		config:    config,
		clock:     config.Clock,
		random:    config.Rand,
		requestID: config.NewRequestID,
		mw:        config.Middleware,
		sem:       semaphore.NewWeighted(int64(config.MaxConcurrency)),
		admit:     make(chan struct{}, config.QueueCapacity),
		logger:    config.Logger,
	}

	for i := range config.Endpoints {
		ep := config.Endpoints[i]
		if ep.Weight == 0 {
			ep.Weight = 1
		}
		if ep.RPSCap == 0 {
			ep.RPSCap = 10
		}
		if ep.Timeout == 0 {
			ep.Timeout = 10 * time.Second
		}
		p.endpoints = append(p.endpoints, newEndpoint(ep, config.Clock, config.Rand))
	}

	return p, nil
}

func validateConfig(config *Config) error {
	if len(config.Endpoints) == 0 {
		return rpcerr.New(rpcerr.CodeValidation, "at least one endpoint is required")
	}
	if len(config.Endpoints) > MaxEndpoints {
		return rpcerr.New(rpcerr.CodeValidation, "too many endpoints: %d exceeds the limit of %d", len(config.Endpoints), MaxEndpoints)
	}
	if config.Transport == nil {
		return rpcerr.New(rpcerr.CodeValidation, "transport is required")
	}

	seen := make(map[string]bool, len(config.Endpoints))
	for i, ep := range config.Endpoints {
		if ep.URL == "" {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: url is required", i)
		}
		u, err := url.Parse(ep.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: url is not absolute", i)
		}
		if seen[ep.URL] {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: duplicate url", i)
		}
		seen[ep.URL] = true
		if ep.Weight < 0 {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: weight must be positive", i)
		}
		if ep.RPSCap < 0 {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: rps cap must be positive", i)
		}
		if ep.Timeout < 0 {
			return rpcerr.New(rpcerr.CodeValidation, "endpoint %d: timeout must be positive", i)
		}
	}

	if config.MaxConcurrency < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "maxConcurrency must be positive")
	}
	if config.QueueCapacity < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "queueCapacity must be positive")
	}
	if config.GlobalTimeout < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "globalTimeout must be positive")
	}
	if config.RetryBackoff < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "retryBackoff must be positive")
	}
	if config.MaxRetries < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "maxRetries must be positive")
	}
	return nil
}

// Call executes one JSON-RPC call: validate, admit against the
// pool-wide concurrency/queue limits, then attempt against selected
// endpoints with linear-backoff failover until success, retry
// exhaustion, or deadline expiry.
func (p *Pool) Call(ctx context.Context, method string, params []any, opts CallOptions) (*Result, error) {
	if err := p.validateCall(method, params, &opts); err != nil {
		return nil, err
	}

	now := p.clock.Now()
	if !opts.Deadline.IsZero() && opts.Deadline.Before(now) {
		return nil, rpcerr.New(rpcerr.CodeTimeout, "deadline already elapsed")
	}
	deadline := now.Add(p.config.GlobalTimeout)
	if !opts.Deadline.IsZero() && opts.Deadline.Before(deadline) {
		deadline = opts.Deadline
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline.Sub(now))
	defer cancel()

	if err := p.acquireSlot(callCtx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	req := transport.Request{ID: opts.RequestID, Method: method, Params: params}
	meta := observe.CallMeta{RequestID: opts.RequestID, Method: method}

	excluded := make(map[string]bool, len(p.endpoints))
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return nil, rpcerr.New(rpcerr.CodeTimeout, "deadline elapsed after %d attempts", attempts)
		}

		// Once every endpoint has been tried the exclusion set resets,
		// so remaining retry budget can revisit endpoints after backoff.
		if len(excluded) == len(p.endpoints) {
			clear(excluded)
		}

		ep, err := p.selectEndpoint(excluded, opts.Routing, opts.RequestID, opts.Deadline)
		if err != nil {
			if attempts == 0 {
				return nil, err
			}
			return nil, rpcerr.Wrap(rpcerr.CodeDependencyUnavailable, lastErr,
				"no endpoint available after %d attempts", attempts)
		}

		attempts++
		resp, latency, attemptErr := p.dispatch(callCtx, ep, req, meta, opts.MaxLatency, remaining)
		if attemptErr == nil {
			p.recordSuccess(ep, opts.RequestID, latency)
			return &Result{
				RequestID: opts.RequestID,
				Endpoint:  ep.redactedURL,
				Attempts:  attempts,
				Result:    resp.Result,
			}, nil
		}

		code := classifyAttempt(attemptErr)

		// An unknown method is a deterministic provider answer, not
		// endpoint ill-health.
		if code == rpcerr.CodeNotFound {
			p.recordSuccess(ep, opts.RequestID, latency)
			return nil, rpcerr.Wrap(rpcerr.CodeNotFound, attemptErr, "method %s not found", method)
		}

		if err := p.recordFailure(ep, opts.RequestID, latency, code); err != nil {
			p.logger.WithCall(meta).Error(ctx, "breaker state inconsistent",
				observe.Field{Key: "error", Value: err.Error()})
			return nil, err
		}
		lastErr = attemptErr
		excluded[ep.config.URL] = true

		if !opts.Idempotent && transport.WasDispatched(attemptErr) {
			return nil, rpcerr.Wrap(rpcerr.CodeConflict, attemptErr,
				"request may have executed; retrying would risk a duplicate effect")
		}

		if attempt < p.config.MaxRetries {
			backoff := time.Duration(attempt) * p.config.RetryBackoff
			if err := p.wait(callCtx, backoff, deadline); err != nil {
				return nil, rpcerr.Wrap(rpcerr.CodeTimeout, err, "deadline elapsed during retry backoff")
			}
			p.mw.RecordRetry(ctx, meta, attempt, backoff)
		}
	}

	if !p.clock.Now().Before(deadline) {
		return nil, rpcerr.Wrap(rpcerr.CodeTimeout, lastErr, "deadline elapsed after %d attempts", attempts)
	}
	return nil, rpcerr.Wrap(rpcerr.CodeDependencyUnavailable, lastErr, "all %d attempts failed", attempts)
}

func (p *Pool) validateCall(method string, params []any, opts *CallOptions) error {
	if method == "" {
		return rpcerr.New(rpcerr.CodeValidation, "method is required")
	}
	for _, r := range method {
		if r > unicode.MaxASCII || unicode.IsControl(r) {
			return rpcerr.New(rpcerr.CodeValidation, "method must be printable ASCII")
		}
	}

	if err := transport.ValidateParams(params); err != nil {
		return rpcerr.Wrap(rpcerr.CodeValidation, err, "%v", err)
	}
	if _, err := json.Marshal(params); err != nil {
		return rpcerr.New(rpcerr.CodeValidation, "params are not JSON-serializable")
	}

	switch opts.Routing {
	case RoutingBalanced, RoutingPrimary, RoutingLatencyBiased:
	case "":
		opts.Routing = RoutingBalanced
		if p.config.PreferFastest {
			opts.Routing = RoutingLatencyBiased
		}
	default:
		return rpcerr.New(rpcerr.CodeValidation, "unknown routing mode %q", opts.Routing)
	}

	if opts.MaxLatency < 0 {
		return rpcerr.New(rpcerr.CodeValidation, "maxLatency must be positive")
	}

	if opts.RequestID == "" {
		opts.RequestID = p.requestID()
	}
	return nil
}

// acquireSlot admits the call against MaxConcurrency, queuing up to
// QueueCapacity waiters. A full queue is the backpressure valve: the
// call fails fast instead of waiting unboundedly.
func (p *Pool) acquireSlot(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}

	select {
	case p.admit <- struct{}{}:
	default:
		p.logger.Warn(ctx, "pool saturated",
			observe.Field{Key: "max_concurrency", Value: p.config.MaxConcurrency},
			observe.Field{Key: "queue_capacity", Value: p.config.QueueCapacity})
		return rpcerr.New(rpcerr.CodeRateLimited, "pool saturated: concurrency and queue limits reached")
	}
	defer func() { <-p.admit }()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return rpcerr.Wrap(rpcerr.CodeTimeout, err, "deadline elapsed while queued for a slot")
	}
	return nil
}

// selectEndpoint filters and ranks candidates, then admits the best one
// through its bucket and breaker. A candidate that loses the admission
// race falls through to the next.
func (p *Pool) selectEndpoint(excluded map[string]bool, routing Routing, requestID string, deadline time.Time) (*endpoint, error) {
	ranked, rateLimited := p.rankCandidates(excluded, routing)
	for _, ep := range ranked {
		// Consume before CanPass: a lost token under-sends, which the
		// rate cap tolerates, while a leaked half-open probe slot would
		// wedge the breaker.
		if !ep.bucket.Consume(1) {
			rateLimited = true
			continue
		}
		_, err := ep.brk.CanPass(breaker.Probe{RequestID: requestID, Deadline: deadline})
		if err != nil {
			if rpcerr.HasCode(err, rpcerr.CodeInvariantBreach) {
				return nil, err
			}
			continue
		}
		return ep, nil
	}
	if rateLimited {
		return nil, rpcerr.New(rpcerr.CodeRateLimited, "every usable endpoint is rate limited")
	}
	return nil, rpcerr.New(rpcerr.CodeDependencyUnavailable, "no endpoint passed selection")
}

// rankCandidates orders the healthy endpoints for the routing mode and
// reports whether any endpoint was held back only by its rate cap.
// Ties are broken with the injected random source.
func (p *Pool) rankCandidates(excluded map[string]bool, routing Routing) ([]*endpoint, bool) {
	type scored struct {
		ep    *endpoint
		score float64
	}

	rateLimited := false
	var candidates []scored
	for i, ep := range p.endpoints {
		if excluded[ep.config.URL] {
			continue
		}
		if ep.brk.GetState().State == breaker.StateOpen {
			continue
		}
		if !ep.bucket.CanConsume(1) {
			rateLimited = true
			continue
		}

		inFlight, emaLatency, _ := ep.stats()
		var score float64
		switch routing {
		case RoutingPrimary:
			score = -float64(i)
		case RoutingLatencyBiased:
			score = -float64(emaLatency) / float64(time.Millisecond)
		default:
			score = float64(ep.config.Weight) / float64(1+inFlight)
		}
		candidates = append(candidates, scored{ep: ep, score: score})
	}

	// Stable sort by score descending, then rotate runs of equal score
	// by the injected random source so ties do not always favor
	// configuration order.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	for lo := 0; lo < len(candidates); {
		hi := lo + 1
		for hi < len(candidates) && candidates[hi].score == candidates[lo].score {
			hi++
		}
		if run := hi - lo; run > 1 {
			pick := lo + int(p.random()*float64(run))
			if pick >= hi {
				pick = hi - 1
			}
			candidates[lo], candidates[pick] = candidates[pick], candidates[lo]
		}
		lo = hi
	}

	ordered := make([]*endpoint, len(candidates))
	for i, c := range candidates {
		ordered[i] = c.ep
	}
	return ordered, rateLimited
}

// dispatch executes one attempt bounded by the smallest of the
// endpoint timeout, the per-call latency bound, and the remaining
// global deadline.
func (p *Pool) dispatch(ctx context.Context, ep *endpoint, req transport.Request, meta observe.CallMeta, maxLatency, remaining time.Duration) (*transport.Response, time.Duration, error) {
	bound := ep.config.Timeout
	if maxLatency > 0 && maxLatency < bound {
		bound = maxLatency
	}
	if remaining < bound {
		bound = remaining
	}

	attemptCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	meta.Endpoint = ep.redactedURL
	instrumented := p.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (any, error) {
		return p.config.Transport.Do(ctx, ep.config.URL, req)
	})

	ep.begin()
	start := p.clock.Now()
	result, err := instrumented(attemptCtx, meta)
	latency := p.clock.Since(start)
	ep.finish(latency, err != nil)

	if err != nil {
		return nil, latency, err
	}
	resp, ok := result.(*transport.Response)
	if !ok || resp == nil {
		return nil, latency, rpcerr.New(rpcerr.CodeInternal, "transport returned no response")
	}
	return resp, latency, nil
}

func (p *Pool) recordSuccess(ep *endpoint, requestID string, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	// Breaker errors here would mean the pool fed it malformed input.
	_, _ = ep.brk.RecordSuccess(breaker.Result{RequestID: requestID, Duration: latency})
}

// recordFailure feeds the outcome to the breaker. An invariant breach
// from the breaker is surfaced, never swallowed.
func (p *Pool) recordFailure(ep *endpoint, requestID string, latency time.Duration, code rpcerr.Code) error {
	if latency < 0 {
		latency = 0
	}
	_, err := ep.brk.RecordFailure(breaker.Result{
		RequestID: requestID,
		Duration:  latency,
		ErrorCode: string(code),
	})
	if err != nil && rpcerr.HasCode(err, rpcerr.CodeInvariantBreach) {
		return err
	}
	return nil
}

// wait sleeps for the backoff, cancellable by the caller's deadline.
func (p *Pool) wait(ctx context.Context, backoff time.Duration, deadline time.Time) error {
	if remaining := deadline.Sub(p.clock.Now()); backoff >= remaining {
		return fmt.Errorf("backoff %v exceeds remaining budget %v", backoff, remaining)
	}

	timer := p.clock.Timer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyAttempt maps a transport failure onto the error taxonomy.
func classifyAttempt(err error) rpcerr.Code {
	switch {
	case transport.IsMethodNotFound(err):
		return rpcerr.CodeNotFound
	case isContextError(err):
		return rpcerr.CodeTimeout
	case isThrottle(err):
		return rpcerr.CodeRateLimited
	default:
		return rpcerr.CodeDependencyUnavailable
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func isThrottle(err error) bool {
	var pe *transport.ProviderError
	return errors.As(err, &pe) && pe.Code == 429
}
