package pool

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jonwraymond/rpcpool/breaker"
	"github.com/jonwraymond/rpcpool/ratelimit"
	"github.com/jonwraymond/rpcpool/secret"
)

// EndpointConfig describes one upstream RPC provider.
type EndpointConfig struct {
	// URL is the provider endpoint. Required, unique within a pool.
	URL string

	// Weight biases balanced routing toward this endpoint.
	// Default: 1
	Weight int

	// RPSCap is the hard request-per-second ceiling. The cap is enforced
	// as configured, below the provider's advertised limit if the
	// operator chooses; it is never tuned at runtime.
	// Default: 10
	RPSCap float64

	// Timeout bounds a single attempt against this endpoint.
	// Default: 10 seconds
	Timeout time.Duration

	// Breaker configures the endpoint's owned circuit breaker. Clock and
	// Rand are inherited from the pool when unset.
	Breaker breaker.Config

	// SharedBreaker, when set, is used instead of an owned breaker so
	// several pools (or other callers) can share one circuit's state.
	SharedBreaker *breaker.Breaker
}

// emaAlpha is the smoothing factor for latency and error-rate averages.
const emaAlpha = 0.1

// endpoint is the runtime state the pool keeps per provider. The
// bucket and breaker have their own locks; mu guards the counters.
type endpoint struct {
	config      EndpointConfig
	redactedURL string
	bucket      *ratelimit.Bucket
	brk         *breaker.Breaker

	mu         sync.Mutex
	inFlight   int
	emaLatency time.Duration
	errorRate  float64
}

func newEndpoint(config EndpointConfig, clk clock.Clock, random func() float64) *endpoint {
	brk := config.SharedBreaker
	if brk == nil {
		bc := config.Breaker
		if bc.Clock == nil {
			bc.Clock = clk
		}
		if bc.Rand == nil {
			bc.Rand = random
		}
		brk = breaker.New(bc)
	}

	return &endpoint{
		config:      config,
		redactedURL: secret.RedactURL(config.URL),
		bucket: ratelimit.NewBucket(ratelimit.BucketConfig{
			Capacity: config.RPSCap,
			Window:   time.Second,
			Clock:    clk,
		}),
		brk: brk,
	}
}

// begin marks an attempt in flight.
func (e *endpoint) begin() {
	e.mu.Lock()
	e.inFlight++
	e.mu.Unlock()
}

// finish records the attempt outcome into the endpoint's moving
// averages and releases the in-flight slot.
func (e *endpoint) finish(latency time.Duration, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFlight--

	if e.emaLatency == 0 {
		e.emaLatency = latency
	} else {
		e.emaLatency = time.Duration((1-emaAlpha)*float64(e.emaLatency) + emaAlpha*float64(latency))
	}

	outcome := 0.0
	if failed {
		outcome = 1.0
	}
	e.errorRate = (1-emaAlpha)*e.errorRate + emaAlpha*outcome
}

// stats returns the counters used by selection and health snapshots.
func (e *endpoint) stats() (inFlight int, emaLatency time.Duration, errorRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight, e.emaLatency, e.errorRate
}
