package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/rpcpool/breaker"
	"github.com/jonwraymond/rpcpool/health"
)

// degradedErrorRate is the recent error rate above which an endpoint
// with a closed circuit is still reported degraded.
const degradedErrorRate = 0.5

// EndpointHealth is a read-only snapshot of one endpoint's state.
type EndpointHealth struct {
	// URL is the endpoint address with any embedded credential redacted.
	URL string

	// State summarizes routability: down when the circuit is open,
	// degraded while probing or erroring, healthy otherwise.
	State health.Status

	// BreakerState is the underlying circuit state.
	BreakerState breaker.State

	// InFlight is the number of attempts currently executing.
	InFlight int

	// EMALatency is the exponentially weighted average attempt latency.
	EMALatency time.Duration

	// ErrorRate is the exponentially weighted recent failure rate in
	// [0, 1].
	ErrorRate float64
}

// GetHealth snapshots every endpoint without mutating any state: no
// bucket refill, no breaker transition, no counter change.
func (p *Pool) GetHealth() []EndpointHealth {
	snapshot := make([]EndpointHealth, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		inFlight, emaLatency, errorRate := ep.stats()
		state := ep.brk.GetState().State

		status := health.StatusHealthy
		switch {
		case state == breaker.StateOpen:
			status = health.StatusDown
		case state == breaker.StateHalfOpen || errorRate >= degradedErrorRate:
			status = health.StatusDegraded
		}

		snapshot = append(snapshot, EndpointHealth{
			URL:          ep.redactedURL,
			State:        status,
			BreakerState: state,
			InFlight:     inFlight,
			EMALatency:   emaLatency,
			ErrorRate:    errorRate,
		})
	}
	return snapshot
}

// Checker exposes the pool on a process-wide health surface. The pool
// is down only when every endpoint is down; a mix reports degraded.
func (p *Pool) Checker() health.Checker {
	return health.NewCheckerFunc("rpc-pool", func(_ context.Context) health.Result {
		snapshot := p.GetHealth()

		var healthy, degraded, down int
		details := make(map[string]any, len(snapshot))
		for _, eh := range snapshot {
			switch eh.State {
			case health.StatusDown:
				down++
			case health.StatusDegraded:
				degraded++
			default:
				healthy++
			}
			details[eh.URL] = eh.State.String()
		}

		summary := fmt.Sprintf("%d healthy, %d degraded, %d down of %d endpoints",
			healthy, degraded, down, len(snapshot))

		var result health.Result
		switch {
		case down == len(snapshot):
			result = health.Down(summary, nil)
		case down > 0 || degraded > 0:
			result = health.Degraded(summary)
		default:
			result = health.Healthy(summary)
		}
		return result.WithDetails(details)
	})
}
