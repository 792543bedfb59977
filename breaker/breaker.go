package breaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jonwraymond/rpcpool/rpcerr"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is denying all requests.
	StateOpen
	// StateHalfOpen means the circuit admits a bounded number of probes.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	// Default: 5
	FailureThreshold int

	// Cooldown is how long the circuit stays open before admitting
	// probes.
	// Default: 30 seconds
	Cooldown time.Duration

	// CooldownJitter is the maximum extra cooldown added on each open.
	// The actual jitter is Rand() * CooldownJitter, so with an injected
	// deterministic Rand the deadline is reproducible.
	// Default: 0 (no jitter)
	CooldownJitter time.Duration

	// HalfOpenMaxInFlight bounds concurrent probes while half-open.
	// Default: 1
	HalfOpenMaxInFlight int

	// RollingWindow bounds the outcome history used for the
	// failure-rate trip condition.
	// Default: 60 seconds
	RollingWindow time.Duration

	// WindowFailureRate is the failure share in (0, 1] that opens the
	// circuit once WindowMinSamples outcomes are in the window.
	// Default: 0.5
	WindowFailureRate float64

	// WindowMinSamples is the minimum window population before the
	// failure rate is considered.
	// Default: 10
	WindowMinSamples int

	// MaxLatency marks a success as a failure outcome when its duration
	// exceeds this bound. Zero disables latency tripping.
	MaxLatency time.Duration

	// SuccessReset clears the consecutive-failure counter after this
	// much failure-free operation while closed.
	// Default: 60 seconds
	SuccessReset time.Duration

	// Clock supplies time. Inject a mock for deterministic tests.
	// Default: clock.New() (wall clock)
	Clock clock.Clock

	// Rand returns a value in [0, 1) used to scale CooldownJitter.
	// Default: none (jitter contributes zero)
	Rand func() float64

	// OnStateChange is called, with the lock held released, after every
	// state transition.
	OnStateChange func(from, to State)
}

// Probe identifies an admission check.
type Probe struct {
	// RequestID correlates the check with a call attempt. Required.
	RequestID string

	// Deadline, when set, must not already be in the past.
	Deadline time.Time
}

// Result describes a finished call attempt.
type Result struct {
	// RequestID correlates the outcome with a call attempt. Required.
	RequestID string

	// Duration is the observed attempt duration. Must be >= 0.
	Duration time.Duration

	// ErrorCode classifies the failure. Required for RecordFailure.
	ErrorCode string
}

// Snapshot is a read-only view of a breaker.
type Snapshot struct {
	State               State
	TotalCalls          int64
	TotalSuccesses      int64
	TotalFailures       int64
	ConsecutiveFailures int
	HalfOpenInFlight    int
	OpenedAt            time.Time
}

// Breaker is a per-endpoint circuit breaker.
//
// Contract:
// - Concurrency: safe for concurrent use; one lock guards all state.
// - Errors: malformed input returns VALIDATION_ERROR and never mutates
//   state; impossible transitions return INVARIANT_BREACH.
type Breaker struct {
	config Config
	clock  clock.Clock

	mu               sync.Mutex
	state            State
	consecutiveFails int
	window           *window
	openedAt         time.Time
	cooldownDeadline time.Time
	lastFailureAt    time.Time
	halfOpenInFlight int
	totalCalls       int64
	totalSuccesses   int64
	totalFailures    int64
}

// New creates a circuit breaker in the closed state.
func New(config Config) *Breaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.HalfOpenMaxInFlight <= 0 {
		config.HalfOpenMaxInFlight = 1
	}
	if config.RollingWindow <= 0 {
		config.RollingWindow = time.Minute
	}
	if config.WindowFailureRate <= 0 || config.WindowFailureRate > 1 {
		config.WindowFailureRate = 0.5
	}
	if config.WindowMinSamples <= 0 {
		config.WindowMinSamples = 10
	}
	if config.SuccessReset <= 0 {
		config.SuccessReset = time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Breaker{
		config: config,
		clock:  config.Clock,
		state:  StateClosed,
		window: newWindow(config.RollingWindow),
	}
}

// CanPass checks whether a request may be sent through the circuit.
// It returns the state observed by the request. While half-open, a nil
// error reserves one probe slot; the matching RecordSuccess or
// RecordFailure releases it.
func (b *Breaker) CanPass(probe Probe) (State, error) {
	if probe.RequestID == "" {
		return 0, rpcerr.New(rpcerr.CodeValidation, "requestId is required")
	}
	now := b.clock.Now()
	if !probe.Deadline.IsZero() && probe.Deadline.Before(now) {
		return 0, rpcerr.New(rpcerr.CodeTimeout, "deadline already elapsed")
	}

	b.mu.Lock()
	from, to := b.advanceLocked(now)

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		b.notify(from, to)
		return StateClosed, nil

	case StateOpen:
		b.mu.Unlock()
		b.notify(from, to)
		return StateOpen, rpcerr.New(rpcerr.CodeRateLimited, "circuit is open")

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxInFlight {
			b.mu.Unlock()
			b.notify(from, to)
			return StateHalfOpen, rpcerr.New(rpcerr.CodeRateLimited, "half-open probe limit reached")
		}
		b.halfOpenInFlight++
		b.mu.Unlock()
		b.notify(from, to)
		return StateHalfOpen, nil

	default:
		b.mu.Unlock()
		return b.state, rpcerr.New(rpcerr.CodeInvariantBreach, "unknown circuit state %d", int(b.state))
	}
}

// RecordSuccess records a successful attempt and returns the resulting
// state. A success slower than MaxLatency counts as a failure outcome
// even though the call succeeded.
func (b *Breaker) RecordSuccess(result Result) (State, error) {
	if result.RequestID == "" {
		return 0, rpcerr.New(rpcerr.CodeValidation, "requestId is required")
	}
	if result.Duration < 0 {
		return 0, rpcerr.New(rpcerr.CodeValidation, "durationMs must be a non-negative integer")
	}

	if b.config.MaxLatency > 0 && result.Duration > b.config.MaxLatency {
		return b.record(result, false)
	}
	return b.record(result, true)
}

// RecordFailure records a failed attempt and returns the resulting
// state.
func (b *Breaker) RecordFailure(result Result) (State, error) {
	if result.RequestID == "" {
		return 0, rpcerr.New(rpcerr.CodeValidation, "requestId is required")
	}
	if result.Duration < 0 {
		return 0, rpcerr.New(rpcerr.CodeValidation, "durationMs must be a non-negative integer")
	}
	if result.ErrorCode == "" {
		return 0, rpcerr.New(rpcerr.CodeValidation, "errorCode is required for failures")
	}

	return b.record(result, false)
}

// GetState returns a snapshot without side effects. The reported state
// reflects an elapsed cooldown (what CanPass would observe) but the
// transition itself is not committed.
func (b *Breaker) GetState() Snapshot {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && !now.Before(b.cooldownDeadline) {
		state = StateHalfOpen
	}

	return Snapshot{
		State:               state,
		TotalCalls:          b.totalCalls,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		ConsecutiveFailures: b.consecutiveFails,
		HalfOpenInFlight:    b.halfOpenInFlight,
		OpenedAt:            b.openedAt,
	}
}

func (b *Breaker) record(result Result, success bool) (State, error) {
	now := b.clock.Now()

	var transitions [][2]State

	b.mu.Lock()
	if from, to := b.advanceLocked(now); from != to {
		transitions = append(transitions, [2]State{from, to})
	}

	b.totalCalls++
	if success {
		b.totalSuccesses++
	} else {
		b.totalFailures++
	}
	b.window.add(now, success)

	oldState := b.state

	switch b.state {
	case StateClosed:
		if success {
			// The consecutive counter decays only after SuccessReset of
			// failure-free operation, not on the first success.
			if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) >= b.config.SuccessReset {
				b.consecutiveFails = 0
			}
		} else {
			b.consecutiveFails++
			b.lastFailureAt = now

			rate, samples := b.window.failureRate(now)
			if b.consecutiveFails >= b.config.FailureThreshold ||
				(samples >= b.config.WindowMinSamples && rate > b.config.WindowFailureRate) {
				b.openLocked(now)
			}
		}

	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if success {
			b.state = StateClosed
			b.consecutiveFails = 0
			b.lastFailureAt = time.Time{}
		} else {
			b.lastFailureAt = now
			b.openLocked(now)
		}

	case StateOpen:
		// Outcome of an attempt admitted before the circuit opened;
		// counters and window were already updated above.

	default:
		b.mu.Unlock()
		return b.state, rpcerr.New(rpcerr.CodeInvariantBreach, "unknown circuit state %d", int(b.state))
	}

	newState := b.state
	if oldState != newState {
		transitions = append(transitions, [2]State{oldState, newState})
	}
	b.mu.Unlock()

	for _, tr := range transitions {
		b.notify(tr[0], tr[1])
	}
	return newState, nil
}

// advanceLocked commits the time-triggered OPEN -> HALF_OPEN transition.
// It returns the transition endpoints for notification, or equal states
// when nothing happened.
func (b *Breaker) advanceLocked(now time.Time) (from, to State) {
	if b.state == StateOpen && !now.Before(b.cooldownDeadline) {
		b.state = StateHalfOpen
		b.halfOpenInFlight = 0
		return StateOpen, StateHalfOpen
	}
	return b.state, b.state
}

// openLocked transitions to OPEN and arms the cooldown deadline.
func (b *Breaker) openLocked(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.halfOpenInFlight = 0

	cooldown := b.config.Cooldown
	if b.config.CooldownJitter > 0 && b.config.Rand != nil {
		cooldown += time.Duration(b.config.Rand() * float64(b.config.CooldownJitter))
	}
	b.cooldownDeadline = now.Add(cooldown)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}
