package breaker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jonwraymond/rpcpool/rpcerr"
)

func newTestBreaker(mock *clock.Mock, config Config) *Breaker {
	config.Clock = mock
	return New(config)
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := b.RecordFailure(Result{
			RequestID: fmt.Sprintf("req-%d", i),
			Duration:  5 * time.Millisecond,
			ErrorCode: "TIMEOUT",
		}); err != nil {
			t.Fatalf("RecordFailure #%d error = %v", i+1, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})

	if b.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", b.config.FailureThreshold)
	}
	if b.config.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", b.config.Cooldown)
	}
	if b.config.HalfOpenMaxInFlight != 1 {
		t.Errorf("HalfOpenMaxInFlight = %d, want 1", b.config.HalfOpenMaxInFlight)
	}
	if b.GetState().State != StateClosed {
		t.Errorf("initial state = %v, want closed", b.GetState().State)
	}
}

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 5})

	failN(t, b, 4)
	if got := b.GetState().State; got != StateClosed {
		t.Fatalf("state after 4 failures = %v, want closed", got)
	}

	// A success at threshold-1 must not open the circuit.
	if _, err := b.RecordSuccess(Result{RequestID: "ok", Duration: time.Millisecond}); err != nil {
		t.Fatalf("RecordSuccess error = %v", err)
	}
	if got := b.GetState().State; got != StateClosed {
		t.Fatalf("state after 4 failures + success = %v, want closed", got)
	}

	state, err := b.RecordFailure(Result{RequestID: "req-5", Duration: time.Millisecond, ErrorCode: "EOF"})
	if err != nil {
		t.Fatalf("RecordFailure error = %v", err)
	}
	if state != StateOpen {
		t.Errorf("state after threshold failures = %v, want open", state)
	}
}

func TestBreaker_OpenDeniesWithRateLimited(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1})
	failN(t, b, 1)

	state, err := b.CanPass(Probe{RequestID: "req"})
	if state != StateOpen {
		t.Errorf("CanPass state = %v, want open", state)
	}
	if !rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
		t.Errorf("CanPass error code = %v, want RATE_LIMITED", rpcerr.CodeOf(err))
	}
}

func TestBreaker_CooldownBoundary(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1, Cooldown: 10 * time.Second})
	failN(t, b, 1)

	// Just before the cooldown deadline the circuit is still open.
	mock.Add(10*time.Second - time.Millisecond)
	if _, err := b.CanPass(Probe{RequestID: "early"}); !rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
		t.Errorf("CanPass before cooldown error = %v, want RATE_LIMITED", err)
	}

	// At the deadline it becomes half-open and admits a probe.
	mock.Add(time.Millisecond)
	state, err := b.CanPass(Probe{RequestID: "probe"})
	if err != nil {
		t.Fatalf("CanPass at cooldown error = %v", err)
	}
	if state != StateHalfOpen {
		t.Errorf("CanPass state = %v, want half-open", state)
	}
}

func TestBreaker_CooldownJitterDeterministic(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Second,
		CooldownJitter:   4 * time.Second,
		Rand:             func() float64 { return 0.5 },
	})
	failN(t, b, 1)

	// Deadline is cooldown + 0.5*jitter = 12s.
	mock.Add(11 * time.Second)
	if _, err := b.CanPass(Probe{RequestID: "early"}); !rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
		t.Errorf("CanPass at 11s error = %v, want RATE_LIMITED", err)
	}
	mock.Add(time.Second)
	if _, err := b.CanPass(Probe{RequestID: "probe"}); err != nil {
		t.Errorf("CanPass at 12s error = %v, want nil", err)
	}
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{
		FailureThreshold:    1,
		Cooldown:            time.Second,
		HalfOpenMaxInFlight: 2,
	})
	failN(t, b, 1)
	mock.Add(time.Second)

	for i := 0; i < 2; i++ {
		if _, err := b.CanPass(Probe{RequestID: fmt.Sprintf("probe-%d", i)}); err != nil {
			t.Fatalf("probe #%d error = %v, want nil", i+1, err)
		}
	}

	// The (limit+1)-th concurrent probe is denied.
	_, err := b.CanPass(Probe{RequestID: "probe-overflow"})
	if !rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
		t.Errorf("overflow probe error = %v, want RATE_LIMITED", err)
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1, Cooldown: time.Second})
	failN(t, b, 1)
	mock.Add(time.Second)

	if _, err := b.CanPass(Probe{RequestID: "probe"}); err != nil {
		t.Fatalf("CanPass error = %v", err)
	}
	state, err := b.RecordSuccess(Result{RequestID: "probe", Duration: 3 * time.Millisecond})
	if err != nil {
		t.Fatalf("RecordSuccess error = %v", err)
	}
	if state != StateClosed {
		t.Errorf("state after probe success = %v, want closed", state)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1, Cooldown: time.Second})
	failN(t, b, 1)
	mock.Add(time.Second)

	if _, err := b.CanPass(Probe{RequestID: "probe"}); err != nil {
		t.Fatalf("CanPass error = %v", err)
	}
	state, err := b.RecordFailure(Result{RequestID: "probe", Duration: time.Millisecond, ErrorCode: "EOF"})
	if err != nil {
		t.Fatalf("RecordFailure error = %v", err)
	}
	if state != StateOpen {
		t.Errorf("state after probe failure = %v, want open", state)
	}

	// The cooldown restarts from the probe failure.
	mock.Add(time.Second - time.Millisecond)
	if _, err := b.CanPass(Probe{RequestID: "again"}); !rpcerr.HasCode(err, rpcerr.CodeRateLimited) {
		t.Errorf("CanPass during restarted cooldown error = %v, want RATE_LIMITED", err)
	}
}

func TestBreaker_LatencyCountsAsFailure(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 2, MaxLatency: 100 * time.Millisecond})

	for i := 0; i < 2; i++ {
		if _, err := b.RecordSuccess(Result{
			RequestID: fmt.Sprintf("slow-%d", i),
			Duration:  250 * time.Millisecond,
		}); err != nil {
			t.Fatalf("RecordSuccess error = %v", err)
		}
	}

	if got := b.GetState().State; got != StateOpen {
		t.Errorf("state after slow successes = %v, want open", got)
	}
}

func TestBreaker_WindowFailureRateOpens(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{
		FailureThreshold:  100, // keep consecutive tripping out of the way
		RollingWindow:     time.Minute,
		WindowFailureRate: 0.5,
		WindowMinSamples:  10,
	})

	// Alternate failure/success so the consecutive counter never grows,
	// then tip the window past 50% failures.
	for i := 0; i < 5; i++ {
		failN(t, b, 1)
		if _, err := b.RecordSuccess(Result{RequestID: fmt.Sprintf("ok-%d", i), Duration: time.Millisecond}); err != nil {
			t.Fatalf("RecordSuccess error = %v", err)
		}
	}
	if got := b.GetState().State; got != StateClosed {
		t.Fatalf("state at 50%% failure rate = %v, want closed", got)
	}

	failN(t, b, 1)
	if got := b.GetState().State; got != StateOpen {
		t.Errorf("state above 50%% failure rate = %v, want open", got)
	}
}

func TestBreaker_WindowPrunesOldOutcomes(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{
		FailureThreshold:  100,
		RollingWindow:     10 * time.Second,
		WindowFailureRate: 0.5,
		WindowMinSamples:  4,
	})

	failN(t, b, 3)
	// Let the failures age out of the window entirely.
	mock.Add(11 * time.Second)

	for i := 0; i < 3; i++ {
		if _, err := b.RecordSuccess(Result{RequestID: fmt.Sprintf("ok-%d", i), Duration: time.Millisecond}); err != nil {
			t.Fatalf("RecordSuccess error = %v", err)
		}
	}
	failN(t, b, 1)

	// Window now holds 3 successes + 1 failure = 25%, below the rate.
	if got := b.GetState().State; got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_SuccessResetClearsCounter(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 5, SuccessReset: 30 * time.Second})

	failN(t, b, 4)

	// A success immediately after failures does not clear the counter.
	if _, err := b.RecordSuccess(Result{RequestID: "ok-1", Duration: time.Millisecond}); err != nil {
		t.Fatalf("RecordSuccess error = %v", err)
	}
	if got := b.GetState().ConsecutiveFailures; got != 4 {
		t.Errorf("ConsecutiveFailures = %d, want 4", got)
	}

	// After SuccessReset of failure-free operation it does.
	mock.Add(30 * time.Second)
	if _, err := b.RecordSuccess(Result{RequestID: "ok-2", Duration: time.Millisecond}); err != nil {
		t.Fatalf("RecordSuccess error = %v", err)
	}
	if got := b.GetState().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after reset = %d, want 0", got)
	}
}

func TestBreaker_ValidationNeverMutates(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1})

	cases := []struct {
		name string
		call func() error
	}{
		{"CanPass empty requestId", func() error {
			_, err := b.CanPass(Probe{})
			return err
		}},
		{"CanPass past deadline", func() error {
			_, err := b.CanPass(Probe{RequestID: "r", Deadline: mock.Now().Add(-time.Second)})
			return err
		}},
		{"RecordFailure empty errorCode", func() error {
			_, err := b.RecordFailure(Result{RequestID: "r", Duration: time.Millisecond})
			return err
		}},
		{"RecordFailure negative duration", func() error {
			_, err := b.RecordFailure(Result{RequestID: "r", Duration: -1, ErrorCode: "EOF"})
			return err
		}},
		{"RecordSuccess empty requestId", func() error {
			_, err := b.RecordSuccess(Result{Duration: time.Millisecond})
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if err == nil {
				t.Fatal("error = nil, want non-nil")
			}
			want := rpcerr.CodeValidation
			if tc.name == "CanPass past deadline" {
				want = rpcerr.CodeTimeout
			}
			if !rpcerr.HasCode(err, want) {
				t.Errorf("error code = %v, want %v", rpcerr.CodeOf(err), want)
			}
		})
	}

	snap := b.GetState()
	if snap.State != StateClosed || snap.TotalCalls != 0 || snap.ConsecutiveFailures != 0 {
		t.Errorf("state mutated by invalid input: %+v", snap)
	}
}

func TestBreaker_Counters(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 10})

	failN(t, b, 2)
	for i := 0; i < 3; i++ {
		if _, err := b.RecordSuccess(Result{RequestID: fmt.Sprintf("ok-%d", i), Duration: time.Millisecond}); err != nil {
			t.Fatalf("RecordSuccess error = %v", err)
		}
	}

	snap := b.GetState()
	if snap.TotalCalls != 5 {
		t.Errorf("TotalCalls = %d, want 5", snap.TotalCalls)
	}
	if snap.TotalSuccesses != 3 {
		t.Errorf("TotalSuccesses = %d, want 3", snap.TotalSuccesses)
	}
	if snap.TotalFailures != 2 {
		t.Errorf("TotalFailures = %d, want 2", snap.TotalFailures)
	}
}

func TestBreaker_GetStateHasNoSideEffects(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{FailureThreshold: 1, Cooldown: time.Second})
	failN(t, b, 1)
	mock.Add(time.Second)

	// GetState reports half-open once the cooldown elapsed...
	if got := b.GetState().State; got != StateHalfOpen {
		t.Fatalf("GetState = %v, want half-open", got)
	}
	// ...but does not commit the transition or reserve probe slots.
	if got := b.GetState().HalfOpenInFlight; got != 0 {
		t.Errorf("HalfOpenInFlight after GetState = %d, want 0", got)
	}
	if _, err := b.CanPass(Probe{RequestID: "probe"}); err != nil {
		t.Errorf("CanPass after GetState error = %v, want nil", err)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]State

	mock := clock.NewMock()
	b := newTestBreaker(mock, Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, [2]State{from, to})
			mu.Unlock()
		},
	})

	failN(t, b, 1)
	mock.Add(time.Second)
	if _, err := b.CanPass(Probe{RequestID: "probe"}); err != nil {
		t.Fatalf("CanPass error = %v", err)
	}
	if _, err := b.RecordSuccess(Result{RequestID: "probe", Duration: time.Millisecond}); err != nil {
		t.Fatalf("RecordSuccess error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition #%d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
