package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// BucketConfig configures a token bucket.
type BucketConfig struct {
	// Capacity is the maximum number of tokens the bucket holds. For a
	// per-endpoint limiter this is the endpoint's RPS cap.
	// Default: 10
	Capacity float64

	// Window is the interval over which Capacity tokens accrue.
	// Default: 1 second
	Window time.Duration

	// Clock supplies time. Inject a mock for deterministic tests.
	// Default: clock.New() (wall clock)
	Clock clock.Clock
}

// Bucket is a token-bucket rate limiter. Tokens accrue continuously at
// Capacity/Window and are clamped to [0, Capacity]; burst above Capacity
// is never allowed and idle periods never produce debt.
type Bucket struct {
	config BucketConfig
	clock  clock.Clock

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Status is a read-only view of a bucket.
type Status struct {
	// Tokens is the currently available token count, floored for display.
	Tokens int

	// Capacity is the configured maximum.
	Capacity float64

	// Utilization is the consumed share of capacity in percent, in
	// [0, 100].
	Utilization float64
}

// NewBucket creates a token bucket starting at full capacity.
func NewBucket(config BucketConfig) *Bucket {
	// Apply defaults
	if config.Capacity <= 0 {
		config.Capacity = 10
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Bucket{
		config:     config,
		clock:      config.Clock,
		tokens:     config.Capacity,
		lastRefill: config.Clock.Now(),
	}
}

// CanConsume reports whether n tokens are available. It refills from
// elapsed time but never decrements.
func (b *Bucket) CanConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens >= n
}

// Consume takes n tokens if available. The refill, check, and decrement
// happen under one lock so two concurrent callers can never both pass a
// check that only one should pass.
func (b *Bucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Refill recomputes the token count from elapsed time.
func (b *Bucket) Refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
}

// Status returns the current bucket state.
func (b *Bucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return Status{
		Tokens:      int(math.Floor(b.tokens)),
		Capacity:    b.config.Capacity,
		Utilization: (b.config.Capacity - b.tokens) / b.config.Capacity * 100,
	}
}

// Capacity returns the configured capacity.
func (b *Bucket) Capacity() float64 {
	return b.config.Capacity
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	b.lastRefill = now

	if elapsed <= 0 {
		return
	}

	b.tokens += float64(elapsed) / float64(b.config.Window) * b.config.Capacity
	if b.tokens > b.config.Capacity {
		b.tokens = b.config.Capacity
	}
}
