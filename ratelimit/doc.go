// Package ratelimit implements the token-bucket admission gate used per
// upstream endpoint.
//
// A Bucket accrues tokens continuously at Capacity/Window, clamped to
// its capacity. Consume refills, checks, and decrements under a single
// lock, so the cap holds under concurrent callers: for any window of
// length Window, at most Capacity tokens can be consumed.
//
//	b := ratelimit.NewBucket(ratelimit.BucketConfig{
//	    Capacity: 45, // provider allows 45 req/s
//	    Window:   time.Second,
//	})
//	if b.Consume(1) {
//	    // dispatch the request
//	}
//
// Fractional tokens are kept internally; Status floors them only for
// display.
package ratelimit
