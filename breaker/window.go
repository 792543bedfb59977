package breaker

import "time"

// outcome is one recorded call result inside the rolling window.
type outcome struct {
	at      time.Time
	success bool
}

// window keeps call outcomes for a bounded trailing duration. All
// methods assume the caller holds the breaker lock.
type window struct {
	span     time.Duration
	outcomes []outcome
}

func newWindow(span time.Duration) *window {
	return &window{span: span}
}

// add records an outcome and prunes anything older than the span.
func (w *window) add(now time.Time, success bool) {
	w.outcomes = append(w.outcomes, outcome{at: now, success: success})
	w.prune(now)
}

// prune drops outcomes that fell out of the trailing span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.outcomes) && !w.outcomes[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.outcomes = append(w.outcomes[:0], w.outcomes[i:]...)
	}
}

// counts returns successes and failures currently inside the window.
func (w *window) counts(now time.Time) (successes, failures int) {
	w.prune(now)
	for _, o := range w.outcomes {
		if o.success {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// failureRate returns the failure share in [0, 1] and the sample count.
func (w *window) failureRate(now time.Time) (rate float64, samples int) {
	successes, failures := w.counts(now)
	samples = successes + failures
	if samples == 0 {
		return 0, 0
	}
	return float64(failures) / float64(samples), samples
}
