package validation

import (
	"sync"
)

// Default cutoffs correspond to a false-positive rate of 2^-40 with an
// assumed entropy of 0.5 bits per byte for the adaptive proportion test.
const (
	DefaultRCTCutoff = 40
	DefaultAPTCutoff = 605
	DefaultAPTWindow = 4096
)

// RepetitionCount is the Repetition Count Test of NIST SP 800-90B Section
// 4.4.1: it fails when one byte value repeats cutoff times in a row. It is not
// safe for concurrent use; StreamHealth serializes access.
type RepetitionCount struct {
	cutoff  int
	last    byte
	run     int
	started bool
}

// NewRepetitionCount returns a test with the given cutoff; non-positive values
// select DefaultRCTCutoff.
func NewRepetitionCount(cutoff int) *RepetitionCount {
	if cutoff <= 0 {
		cutoff = DefaultRCTCutoff
	}
	return &RepetitionCount{cutoff: cutoff}
}

// Test feeds one sample and reports whether the test still passes. After a
// failure the run restarts with the next sample.
func (r *RepetitionCount) Test(sample byte) bool {
	if !r.started || sample != r.last {
		r.last = sample
		r.run = 1
		r.started = true
		return true
	}
	r.run++
	if r.run >= r.cutoff {
		r.started = false
		return false
	}
	return true
}

// Reset returns the test to its initial state.
func (r *RepetitionCount) Reset() {
	*r = RepetitionCount{cutoff: r.cutoff}
}

// AdaptiveProportion is the Adaptive Proportion Test of NIST SP 800-90B
// Section 4.4.2: within each window, it counts how often the window's first
// sample recurs and fails the window when the count reaches cutoff.
type AdaptiveProportion struct {
	cutoff  int
	window  int
	first   byte
	matches int
	seen    int
}

// NewAdaptiveProportion returns a test with the given cutoff and window size;
// non-positive values select the defaults.
func NewAdaptiveProportion(cutoff, window int) *AdaptiveProportion {
	if cutoff <= 0 {
		cutoff = DefaultAPTCutoff
	}
	if window <= 0 {
		window = DefaultAPTWindow
	}
	return &AdaptiveProportion{cutoff: cutoff, window: window}
}

// Test feeds one sample. It returns false only when a completed window
// failed; the next window starts with the following sample.
func (a *AdaptiveProportion) Test(sample byte) bool {
	if a.seen == 0 {
		a.first = sample
		a.matches = 1
	} else if sample == a.first {
		a.matches++
	}
	a.seen++

	if a.seen < a.window {
		return true
	}
	passed := a.matches < a.cutoff
	a.seen = 0
	a.matches = 0
	return passed
}

// Reset discards the current window.
func (a *AdaptiveProportion) Reset() {
	*a = AdaptiveProportion{cutoff: a.cutoff, window: a.window}
}

// HealthResult counts failures raised by one Observe call.
type HealthResult struct {
	RCTFailures int
	APTFailures int
}

// Failed reports whether any test failed.
func (h HealthResult) Failed() bool {
	return h.RCTFailures > 0 || h.APTFailures > 0
}

// HealthTotals accumulates a stream's history.
type HealthTotals struct {
	Samples     int
	RCTFailures int
	APTFailures int
}

// StreamHealth runs both continuous tests over the concatenated payloads of
// one ESP flow. All methods are safe for concurrent use.
type StreamHealth struct {
	mu     sync.Mutex
	rct    *RepetitionCount
	apt    *AdaptiveProportion
	totals HealthTotals
}

// NewStreamHealth builds a monitor with the given cutoffs.
func NewStreamHealth(rctCutoff, aptCutoff, aptWindow int) *StreamHealth {
	return &StreamHealth{
		rct: NewRepetitionCount(rctCutoff),
		apt: NewAdaptiveProportion(aptCutoff, aptWindow),
	}
}

// Observe feeds payload into both tests and returns the failures it caused.
func (s *StreamHealth) Observe(payload []byte) HealthResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res HealthResult
	for _, b := range payload {
		if !s.rct.Test(b) {
			res.RCTFailures++
		}
		if !s.apt.Test(b) {
			res.APTFailures++
		}
	}
	s.totals.Samples += len(payload)
	s.totals.RCTFailures += res.RCTFailures
	s.totals.APTFailures += res.APTFailures
	return res
}

// Totals returns the accumulated counters.
func (s *StreamHealth) Totals() HealthTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}
