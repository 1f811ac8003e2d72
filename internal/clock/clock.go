// Package clock abstracts wall time so run timing can be tested deterministically.
package clock

import "time"

// Clock reports the current time and elapsed durations.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock delegates to the standard library for production use.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since relays to time.Since.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
