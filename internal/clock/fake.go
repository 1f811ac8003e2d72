package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock for tests. When a step is set, every
// Now call advances the clock by that step after reading it.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeClock returns a fake clock at the Unix epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

// Now returns the current fake time and applies the auto step.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now
	f.now = f.now.Add(f.step)
	return now
}

// Since reports the fake time elapsed since t without applying the auto step.
func (f *FakeClock) Since(t time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Sub(t)
}

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// SetStep makes every subsequent Now call advance the clock by d.
func (f *FakeClock) SetStep(d time.Duration) {
	f.mu.Lock()
	f.step = d
	f.mu.Unlock()
}
