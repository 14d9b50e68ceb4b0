package sched

import (
	"sync"
	"time"
)

// ManualClock is a SimClock that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t. Time never goes backwards.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// FakeEventScheduler is an EventScheduler with its own manual clock, for
// tests that need to move time explicitly and run due events
// deterministically.
type FakeEventScheduler struct {
	*EventScheduler
	Clock *ManualClock
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	clock := NewManualClock(start)
	return &FakeEventScheduler{EventScheduler: NewEventScheduler(clock), Clock: clock}
}

// AdvanceTo sets the fake simulation time to t and runs all due events.
// Time is kept monotonic.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.Clock.Set(t)
	s.RunDue()
}

// Advance moves fake time forward by d and runs all due events.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
