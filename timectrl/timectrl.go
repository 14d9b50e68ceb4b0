package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives components access to simulation time without depending on
// the concrete frame driver, so tests can substitute their own clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces frames by wall-clock time.
	RealTime Mode = iota
	// Accelerated runs frames back to back while still stepping by Tick.
	Accelerated
)

// Frame is one step of the simulation.
type Frame struct {
	Index uint64
	Time  time.Time
	Delta time.Duration
}

// TimeController drives simulation frames and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	frame       uint64

	listeners []func(Frame)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the simulation clock without running a frame.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every frame, in registration
// order, on the goroutine that advances the clock.
func (tc *TimeController) AddListener(fn func(Frame)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances the clock by one Tick and runs every listener.
func (tc *TimeController) Step() Frame {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	tc.frame++
	f := Frame{Index: tc.frame, Time: tc.currentTime, Delta: tc.Tick}
	listeners := append([]func(Frame)(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(f)
	}
	return f
}

// Start runs frames for the given simulated duration (forever when zero) in
// a separate goroutine until ctx is done. It returns a channel that is
// closed when the controller stops.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		elapsed := time.Duration(0)
		for duration <= 0 || elapsed < duration {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
