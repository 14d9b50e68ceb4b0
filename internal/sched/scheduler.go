// Package sched runs deferred callbacks against simulation time. Signal
// controllers use it for delayed effects such as disabling an animator
// after its transition and stepping light sequences.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-signals/timectrl"
)

// Scheduler is what controllers need from an event scheduler.
type Scheduler interface {
	// Schedule registers f to run at simulation time at and returns an ID
	// for Cancel.
	Schedule(at time.Time, f func()) (id string)
	// After schedules f to run d after Now.
	After(d time.Duration, f func()) (id string)
	// Cancel is a no-op if the ID is unknown or already ran.
	Cancel(id string)
	Now() time.Time
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// EventScheduler is a Scheduler driven by a SimClock. RunDue must be called
// after every clock advance, typically from a frame listener.
type EventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by when, then by scheduling order
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by clock.
func NewEventScheduler(clock timectrl.SimClock) *EventScheduler {
	return &EventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified simulation time.
func (s *EventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	// Events at the same instant keep their scheduling order.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

// After schedules f to run d after Now.
func (s *EventScheduler) After(d time.Duration, f func()) string {
	return s.Schedule(s.Now().Add(d), f)
}

// Cancel attempts to cancel a previously scheduled event.
func (s *EventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; RunDue skips cancelled events.
}

// Now returns the current simulation time from the underlying clock.
func (s *EventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending is the number of events still waiting to run.
func (s *EventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue executes every event whose time is <= Now and returns how many
// ran. Callbacks run outside the lock and may schedule or cancel events.
func (s *EventScheduler) RunDue() int {
	ran := 0
	for {
		ev := s.popDue()
		if ev == nil {
			return ran
		}
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}

func (s *EventScheduler) popDue() *scheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		if ev.cancelled {
			continue
		}
		delete(s.index, ev.id)
		return ev
	}
	return nil
}
