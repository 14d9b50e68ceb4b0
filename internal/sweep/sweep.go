// Package sweep spreads periodic signal re-evaluation across frames and
// delivers deferred cross-signal notifications.
package sweep

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
	"github.com/signalsfoundry/rail-signals/timectrl"
)

const (
	DefaultPeriod          = time.Second
	DefaultFarPeriod       = 5 * time.Second
	DefaultFarDistance     = 2000.0
	DefaultMinInitialDelay = 100 * time.Millisecond
	DefaultMaxInitialDelay = 1100 * time.Millisecond
	DefaultHeadroom        = 2.0
)

// Config tunes the sweep.
type Config struct {
	// Period is the update cadence for targets near the viewpoint.
	Period time.Duration
	// FarPeriod applies beyond FarDistance from the viewpoint.
	FarPeriod   time.Duration
	FarDistance float64
	// First updates are staggered uniformly in [MinInitialDelay, MaxInitialDelay).
	MinInitialDelay time.Duration
	MaxInitialDelay time.Duration
	// Headroom scales the per-frame update budget above the steady-state
	// demand so late targets catch up.
	Headroom float64
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		Period:          DefaultPeriod,
		FarPeriod:       DefaultFarPeriod,
		FarDistance:     DefaultFarDistance,
		MinInitialDelay: DefaultMinInitialDelay,
		MaxInitialDelay: DefaultMaxInitialDelay,
		Headroom:        DefaultHeadroom,
	}
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.FarPeriod <= 0 {
		c.FarPeriod = DefaultFarPeriod
	}
	if c.FarDistance <= 0 {
		c.FarDistance = DefaultFarDistance
	}
	if c.MinInitialDelay <= 0 {
		c.MinInitialDelay = DefaultMinInitialDelay
	}
	if c.MaxInitialDelay < c.MinInitialDelay {
		c.MaxInitialDelay = c.MinInitialDelay + (DefaultMaxInitialDelay - DefaultMinInitialDelay)
	}
	if c.Headroom < 1 {
		c.Headroom = DefaultHeadroom
	}
}

// Target is anything the sweep keeps up to date.
type Target interface {
	Name() string
	// Alive reports whether the target still exists. Dead targets are
	// dropped without being touched.
	Alive() bool
	Position() core.Vec3
	UpdateAspect(ctx context.Context)
	RefreshDisplays(ctx context.Context)
}

// Reason says what a notification asks for. Reasons for one target merge.
type Reason uint8

const (
	ReasonUpdate Reason = 1 << iota
	ReasonDisplays
)

// MetricsRecorder receives sweep statistics. *observability.SweepCollector
// implements it.
type MetricsRecorder interface {
	ObserveFrame(d time.Duration)
	SetTracked(count int)
	IncDeadSkipped()
	IncNotification(reason string)
}

type entry struct {
	t       Target
	nextDue time.Time
	removed bool
}

// Scheduler is the frame-driven sweep. OnFrame must be called from a single
// goroutine; Register, Unregister and Notify may be called from anywhere,
// including from inside target callbacks.
type Scheduler struct {
	cfg     Config
	clock   timectrl.SimClock
	log     logging.Logger
	metrics MetricsRecorder

	mu        sync.Mutex
	rng       *rand.Rand
	entries   []*entry
	byTarget  map[Target]*entry
	cursor    int
	tokens    float64
	viewpoint func() (core.Vec3, bool)

	pending      map[Target]Reason
	pendingOrder []Target
}

// New creates an empty sweep.
func New(cfg Config, clock timectrl.SimClock, log logging.Logger) *Scheduler {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	return &Scheduler{
		cfg:      cfg,
		clock:    clock,
		log:      log,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		byTarget: make(map[Target]*entry),
		pending:  make(map[Target]Reason),
	}
}

// SetMetrics attaches a recorder.
func (s *Scheduler) SetMetrics(m MetricsRecorder) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Seed makes the initial stagger reproducible.
func (s *Scheduler) Seed(seed uint64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewPCG(seed, 0x5eed))
	s.mu.Unlock()
}

// SetViewpoint installs the position distances are measured from. Without
// one every target uses the near cadence.
func (s *Scheduler) SetViewpoint(fn func() (core.Vec3, bool)) {
	s.mu.Lock()
	s.viewpoint = fn
	s.mu.Unlock()
}

// Register adds t with a randomised first update. Registering twice is a
// no-op.
func (s *Scheduler) Register(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTarget[t]; ok {
		return
	}
	delay := s.cfg.MinInitialDelay
	if span := s.cfg.MaxInitialDelay - s.cfg.MinInitialDelay; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span)))
	}
	e := &entry{t: t, nextDue: s.clock.Now().Add(delay)}
	s.entries = append(s.entries, e)
	s.byTarget[t] = e
	s.setTrackedLocked()
}

// Unregister removes t and any notification queued for it. It is safe to
// call while a frame is running.
func (s *Scheduler) Unregister(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byTarget[t]; ok {
		e.removed = true
		delete(s.byTarget, t)
	}
	delete(s.pending, t)
	s.setTrackedLocked()
}

// Len is the number of registered targets.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTarget)
}

// Notify queues work for t, delivered after the current or next frame's
// updates. It never calls into t synchronously.
func (s *Scheduler) Notify(t Target, r Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.pending[t]; !queued {
		s.pendingOrder = append(s.pendingOrder, t)
	}
	s.pending[t] |= r
}

// OnFrame runs the due updates for one frame and then drains notifications.
func (s *Scheduler) OnFrame(ctx context.Context, f timectrl.Frame) {
	start := time.Now()

	for _, t := range s.collectDue(f) {
		if !s.registered(t) || !t.Alive() {
			continue
		}
		t.UpdateAspect(ctx)
	}
	s.Drain(ctx)

	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()
	if m != nil {
		m.ObserveFrame(time.Since(start))
	}
}

// Drain delivers every queued notification. Notifications raised while
// draining wait for the next call.
func (s *Scheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	order, pending := s.pendingOrder, s.pending
	s.pendingOrder, s.pending = nil, make(map[Target]Reason)
	m := s.metrics
	s.mu.Unlock()

	for _, t := range order {
		r, ok := pending[t]
		if !ok || !t.Alive() {
			continue
		}
		if r&ReasonUpdate != 0 {
			t.UpdateAspect(ctx)
			if m != nil {
				m.IncNotification("update")
			}
		}
		if r&ReasonDisplays != 0 {
			t.RefreshDisplays(ctx)
			if m != nil {
				m.IncNotification("displays")
			}
		}
	}
}

// collectDue picks the targets to update this frame, consuming budget and
// rescheduling them. Dead targets are dropped here.
func (s *Scheduler) collectDue(f timectrl.Frame) []Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compactLocked()
	n := len(s.entries)
	if n == 0 {
		return nil
	}

	perFrame := s.cfg.Headroom * float64(n) * f.Delta.Seconds() / s.cfg.Period.Seconds()
	s.tokens = min(s.tokens+perFrame, max(1, 2*perFrame))

	var due []Target
	for checked := 0; checked < n && s.tokens >= 1; checked++ {
		e := s.entries[s.cursor%n]
		s.cursor = (s.cursor + 1) % n
		if e.removed {
			continue
		}
		if !e.t.Alive() {
			e.removed = true
			delete(s.byTarget, e.t)
			delete(s.pending, e.t)
			if s.metrics != nil {
				s.metrics.IncDeadSkipped()
			}
			s.log.Debug(context.Background(), "dropping dead signal from sweep", logging.String("signal", e.t.Name()))
			continue
		}
		if f.Time.Before(e.nextDue) {
			continue
		}
		s.tokens--
		e.nextDue = f.Time.Add(s.periodForLocked(e.t))
		due = append(due, e.t)
	}
	return due
}

func (s *Scheduler) periodForLocked(t Target) time.Duration {
	if s.viewpoint == nil {
		return s.cfg.Period
	}
	vp, ok := s.viewpoint()
	if !ok {
		return s.cfg.Period
	}
	if t.Position().DistanceSqr(vp) > s.cfg.FarDistance*s.cfg.FarDistance {
		return s.cfg.FarPeriod
	}
	return s.cfg.Period
}

func (s *Scheduler) compactLocked() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	if len(s.entries) > 0 {
		s.cursor %= len(s.entries)
	} else {
		s.cursor = 0
	}
	s.setTrackedLocked()
}

func (s *Scheduler) registered(t Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byTarget[t]
	return ok
}

func (s *Scheduler) setTrackedLocked() {
	if s.metrics != nil {
		s.metrics.SetTracked(len(s.byTarget))
	}
}
