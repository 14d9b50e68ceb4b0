// Package signal implements signal controllers: the aspect state machine,
// the rules that drive it and the effects, displays and indicators attached
// to each signal.
package signal

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
	"github.com/signalsfoundry/rail-signals/internal/sched"
	"github.com/signalsfoundry/rail-signals/internal/sweep"
)

// Off is the aspect index of a signal showing nothing.
const Off = -1

// animatorMargin is added to an animation's length before the animator is
// switched off again.
const animatorMargin = 100 * time.Millisecond

// Notifier queues deferred work for a controller. *sweep.Scheduler
// implements it.
type Notifier interface {
	Notify(t sweep.Target, r sweep.Reason)
}

// MetricsRecorder receives per-controller statistics.
// *observability.SignalCollector implements it.
type MetricsRecorder interface {
	ObserveUpdate(walkSegments int)
	IncAspectChange(kind, aspect string)
}

// Env is everything controllers share. It is built once and passed by
// pointer to every constructor.
type Env struct {
	Lookup    core.SignalLookup
	Occupancy *core.Occupancy
	Effects   Effects
	// Scheduler runs delayed effects. Without one, animators are disabled
	// immediately and light sequences do not advance.
	Scheduler sched.Scheduler
	// Notifier delivers home-to-distant updates. Without one they are
	// dropped.
	Notifier Notifier
	Rules    *RuleRegistry
	Displays *DisplayRegistry
	Metrics  MetricsRecorder
	Log      logging.Logger
	// Seed makes clip selection reproducible.
	Seed uint64

	once logging.Once
}

// ApplyDefaults fills nil fields.
func (e *Env) ApplyDefaults() {
	if e.Log == nil {
		e.Log = logging.Noop()
	}
	if e.Effects == nil {
		e.Effects = NopEffects{}
	}
	if e.Rules == nil {
		e.Rules = NewRuleRegistry(e.Log)
	}
	if e.Displays == nil {
		e.Displays = NewDisplayRegistry(e.Log)
	}
}

// Placement is where a signal stands and the direction it faces.
type Placement struct {
	Position core.Vec3
	Forward  core.Vec3
}

type aspect struct {
	def       *AspectDefinition
	rule      Rule
	sequences []*sequence
}

// Controller is one signal. Its aspect state is only mutated by its own
// update and ChangeAspect calls, which must come from the simulation
// goroutine. Other controllers read it through CurrentAspectID.
type Controller struct {
	env   *Env
	def   *Definition
	name  string
	kind  core.SignalKind
	rng   *rand.Rand
	alive atomic.Bool

	junction *core.Junction
	facing   core.Direction

	home     *Controller
	distance float64

	aspects    []*aspect
	displays   []*displayState
	indicators []*indicator

	current  int
	aspectID atomic.Pointer[string]
	lastInfo core.TrackInfo
	updates  atomic.Uint64
	animOff  string

	mu            sync.Mutex
	placement     Placement
	nextObserver  int
	aspectObs     map[int]func(*Controller, *AspectDefinition)
	displayObs    map[int]func(*Controller)
	subscriptions []func()
}

// NewJunctionSignal creates the signal at j facing the given direction.
// Out-facing signals govern the junction's branches.
func (e *Env) NewJunctionSignal(def *Definition, kind core.SignalKind, j *core.Junction, facing core.Direction, at Placement) *Controller {
	name := j.ID + "-F"
	if facing.IsOut() {
		name = j.ID + "-T"
	}
	c := e.newController(name, def, kind, at)
	c.junction, c.facing = j, facing
	c.subscriptions = append(c.subscriptions, j.OnSwitched(func(*core.Junction, int) {
		c.notify(sweep.ReasonUpdate)
	}))
	return c
}

// NewDistantSignal creates a distant signal previewing home. It is placed
// distance units before the home signal and named "<home>-D<n>".
func (e *Env) NewDistantSignal(def *Definition, home *Controller, n int, distance float64, at Placement) *Controller {
	c := e.newController(home.Name()+"-D"+strconv.Itoa(n), def, core.KindDistant, at)
	c.home, c.distance = home, distance
	c.subscriptions = append(c.subscriptions,
		home.OnAspectChanged(func(*Controller, *AspectDefinition) { c.notify(sweep.ReasonUpdate) }),
		home.OnDisplaysUpdated(func(*Controller) { c.notify(sweep.ReasonDisplays) }),
	)
	return c
}

func (e *Env) newController(name string, def *Definition, kind core.SignalKind, at Placement) *Controller {
	e.ApplyDefaults()
	if def == nil {
		def = &Definition{}
	}
	h := fnv.New64a()
	h.Write([]byte(name))

	c := &Controller{
		env:        e,
		def:        def,
		name:       name,
		kind:       kind,
		rng:        rand.New(rand.NewPCG(e.Seed, h.Sum64())),
		current:    Off,
		placement:  at,
		aspectObs:  make(map[int]func(*Controller, *AspectDefinition)),
		displayObs: make(map[int]func(*Controller)),
	}
	c.alive.Store(true)

	ctx := logging.ContextWithLogger(context.Background(), e.Log)
	for i := range def.Aspects {
		a := &def.Aspects[i]
		rule, _ := e.Rules.Build(ctx, a.Rule.Type, a.Rule.Raw)
		seqs := make([]*sequence, len(a.Sequences))
		for k := range a.Sequences {
			seqs[k] = &sequence{def: a.Sequences[k]}
		}
		c.aspects = append(c.aspects, &aspect{def: a, rule: rule, sequences: seqs})
	}
	for _, d := range def.Displays {
		impl, ok := e.Displays.Build(ctx, d.Type, d.Raw)
		if !ok {
			continue
		}
		c.displays = append(c.displays, &displayState{def: d, impl: impl})
	}
	for _, in := range def.Indicators {
		rule, _ := e.Rules.Build(ctx, in.Rule.Type, in.Rule.Raw)
		c.indicators = append(c.indicators, &indicator{def: in, rule: rule})
	}
	if def.Animator {
		e.Effects.SetAnimatorEnabled(name, false)
	}
	return c
}

//
// ---------- Identity ----------
//

func (c *Controller) Name() string                 { return c.name }
func (c *Controller) Kind() core.SignalKind        { return c.kind }
func (c *Controller) Definition() *Definition      { return c.def }
func (c *Controller) Junction() *core.Junction     { return c.junction }
func (c *Controller) Facing() core.Direction       { return c.facing }
func (c *Controller) Home() *Controller            { return c.home }
func (c *Controller) DistanceFromHome() float64    { return c.distance }
func (c *Controller) Alive() bool                  { return c.alive.Load() }
func (c *Controller) IsOn() bool                   { return c.current != Off }
func (c *Controller) CurrentAspectIndex() int      { return c.current }
func (c *Controller) LastInfo() core.TrackInfo     { return c.lastInfo }
func (c *Controller) Updates() uint64              { return c.updates.Load() }
func (c *Controller) SetKind(kind core.SignalKind) { c.kind = kind }

// CurrentAspect returns the active aspect, nil when off.
func (c *Controller) CurrentAspect() *AspectDefinition {
	if c.current == Off {
		return nil
	}
	return c.aspects[c.current].def
}

// CurrentAspectID is the published aspect ID, safe to read from any
// goroutine.
func (c *Controller) CurrentAspectID() (string, bool) {
	if p := c.aspectID.Load(); p != nil {
		return *p, true
	}
	return "", false
}

func (c *Controller) Placement() Placement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placement
}

func (c *Controller) Position() core.Vec3 { return c.Placement().Position }

// MoveBy shifts the signal's position.
func (c *Controller) MoveBy(delta core.Vec3) {
	c.mu.Lock()
	c.placement.Position = c.placement.Position.Add(delta)
	c.mu.Unlock()
}

func (c *Controller) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.kind)
}

//
// ---------- Observers ----------
//

// OnAspectChanged registers fn to run after every aspect change. The
// aspect is nil when the signal turned off.
func (c *Controller) OnAspectChanged(fn func(*Controller, *AspectDefinition)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.aspectObs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.aspectObs, id)
		c.mu.Unlock()
	}
}

// OnDisplaysUpdated registers fn to run when any display's text changed.
func (c *Controller) OnDisplaysUpdated(fn func(*Controller)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.displayObs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.displayObs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) fireAspectChanged(a *AspectDefinition) {
	c.mu.Lock()
	fns := make([]func(*Controller, *AspectDefinition), 0, len(c.aspectObs))
	for _, fn := range c.aspectObs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(c, a)
	}
}

func (c *Controller) fireDisplaysUpdated() {
	c.mu.Lock()
	fns := make([]func(*Controller), 0, len(c.displayObs))
	for _, fn := range c.displayObs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (c *Controller) notify(r sweep.Reason) {
	if !c.Alive() {
		return
	}
	if c.env.Notifier == nil {
		c.env.once.Warn(context.Background(), c.env.Log, "no-notifier",
			"signal notification dropped: no notifier configured", logging.String("signal", c.name))
		return
	}
	c.env.Notifier.Notify(c, r)
}

//
// ---------- Aspect state machine ----------
//

// UpdateAspect walks the track, picks the first aspect whose rule matches
// and refreshes displays and indicators. Distant signals do not walk: the
// next signal is their home, at the home's junction.
func (c *Controller) UpdateAspect(ctx context.Context) {
	if !c.Alive() {
		return
	}
	var info core.TrackInfo
	switch {
	case c.home != nil:
		info = core.TrackInfo{Next: c.home, NextJunction: c.home.Junction()}
	case c.junction != nil:
		info = core.WalkFromJunction(c.junction, c.facing, c.env.Lookup)
	}
	c.lastInfo = info
	c.updates.Add(1)
	if c.env.Metrics != nil {
		c.env.Metrics.ObserveUpdate(len(info.Segments))
	}

	e := Evaluation{Ctx: ctx, Signal: c, Info: &info, Occupancy: c.env.Occupancy}
	next := Off
	for i, a := range c.aspects {
		if a.rule != nil && a.rule.Matches(e) {
			next = i
			break
		}
	}
	changed, _ := c.ChangeAspect(next)
	if !changed {
		c.refreshDisplays(false)
	}
	c.refreshIndicators(e)
}

// RefreshDisplays re-renders displays as if the aspect had changed.
func (c *Controller) RefreshDisplays(context.Context) {
	if c.Alive() {
		c.refreshDisplays(true)
	}
}

// ChangeAspect switches to aspect i; any negative i turns the signal off.
// It reports whether the aspect changed. An index past the last aspect is
// rejected without touching any state.
func (c *Controller) ChangeAspect(i int) (bool, error) {
	if i == c.current || (i < 0 && c.current == Off) {
		return false, nil
	}
	if i >= len(c.aspects) {
		err := fmt.Errorf("%w: signal %q has %d aspects, got %d", ErrAspectOutOfRange, c.name, len(c.aspects), i)
		c.env.Log.Error(context.Background(), "failed to set signal aspect", logging.Err(err))
		return false, err
	}
	if i < 0 {
		c.TurnOff()
		return true, nil
	}

	if c.current != Off {
		c.aspects[c.current].unapply(c)
	}
	a := c.aspects[i]
	c.env.Log.Debug(context.Background(), "setting signal aspect",
		logging.String("signal", c.name), logging.String("aspect", a.def.ID))
	c.current = i
	id := a.def.ID
	c.aspectID.Store(&id)
	a.apply(c)
	if c.env.Metrics != nil {
		c.env.Metrics.IncAspectChange(c.kind.String(), id)
	}
	c.refreshDisplays(true)
	c.fireAspectChanged(a.def)
	return true, nil
}

// TurnOff switches every light off and returns an animated head to its
// base pose.
func (c *Controller) TurnOff() {
	if c.current == Off {
		return
	}
	prev := c.aspects[c.current]
	prev.unapply(c)
	c.env.Log.Debug(context.Background(), "turning off signal", logging.String("signal", c.name))

	if c.def.Animator && c.def.BaseAnimation != "" {
		t := prev.def.transition()
		c.env.Effects.SetAnimatorEnabled(c.name, true)
		c.env.Effects.PlayAnimation(c.name, c.def.BaseAnimation, t)
		c.disableAnimator(t + animatorMargin)
	}

	c.current = Off
	c.aspectID.Store(nil)
	if c.env.Metrics != nil {
		c.env.Metrics.IncAspectChange(c.kind.String(), "off")
	}
	c.refreshDisplays(true)
	c.fireAspectChanged(nil)
}

func (a *aspect) apply(c *Controller) {
	for _, l := range a.def.OnLights {
		c.env.Effects.SetLight(c.name, l, LightOn)
	}
	for _, l := range a.def.BlinkingLights {
		c.env.Effects.SetLight(c.name, l, LightBlinking)
	}
	for _, q := range a.sequences {
		q.start(c)
	}
	if c.def.Animator && a.def.Animation != "" {
		t := a.def.transition()
		c.cancel(c.animOff)
		c.animOff = ""
		c.env.Effects.SetAnimatorEnabled(c.name, true)
		c.env.Effects.PlayAnimation(c.name, a.def.Animation, t)
		if !a.def.KeepAnimator {
			c.disableAnimator(t + animatorMargin)
		}
	}
	if n := len(a.def.Clips); n > 0 {
		c.env.Effects.PlayClip(c.name, a.def.Clips[c.rng.IntN(n)], c.Position())
	}
}

// unapply only switches lights off; the animator is left to the next
// aspect or TurnOff.
func (a *aspect) unapply(c *Controller) {
	for _, l := range a.def.OnLights {
		c.env.Effects.SetLight(c.name, l, LightOff)
	}
	for _, l := range a.def.BlinkingLights {
		c.env.Effects.SetLight(c.name, l, LightOff)
	}
	for _, q := range a.sequences {
		q.stop(c)
	}
}

// disableAnimator switches the animator off after d, replacing any pending
// switch-off.
func (c *Controller) disableAnimator(d time.Duration) {
	c.cancel(c.animOff)
	c.animOff = ""
	if c.env.Scheduler == nil {
		c.env.Effects.SetAnimatorEnabled(c.name, false)
		return
	}
	c.animOff = c.after(d, func() {
		c.animOff = ""
		if c.Alive() {
			c.env.Effects.SetAnimatorEnabled(c.name, false)
		}
	})
}

// after schedules f on the shared scheduler. It returns "" and drops f when
// there is none.
func (c *Controller) after(d time.Duration, f func()) string {
	if c.env.Scheduler == nil {
		return ""
	}
	return c.env.Scheduler.After(d, f)
}

func (c *Controller) cancel(id string) {
	if id != "" && c.env.Scheduler != nil {
		c.env.Scheduler.Cancel(id)
	}
}

func (c *Controller) refreshDisplays(aspectChanged bool) {
	changed := false
	for i, d := range c.displays {
		if d.refresh(c, aspectChanged) {
			changed = true
			c.env.Effects.ShowText(c.name, i, d.text, !d.off)
		}
	}
	if changed {
		c.fireDisplaysUpdated()
	}
}

// DisplayTexts returns the current text of every display, "" for hidden
// ones.
func (c *Controller) DisplayTexts() []string {
	out := make([]string, len(c.displays))
	for i, d := range c.displays {
		if !d.off {
			out[i] = d.text
		}
	}
	return out
}

//
// ---------- Teardown ----------
//

// Dispose marks the controller dead, detaches it from its junction and home
// and cancels pending effects. It is idempotent.
func (c *Controller) Dispose() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	c.cancel(c.animOff)
	c.animOff = ""
	if c.current != Off {
		for _, q := range c.aspects[c.current].sequences {
			q.stop(c)
		}
	}

	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	clear(c.aspectObs)
	clear(c.displayObs)
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}
