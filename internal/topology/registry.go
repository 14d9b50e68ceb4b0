package topology

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/signal"
	"github.com/signalsfoundry/rail-signals/internal/sweep"
)

// Pair is the two signals at one junction. Either may be nil after a merge
// or when the pack only defines one side.
type Pair struct {
	Junction *core.Junction
	// Out faces the branches; In faces the in-branch.
	Out *signal.Controller
	In  *signal.Controller
}

// Signal returns the signal facing dir.
func (p Pair) Signal(dir core.Direction) *signal.Controller {
	if dir.IsOut() {
		return p.Out
	}
	return p.In
}

// All returns the non-nil signals of the pair.
func (p Pair) All() []*signal.Controller {
	return lo.Compact([]*signal.Controller{p.Out, p.In})
}

// Sweeper is what the registry needs from the update sweep.
type Sweeper interface {
	Register(t sweep.Target)
	Unregister(t sweep.Target)
}

// SignalRegistry maps junctions to their signals and tracks distant
// signals. It is the walker's SignalLookup.
type SignalRegistry struct {
	mu      sync.RWMutex
	pairs   map[*core.Junction]*Pair
	order   []*core.Junction
	distant []*signal.Controller
	sweeper Sweeper
}

func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{pairs: make(map[*core.Junction]*Pair)}
}

// SignalAt implements core.SignalLookup. Missing or disposed signals yield
// a nil interface.
func (r *SignalRegistry) SignalAt(j *core.Junction, facing core.Direction) core.Signal {
	c, ok := r.TryGetSignal(j, facing)
	if !ok {
		return nil
	}
	return c
}

// TryGetSignal returns the live signal at j facing dir.
func (r *SignalRegistry) TryGetSignal(j *core.Junction, dir core.Direction) (*signal.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[j]
	if !ok {
		return nil, false
	}
	c := p.Signal(dir)
	if c == nil || !c.Alive() {
		return nil, false
	}
	return c, true
}

// TryGetSignals returns a copy of the pair at j.
func (r *SignalRegistry) TryGetSignals(j *core.Junction) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[j]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// Add registers the pair for its junction.
func (r *SignalRegistry) Add(p Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pairs[p.Junction]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSignal, p.Junction)
	}
	stored := p
	r.pairs[p.Junction] = &stored
	r.order = append(r.order, p.Junction)
	r.registerLocked(p.All()...)
	return nil
}

// AddDistant registers a distant signal.
func (r *SignalRegistry) AddDistant(c *signal.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.distant = append(r.distant, c)
	r.registerLocked(c)
}

// Junctions lists the junctions with signals in registration order.
func (r *SignalRegistry) Junctions() []*core.Junction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*core.Junction(nil), r.order...)
}

// JunctionSignals returns every junction signal in registration order.
func (r *SignalRegistry) JunctionSignals() []*signal.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FlatMap(r.order, func(j *core.Junction, _ int) []*signal.Controller {
		return r.pairs[j].All()
	})
}

// Distant returns the distant signals.
func (r *SignalRegistry) Distant() []*signal.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*signal.Controller(nil), r.distant...)
}

// All returns junction signals followed by distant signals.
func (r *SignalRegistry) All() []*signal.Controller {
	return append(r.JunctionSignals(), r.Distant()...)
}

// Attach registers every signal with s and keeps s for later additions and
// removals.
func (r *SignalRegistry) Attach(s Sweeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeper = s
	for _, j := range r.order {
		r.registerLocked(r.pairs[j].All()...)
	}
	r.registerLocked(r.distant...)
}

func (r *SignalRegistry) registerLocked(cs ...*signal.Controller) {
	if r.sweeper == nil {
		return
	}
	for _, c := range cs {
		r.sweeper.Register(c)
	}
}

// Remove unregisters c from the sweep, disposes it and forgets it. Distant
// signals of a removed home are removed with it.
func (r *SignalRegistry) Remove(c *signal.Controller) error {
	r.mu.Lock()
	removed := r.removeLocked(c)
	var orphans []*signal.Controller
	if removed {
		orphans = lo.Filter(r.distant, func(d *signal.Controller, _ int) bool { return d.Home() == c })
	}
	r.mu.Unlock()

	if !removed {
		return fmt.Errorf("%w: %s", ErrSignalNotFound, c.Name())
	}
	for _, d := range orphans {
		if err := r.Remove(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *SignalRegistry) removeLocked(c *signal.Controller) bool {
	found := false
	if j := c.Junction(); j != nil && c.Home() == nil {
		if p, ok := r.pairs[j]; ok {
			switch c {
			case p.Out:
				p.Out, found = nil, true
			case p.In:
				p.In, found = nil, true
			}
		}
	}
	if !found {
		before := len(r.distant)
		r.distant = lo.Without(r.distant, c)
		found = len(r.distant) != before
	}
	if !found {
		return false
	}
	if r.sweeper != nil {
		r.sweeper.Unregister(c)
	}
	c.Dispose()
	return true
}

// Close disposes every signal and empties the registry.
func (r *SignalRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append(lo.FlatMap(r.order, func(j *core.Junction, _ int) []*signal.Controller {
		return r.pairs[j].All()
	}), r.distant...)
	for _, c := range all {
		if r.sweeper != nil {
			r.sweeper.Unregister(c)
		}
		c.Dispose()
	}
	clear(r.pairs)
	r.order, r.distant = nil, nil
}
