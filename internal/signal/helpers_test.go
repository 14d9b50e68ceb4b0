package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/sched"
	"github.com/signalsfoundry/rail-signals/internal/sweep"
)

// recordingEffects keeps the last state of every light and counts calls.
type recordingEffects struct {
	mu         sync.Mutex
	lights     map[string]LightState
	animator   map[string]bool
	animations []string
	clips      []string
	texts      map[string][]string
}

func newRecordingEffects() *recordingEffects {
	return &recordingEffects{
		lights:   make(map[string]LightState),
		animator: make(map[string]bool),
		texts:    make(map[string][]string),
	}
}

func (r *recordingEffects) SetLight(signal, light string, state LightState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lights[signal+"/"+light] = state
}

func (r *recordingEffects) PlayAnimation(signal, animation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.animations = append(r.animations, signal+"/"+animation)
}

func (r *recordingEffects) SetAnimatorEnabled(signal string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.animator[signal] = enabled
}

func (r *recordingEffects) PlayClip(signal, clip string, _ core.Vec3) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = append(r.clips, clip)
}

func (r *recordingEffects) ShowText(signal string, display int, text string, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !visible {
		text = "<hidden>"
	}
	r.texts[signal] = append(r.texts[signal], text)
}

func (r *recordingEffects) light(signal, light string) LightState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lights[signal+"/"+light]
}

func (r *recordingEffects) animatorOn(signal string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.animator[signal]
}

type lookupKey struct {
	j   *core.Junction
	dir core.Direction
}

// lookup is a minimal core.SignalLookup over controllers.
type lookup map[lookupKey]*Controller

func (l lookup) SignalAt(j *core.Junction, facing core.Direction) core.Signal {
	if c, ok := l[lookupKey{j, facing}]; ok && c.Alive() {
		return c
	}
	return nil
}

type testRig struct {
	net     *core.RailNetwork
	j       *core.Junction
	occ     *core.StaticOccupancy
	effects *recordingEffects
	sched   *sched.FakeEventScheduler
	sweep   *sweep.Scheduler
	lookup  lookup
	env     *Env
}

// newRig builds
//
//	A ==> J ==> B0 ==> C
//	        \=> B1
//
// with 100 unit segments and an environment wired to fakes.
func newRig(t *testing.T) *testRig {
	t.Helper()
	n := core.NewRailNetwork()
	add := func(id string, a, b core.Vec3) {
		if err := n.AddSegment(core.NewTrackSegment(id, id, core.StraightCurve(a, b), 0)); err != nil {
			t.Fatalf("AddSegment(%q): %v", id, err)
		}
	}
	add("A", core.Vec3{X: -100}, core.Vec3{})
	add("B0", core.Vec3{}, core.Vec3{X: 100})
	add("B1", core.Vec3{}, core.Vec3{X: 80, Z: 60})
	add("C", core.Vec3{X: 100}, core.Vec3{X: 200})
	if err := n.Connect("B0", core.Out, "C", core.In); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	j, err := n.AddJunction(core.JunctionSpec{ID: "J", In: "A", InEnd: core.Out, Out: []string{"B0", "B1"}})
	if err != nil {
		t.Fatalf("AddJunction: %v", err)
	}

	fs := sched.NewFakeEventScheduler(time.Unix(0, 0))
	sw := sweep.New(sweep.DefaultConfig(), fs.Clock, nil)
	occ := core.NewStaticOccupancy()
	r := &testRig{
		net:     n,
		j:       j,
		occ:     occ,
		effects: newRecordingEffects(),
		sched:   fs,
		sweep:   sw,
		lookup:  lookup{},
	}
	r.env = &Env{
		Lookup:    r.lookup,
		Occupancy: core.NewOccupancy(occ),
		Effects:   r.effects,
		Scheduler: fs,
		Notifier:  sw,
		Seed:      7,
	}
	return r
}

func (r *testRig) junctionSignal(def *Definition, facing core.Direction) *Controller {
	c := r.env.NewJunctionSignal(def, core.KindMainline, r.j, facing, Placement{})
	r.lookup[lookupKey{r.j, facing}] = c
	return c
}

// blockDef is the classic two-aspect block signal.
func blockDef() *Definition {
	return &Definition{Aspects: []AspectDefinition{
		{ID: "closed", Rule: OccupancySpec("none"), OnLights: []string{"red"}},
		{ID: "open", Rule: AlwaysSpec(), OnLights: []string{"green"}},
	}}
}
