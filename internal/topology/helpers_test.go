package topology

import (
	"context"
	"sync"
	"testing"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/signal"
	"github.com/signalsfoundry/rail-signals/internal/sweep"
)

// yOpts shapes the test layout
//
//	Z --> A ==> J ==> B0 --> C0
//	              \=> B1 --> C1
type yOpts struct {
	inName   string
	inLength float64
	// feed attaches Z behind A.
	feed bool
	// after names C0 and C1; an empty name leaves the branch open.
	after [2]string
	// afterLength is the length of C0 and C1.
	afterLength float64
}

func mainlineOpts() yOpts {
	return yOpts{inName: "A", inLength: 400, feed: true, afterLength: 400}
}

func mustSegment(t *testing.T, n *core.RailNetwork, id, name string, a, b core.Vec3) {
	t.Helper()
	if err := n.AddSegment(core.NewTrackSegment(id, name, core.StraightCurve(a, b), 0)); err != nil {
		t.Fatalf("AddSegment(%q): %v", id, err)
	}
}

func mustConnect(t *testing.T, n *core.RailNetwork, a string, aEnd core.Direction, b string, bEnd core.Direction) {
	t.Helper()
	if err := n.Connect(a, aEnd, b, bEnd); err != nil {
		t.Fatalf("Connect(%s, %s): %v", a, b, err)
	}
}

func yLayout(t *testing.T, o yOpts) (*core.RailNetwork, *core.Junction) {
	t.Helper()
	n := core.NewRailNetwork()
	mustSegment(t, n, "A", o.inName, core.Vec3{X: -o.inLength}, core.Vec3{})
	if o.feed {
		mustSegment(t, n, "Z", "Z", core.Vec3{X: -o.inLength - 100}, core.Vec3{X: -o.inLength})
		mustConnect(t, n, "Z", core.Out, "A", core.In)
	}
	mustSegment(t, n, "B0", "B0", core.Vec3{}, core.Vec3{X: 200})
	mustSegment(t, n, "B1", "B1", core.Vec3{}, core.Vec3{X: 150, Z: 100})

	ends := [2]core.Vec3{{X: 200}, {X: 150, Z: 100}}
	for i, name := range o.after {
		if name == "" {
			continue
		}
		id := []string{"C0", "C1"}[i]
		mustSegment(t, n, id, name, ends[i], ends[i].Add(core.Vec3{X: o.afterLength}))
		mustConnect(t, n, []string{"B0", "B1"}[i], core.Out, id, core.In)
	}

	j, err := n.AddJunction(core.JunctionSpec{ID: "J", In: "A", InEnd: core.Out, Out: []string{"B0", "B1"}})
	if err != nil {
		t.Fatalf("AddJunction: %v", err)
	}
	return n, j
}

// facingLayout builds two junctions joined by the 20 unit segment M:
//
//	P0 <==\        /==> Q0
//	       J2 - M - J1
//	P1 <==/        \==> Q1
func facingLayout(t *testing.T, yardBehindQ0 bool) *core.RailNetwork {
	t.Helper()
	n := core.NewRailNetwork()
	mustSegment(t, n, "M", "M", core.Vec3{}, core.Vec3{X: 20})
	mustSegment(t, n, "Q0", "Q0", core.Vec3{X: 20}, core.Vec3{X: 220})
	mustSegment(t, n, "Q1", "Q1", core.Vec3{X: 20}, core.Vec3{X: 170, Z: 100})
	mustSegment(t, n, "P0", "P0", core.Vec3{}, core.Vec3{X: -200})
	mustSegment(t, n, "P1", "P1", core.Vec3{}, core.Vec3{X: -150, Z: -100})
	if yardBehindQ0 {
		mustSegment(t, n, "Y", "[Y]1", core.Vec3{X: 220}, core.Vec3{X: 420})
		mustConnect(t, n, "Q0", core.Out, "Y", core.In)
	}
	if _, err := n.AddJunction(core.JunctionSpec{ID: "J1", In: "M", InEnd: core.Out, Out: []string{"Q0", "Q1"}}); err != nil {
		t.Fatalf("AddJunction(J1): %v", err)
	}
	if _, err := n.AddJunction(core.JunctionSpec{ID: "J2", In: "M", InEnd: core.In, Out: []string{"P0", "P1"}}); err != nil {
		t.Fatalf("AddJunction(J2): %v", err)
	}
	return n
}

func testDef(id string) *signal.Definition {
	return &signal.Definition{Aspects: []signal.AspectDefinition{
		{ID: id + "-closed", Rule: signal.OccupancySpec("none"), OnLights: []string{"red"}},
		{ID: id + "-open", Rule: signal.AlwaysSpec(), OnLights: []string{"green"}},
	}}
}

func fullPack() *Pack {
	return &Pack{
		ID:             "test",
		Signal:         testDef("main"),
		IntoYardSignal: testDef("yard"),
		ShuntingSignal: testDef("shunt"),
		DistantSignal:  testDef("distant"),
	}
}

func newEnv() *signal.Env {
	return &signal.Env{
		Occupancy: core.NewOccupancy(core.NewStaticOccupancy()),
		Seed:      1,
	}
}

func build(t *testing.T, n *core.RailNetwork, p *Pack) (*SignalRegistry, Summary) {
	t.Helper()
	reg := NewSignalRegistry()
	sum, err := NewBuilder(DefaultConfig(), n, p, newEnv(), reg, nil).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg, sum
}

// recordingSweeper tracks registered targets by name.
type recordingSweeper struct {
	mu      sync.Mutex
	targets map[string]bool
}

func newRecordingSweeper() *recordingSweeper {
	return &recordingSweeper{targets: make(map[string]bool)}
}

func (s *recordingSweeper) Register(t sweep.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.Name()] = true
}

func (s *recordingSweeper) Unregister(t sweep.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, t.Name())
}

func (s *recordingSweeper) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[name]
}

type recordingCounts map[string]int

func (r recordingCounts) SetSignalCount(kind string, n int) { r[kind] = n }
