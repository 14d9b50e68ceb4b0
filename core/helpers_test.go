package core

import (
	"testing"

	"github.com/samber/lo"
)

func mustSegment(t *testing.T, n *RailNetwork, id string, pts ...Vec3) *TrackSegment {
	t.Helper()
	s := NewTrackSegment(id, id, PolylineCurve(pts...), 0)
	if err := n.AddSegment(s); err != nil {
		t.Fatalf("AddSegment(%q): %v", id, err)
	}
	return s
}

func mustConnect(t *testing.T, n *RailNetwork, a string, aEnd Direction, b string, bEnd Direction) {
	t.Helper()
	if err := n.Connect(a, aEnd, b, bEnd); err != nil {
		t.Fatalf("Connect(%s, %s): %v", a, b, err)
	}
}

func mustJunction(t *testing.T, n *RailNetwork, spec JunctionSpec) *Junction {
	t.Helper()
	j, err := n.AddJunction(spec)
	if err != nil {
		t.Fatalf("AddJunction(%q): %v", spec.ID, err)
	}
	return j
}

func segmentIDs(segs []*TrackSegment) []string {
	return lo.Map(segs, func(s *TrackSegment, _ int) string { return s.ID })
}

type fakeSignal struct {
	name   string
	kind   SignalKind
	aspect string
}

func (f *fakeSignal) Name() string     { return f.name }
func (f *fakeSignal) Kind() SignalKind { return f.kind }
func (f *fakeSignal) CurrentAspectID() (string, bool) {
	return f.aspect, f.aspect != ""
}

type signalKey struct {
	j   *Junction
	dir Direction
}

type fakeLookup map[signalKey]*fakeSignal

func (l fakeLookup) SignalAt(j *Junction, facing Direction) Signal {
	if s, ok := l[signalKey{j, facing}]; ok {
		return s
	}
	return nil
}

// newYLayout builds
//
//	A ==> J ==> B0 ==> C
//	        \=> B1
//
// with every segment 100 units long.
func newYLayout(t *testing.T) (*RailNetwork, *Junction) {
	t.Helper()
	n := NewRailNetwork()
	mustSegment(t, n, "A", Vec3{-100, 0, 0}, Vec3{0, 0, 0})
	mustSegment(t, n, "B0", Vec3{0, 0, 0}, Vec3{100, 0, 0})
	mustSegment(t, n, "B1", Vec3{0, 0, 0}, Vec3{80, 0, 60})
	mustSegment(t, n, "C", Vec3{100, 0, 0}, Vec3{200, 0, 0})
	mustConnect(t, n, "B0", Out, "C", In)
	j := mustJunction(t, n, JunctionSpec{ID: "J", In: "A", InEnd: Out, Out: []string{"B0", "B1"}})
	return n, j
}
