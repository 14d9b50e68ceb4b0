package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newDiamond builds two tracks X and Y that cross at the origin and a third
// track Z far away.
func newDiamond(t *testing.T) *RailNetwork {
	t.Helper()
	n := NewRailNetwork()
	mustSegment(t, n, "X", Vec3{-50, 0, 0}, Vec3{50, 0, 0})
	mustSegment(t, n, "Y", Vec3{0, 0, -50}, Vec3{0, 0, 50})
	mustSegment(t, n, "Z", Vec3{500, 0, 500}, Vec3{600, 0, 500})
	return n
}

type buildRecorder struct {
	calls    int
	segments int
	pairs    int
}

func (r *buildRecorder) ObserveIntersectionBuild(_ time.Duration, segments, pairs int) {
	r.calls++
	r.segments = segments
	r.pairs = pairs
}

func TestBuildIntersectionMap_Diamond(t *testing.T) {
	n := newDiamond(t)
	rec := &buildRecorder{}

	m, err := BuildIntersectionMap(context.Background(), n.Segments(), DefaultIntersectionConfig(), rec)
	if err != nil {
		t.Fatalf("BuildIntersectionMap: %v", err)
	}
	if m.Pairs() != 1 {
		t.Fatalf("Pairs = %d, want 1", m.Pairs())
	}
	x, y := n.Segment("X"), n.Segment("Y")
	if cs := m.Crossings(x); len(cs) != 1 || cs[0].Other != y {
		t.Fatalf("X crossings = %+v", cs)
	}
	if cs := m.Crossings(y); len(cs) != 1 || cs[0].Other != x {
		t.Fatalf("Y crossings = %+v", cs)
	}
	if p := m.Points(x)[0]; !approxVec(Vec3{p.X, 0, p.Z}, Vec3{}, 1.5) {
		t.Fatalf("crossing point %+v, want near origin", p)
	}
	if len(m.Crossings(n.Segment("Z"))) != 0 {
		t.Fatalf("Z crosses nothing")
	}
	if rec.calls != 1 || rec.segments != 3 || rec.pairs != 1 {
		t.Fatalf("recorder = %+v", rec)
	}
}

func TestBuildIntersectionMap_SkipsJoinedSegments(t *testing.T) {
	n, _ := newYLayout(t)
	// B0 and B1 start at the same point and A ends there; none of these count.
	m, err := BuildIntersectionMap(context.Background(), n.Segments(), DefaultIntersectionConfig(), nil)
	if err != nil {
		t.Fatalf("BuildIntersectionMap: %v", err)
	}
	if m.Pairs() != 0 {
		t.Fatalf("joined segments must not be recorded as crossings, got %d pairs", m.Pairs())
	}
}

func TestBuildIntersectionMap_Cancelled(t *testing.T) {
	n := newDiamond(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildIntersectionMap(ctx, n.Segments(), DefaultIntersectionConfig(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildIntersectionMapAsync(t *testing.T) {
	n := newDiamond(t)
	res, ok := <-BuildIntersectionMapAsync(context.Background(), n.Segments(), DefaultIntersectionConfig(), nil)
	if !ok {
		t.Fatalf("channel closed without a result")
	}
	if res.Err != nil || res.Map.Pairs() != 1 {
		t.Fatalf("async result = %+v", res)
	}
}

func TestOccupancy_Modes(t *testing.T) {
	n := newDiamond(t)
	src := NewStaticOccupancy()
	occ := NewOccupancy(src)
	m, err := BuildIntersectionMap(context.Background(), n.Segments(), DefaultIntersectionConfig(), nil)
	if err != nil {
		t.Fatalf("BuildIntersectionMap: %v", err)
	}
	x, y := n.Segment("X"), n.Segment("Y")

	// A train stands on Y, 30 units from the crossing.
	src.SetSegment("Y", true)
	src.SetVehicles(Vec3{0, 0, 30})

	// Before the map is published crossings are ignored.
	if occ.IsOccupied(x, OccupancyWholeTrack) {
		t.Fatalf("no map published yet")
	}
	occ.Publish(m)

	if occ.IsOccupied(x, OccupancyNone) {
		t.Fatalf("None must only look at X itself")
	}
	if occ.IsOccupied(x, OccupancyIntersectionOnly) {
		t.Fatalf("the train is clear of the crossing")
	}
	if !occ.IsOccupied(x, OccupancyWholeTrack) {
		t.Fatalf("WholeTrack must report Y's train")
	}
	if !occ.IsOccupied(y, OccupancyNone) {
		t.Fatalf("Y itself is occupied")
	}

	// The train moves onto the crossing.
	src.SetVehicles(Vec3{0, 1, 1})
	if !occ.IsOccupied(x, OccupancyIntersectionOnly) {
		t.Fatalf("a train on the crossing occupies X")
	}
}

func TestOccupancyMode_JSON(t *testing.T) {
	var m OccupancyMode
	if err := m.UnmarshalJSON([]byte(`"whole_track"`)); err != nil || m != OccupancyWholeTrack {
		t.Fatalf("got %v, %v", m, err)
	}
	if err := m.UnmarshalJSON([]byte(`"sideways"`)); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}
