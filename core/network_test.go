package core

import (
	"errors"
	"testing"
)

func TestRailNetwork_AddSegmentValidation(t *testing.T) {
	n := NewRailNetwork()
	mustSegment(t, n, "s1", Vec3{0, 0, 0}, Vec3{10, 0, 0})

	if err := n.AddSegment(NewTrackSegment("s1", "dup", StraightCurve(Vec3{}, Vec3{X: 1}), 0)); !errors.Is(err, ErrSegmentExists) {
		t.Fatalf("expected ErrSegmentExists, got %v", err)
	}
	if err := n.AddSegment(nil); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput for nil, got %v", err)
	}
	if err := n.AddSegment(&TrackSegment{ID: "bare"}); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput for a segment without curve, got %v", err)
	}
}

func TestRailNetwork_ConnectErrors(t *testing.T) {
	n := NewRailNetwork()
	mustSegment(t, n, "a", Vec3{0, 0, 0}, Vec3{10, 0, 0})
	mustSegment(t, n, "b", Vec3{10, 0, 0}, Vec3{20, 0, 0})
	mustSegment(t, n, "c", Vec3{10, 0, 0}, Vec3{20, 0, 5})

	if err := n.Connect("a", Out, "a", In); !errors.Is(err, ErrSelfConnection) {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
	if err := n.Connect("a", Out, "missing", In); !errors.Is(err, ErrSegmentNotFound) {
		t.Fatalf("expected ErrSegmentNotFound, got %v", err)
	}
	mustConnect(t, n, "a", Out, "b", In)
	if err := n.Connect("a", Out, "c", In); !errors.Is(err, ErrEndInUse) {
		t.Fatalf("expected ErrEndInUse, got %v", err)
	}
	if n.Segment("a").Next(Out) != n.Segment("b") || n.Segment("b").Next(In) != n.Segment("a") {
		t.Fatalf("connection must be symmetric")
	}
}

func TestRailNetwork_AddJunction(t *testing.T) {
	n, j := newYLayout(t)

	if j.In() != n.Segment("A") || j.BranchCount() != 2 {
		t.Fatalf("unexpected junction wiring")
	}
	if !n.Segment("B1").IsJunctionTrack() || n.Segment("A").IsJunctionTrack() {
		t.Fatalf("only out-branches are junction tracks")
	}
	if end, ok := n.Segment("A").EndAt(j); !ok || end != Out {
		t.Fatalf("A should touch J at its out end, got %v %v", end, ok)
	}
	if n.Segment("A").Neighbor(Out) != n.Segment("B0") {
		t.Fatalf("neighbor across the junction should be the selected branch")
	}

	if _, err := n.AddJunction(JunctionSpec{ID: "J", In: "C", Out: []string{"x", "y"}}); !errors.Is(err, ErrJunctionExists) {
		t.Fatalf("expected ErrJunctionExists, got %v", err)
	}
	if _, err := n.AddJunction(JunctionSpec{ID: "K", In: "C", Out: []string{"C", "B0"}}); !errors.Is(err, ErrSelfConnection) {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
	if _, err := n.AddJunction(JunctionSpec{ID: "K", In: "C", Out: []string{"B0"}}); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput for a single branch, got %v", err)
	}
}

func TestJunction_SwitchNotifiesOnChange(t *testing.T) {
	_, j := newYLayout(t)

	var calls []int
	cancel := j.OnSwitched(func(_ *Junction, branch int) { calls = append(calls, branch) })

	if err := j.Switch(0); err != nil {
		t.Fatalf("Switch(0): %v", err)
	}
	if err := j.Switch(1); err != nil {
		t.Fatalf("Switch(1): %v", err)
	}
	if err := j.Switch(5); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput for an unknown branch, got %v", err)
	}
	cancel()
	if err := j.Switch(0); err != nil {
		t.Fatalf("Switch(0): %v", err)
	}

	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("observer calls = %v, want [1]", calls)
	}
	if j.Selected() != 0 {
		t.Fatalf("Selected = %d, want 0", j.Selected())
	}
}
