package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrSegmentExists    = errors.New("segment already exists")
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrJunctionExists   = errors.New("junction already exists")
	ErrJunctionNotFound = errors.New("junction not found")
	ErrSelfConnection   = errors.New("segment cannot connect to itself")
	ErrEndInUse         = errors.New("segment end already connected")
	ErrBadInput         = errors.New("invalid network input")
)

// Direction is a travel direction along a segment. It also names the end
// of a segment that travel in that direction runs towards: Out is the end
// at the last anchor, In the end at the first.
type Direction int

const (
	Out Direction = iota
	In
)

// IsOut reports whether d is Out.
func (d Direction) IsOut() bool { return d == Out }

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Out {
		return In
	}
	return Out
}

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// ParseDirection accepts "out" or "in" (case-insensitive). Empty means Out.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "out":
		return Out, nil
	case "in":
		return In, nil
	default:
		return Out, fmt.Errorf("%w: direction %q", ErrBadInput, s)
	}
}

// TrackID is the structured identity painted on track signs. The zero value
// is a generic track.
type TrackID struct {
	Yard    string `json:"yard"`
	SubYard string `json:"sub_yard"`
	Number  string `json:"number"`
	Type    string `json:"type"`
}

// IsGeneric reports whether the track carries no yard numbering.
func (id TrackID) IsGeneric() bool {
	return id.Yard == "" && id.Number == ""
}

// NumberSign is the number and type part of the sign, e.g. "3L".
func (id TrackID) NumberSign() string { return id.Number + id.Type }

// FullSign is the sub-yard, number and type, e.g. "B3L".
func (id TrackID) FullSign() string { return id.SubYard + id.Number + id.Type }

// end is one end of a segment: a direct neighbour, a junction, or nothing.
type end struct {
	segment  *TrackSegment
	junction *Junction
}

// TrackSegment is a stretch of track between two ends.
type TrackSegment struct {
	ID      string
	Name    string
	TrackID TrackID
	Curve   Curve
	Length  float64

	ends [2]end // indexed by Direction
}

// NewTrackSegment builds a segment and measures its curve when length is
// not given.
func NewTrackSegment(id, name string, curve Curve, length float64) *TrackSegment {
	if length <= 0 {
		length = curve.ArcLength()
	}
	return &TrackSegment{ID: id, Name: name, Curve: curve, Length: length}
}

// Next returns the segment directly connected at the given end.
func (s *TrackSegment) Next(at Direction) *TrackSegment {
	return s.ends[at].segment
}

// Junction returns the junction at the given end.
func (s *TrackSegment) Junction(at Direction) *Junction {
	return s.ends[at].junction
}

// Connected reports whether anything is attached at the given end.
func (s *TrackSegment) Connected(at Direction) bool {
	e := s.ends[at]
	return e.segment != nil || e.junction != nil
}

// Neighbor returns whatever segment lies beyond the given end: the direct
// neighbour, or across a junction its in-branch or selected out-branch.
func (s *TrackSegment) Neighbor(at Direction) *TrackSegment {
	e := s.ends[at]
	if e.segment != nil {
		return e.segment
	}
	if e.junction == nil {
		return nil
	}
	if e.junction.In() == s {
		return e.junction.SelectedBranch()
	}
	return e.junction.In()
}

// EndAt returns the end of s that touches j.
func (s *TrackSegment) EndAt(j *Junction) (Direction, bool) {
	switch j {
	case nil:
		return Out, false
	case s.ends[Out].junction:
		return Out, true
	case s.ends[In].junction:
		return In, true
	}
	return Out, false
}

// IsJunctionTrack reports whether s is an out-branch of the junction at its
// in end.
func (s *TrackSegment) IsJunctionTrack() bool {
	j := s.ends[In].junction
	return j != nil && j.BranchIndex(s) >= 0
}

func (s *TrackSegment) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}

// Junction is a switch with one in-branch and two or more out-branches, of
// which exactly one is selected.
type Junction struct {
	ID string

	in       *TrackSegment
	out      []*TrackSegment
	selected atomic.Int32

	mu        sync.Mutex
	nextObsID int
	observers map[int]func(*Junction, int)
}

// In returns the in-branch segment.
func (j *Junction) In() *TrackSegment { return j.in }

// Branches returns the out-branch segments in order.
func (j *Junction) Branches() []*TrackSegment {
	out := make([]*TrackSegment, len(j.out))
	copy(out, j.out)
	return out
}

// BranchCount is the number of out-branches.
func (j *Junction) BranchCount() int { return len(j.out) }

// Branch returns out-branch i.
func (j *Junction) Branch(i int) *TrackSegment {
	if i < 0 || i >= len(j.out) {
		return nil
	}
	return j.out[i]
}

// BranchIndex returns the index of s among the out-branches or -1.
func (j *Junction) BranchIndex(s *TrackSegment) int {
	for i, b := range j.out {
		if b == s {
			return i
		}
	}
	return -1
}

// Selected returns the index of the selected out-branch.
func (j *Junction) Selected() int { return int(j.selected.Load()) }

// SelectedBranch returns the selected out-branch segment.
func (j *Junction) SelectedBranch() *TrackSegment { return j.Branch(j.Selected()) }

// Switch selects out-branch i and notifies observers when the selection
// changed.
func (j *Junction) Switch(i int) error {
	if i < 0 || i >= len(j.out) {
		return fmt.Errorf("%w: junction %q has no branch %d", ErrBadInput, j.ID, i)
	}
	if int(j.selected.Swap(int32(i))) == i {
		return nil
	}

	j.mu.Lock()
	fns := make([]func(*Junction, int), 0, len(j.observers))
	for _, fn := range j.observers {
		fns = append(fns, fn)
	}
	j.mu.Unlock()

	for _, fn := range fns {
		fn(j, i)
	}
	return nil
}

// OnSwitched registers fn to run after every selection change. The returned
// function removes the observer.
func (j *Junction) OnSwitched(fn func(*Junction, int)) (cancel func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.observers == nil {
		j.observers = make(map[int]func(*Junction, int))
	}
	id := j.nextObsID
	j.nextObsID++
	j.observers[id] = fn
	return func() {
		j.mu.Lock()
		delete(j.observers, id)
		j.mu.Unlock()
	}
}

func (j *Junction) String() string {
	if j == nil {
		return "<nil>"
	}
	return j.ID
}

// RailNetwork owns the segments and junctions of a layout. Mutation happens
// while the layout loads; afterwards the graph is read-only apart from
// junction selection.
type RailNetwork struct {
	mu sync.RWMutex

	segments      map[string]*TrackSegment
	segmentOrder  []*TrackSegment
	junctions     map[string]*Junction
	junctionOrder []*Junction
}

// NewRailNetwork creates an empty network.
func NewRailNetwork() *RailNetwork {
	return &RailNetwork{
		segments:  make(map[string]*TrackSegment),
		junctions: make(map[string]*Junction),
	}
}

//
// ---------- Segments ----------
//

// AddSegment stores a new segment.
func (n *RailNetwork) AddSegment(s *TrackSegment) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: nil or empty segment", ErrBadInput)
	}
	if s.Curve.PieceCount() == 0 {
		return fmt.Errorf("%w: segment %q needs at least two anchors", ErrBadInput, s.ID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.segments[s.ID]; exists {
		return fmt.Errorf("%w: %q", ErrSegmentExists, s.ID)
	}
	n.segments[s.ID] = s
	n.segmentOrder = append(n.segmentOrder, s)
	return nil
}

// Segment returns the segment with the given ID or nil.
func (n *RailNetwork) Segment(id string) *TrackSegment {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.segments[id]
}

// Segments returns all segments in insertion order.
func (n *RailNetwork) Segments() []*TrackSegment {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*TrackSegment, len(n.segmentOrder))
	copy(out, n.segmentOrder)
	return out
}

// Connect joins end aEnd of segment a directly to end bEnd of segment b.
func (n *RailNetwork) Connect(a string, aEnd Direction, b string, bEnd Direction) error {
	if a == b {
		return fmt.Errorf("%w: %q", ErrSelfConnection, a)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	sa, ok := n.segments[a]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSegmentNotFound, a)
	}
	sb, ok := n.segments[b]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSegmentNotFound, b)
	}
	if sa.Connected(aEnd) {
		return fmt.Errorf("%w: %q %s", ErrEndInUse, a, aEnd)
	}
	if sb.Connected(bEnd) {
		return fmt.Errorf("%w: %q %s", ErrEndInUse, b, bEnd)
	}
	sa.ends[aEnd].segment = sb
	sb.ends[bEnd].segment = sa
	return nil
}

//
// ---------- Junctions ----------
//

// JunctionSpec describes a junction to add. Out-branches attach at their In
// end; the in-branch attaches at InEnd.
type JunctionSpec struct {
	ID       string
	In       string
	InEnd    Direction
	Out      []string
	Selected int
}

// AddJunction wires a junction into the network.
func (n *RailNetwork) AddJunction(spec JunctionSpec) (*Junction, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: empty junction ID", ErrBadInput)
	}
	if len(spec.Out) < 2 {
		return nil, fmt.Errorf("%w: junction %q needs at least two out-branches", ErrBadInput, spec.ID)
	}
	if spec.Selected < 0 || spec.Selected >= len(spec.Out) {
		return nil, fmt.Errorf("%w: junction %q selects branch %d", ErrBadInput, spec.ID, spec.Selected)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.junctions[spec.ID]; exists {
		return nil, fmt.Errorf("%w: %q", ErrJunctionExists, spec.ID)
	}

	in, ok := n.segments[spec.In]
	if !ok {
		return nil, fmt.Errorf("%w: %q (in-branch of %q)", ErrSegmentNotFound, spec.In, spec.ID)
	}
	if in.Connected(spec.InEnd) {
		return nil, fmt.Errorf("%w: %q %s", ErrEndInUse, in.ID, spec.InEnd)
	}

	seen := map[string]bool{spec.In: true}
	out := make([]*TrackSegment, 0, len(spec.Out))
	for _, id := range spec.Out {
		if seen[id] {
			return nil, fmt.Errorf("%w: %q appears twice in junction %q", ErrSelfConnection, id, spec.ID)
		}
		seen[id] = true
		s, ok := n.segments[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q (branch of %q)", ErrSegmentNotFound, id, spec.ID)
		}
		if s.Connected(In) {
			return nil, fmt.Errorf("%w: %q %s", ErrEndInUse, id, In)
		}
		out = append(out, s)
	}

	j := &Junction{ID: spec.ID, in: in, out: out}
	j.selected.Store(int32(spec.Selected))
	in.ends[spec.InEnd].junction = j
	for _, s := range out {
		s.ends[In].junction = j
	}

	n.junctions[j.ID] = j
	n.junctionOrder = append(n.junctionOrder, j)
	return j, nil
}

// Junction returns the junction with the given ID or nil.
func (n *RailNetwork) Junction(id string) *Junction {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.junctions[id]
}

// Junctions returns all junctions in insertion order.
func (n *RailNetwork) Junctions() []*Junction {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Junction, len(n.junctionOrder))
	copy(out, n.junctionOrder)
	return out
}
