package core

// MaxDepth bounds the number of segments a single walk may visit.
const MaxDepth = 64

// SignalKind classifies a signal for the walker and the topology builder.
type SignalKind int

const (
	KindNone SignalKind = iota
	KindMainline
	KindIntoYard
	KindShunting
	KindDistant
)

// IsStopping reports whether a walk ends at signals of this kind.
func (k SignalKind) IsStopping() bool {
	return k == KindMainline || k == KindIntoYard
}

func (k SignalKind) String() string {
	switch k {
	case KindMainline:
		return "mainline"
	case KindIntoYard:
		return "into_yard"
	case KindShunting:
		return "shunting"
	case KindDistant:
		return "distant"
	default:
		return "none"
	}
}

// Signal is the walker's view of a signal standing at a junction.
type Signal interface {
	Name() string
	Kind() SignalKind
	// CurrentAspectID returns the published aspect, false when off.
	CurrentAspectID() (string, bool)
}

// SignalLookup finds the signal at junction j facing the given direction.
// Out-facing signals govern travel from the in-branch into the out-branches.
// Implementations return a nil interface when there is none.
type SignalLookup interface {
	SignalAt(j *Junction, facing Direction) Signal
}

// TrackInfo is the result of a walk.
type TrackInfo struct {
	// Segments are the visited segments in order, starting with the start.
	Segments []*TrackSegment
	// Next is the first stopping signal found, NextJunction the junction it
	// stands at.
	Next         Signal
	NextJunction *Junction
	// FirstJunction is the first junction reached, whether or not a signal
	// stopped the walk there.
	FirstJunction *Junction
	// Shunting is the first shunting signal the walk passed, nil if none.
	Shunting Signal
	// LastSegment and LastDirection let a caller resume the walk.
	LastSegment   *TrackSegment
	LastDirection Direction
	// Truncated is set when the walk stopped at MaxDepth.
	Truncated bool
}

// ShuntingPassed reports whether the walk passed a shunting signal.
func (t TrackInfo) ShuntingPassed() bool {
	return t.Shunting != nil
}

// Distance is the summed length of every visited segment.
func (t TrackInfo) Distance() float64 {
	total := 0.0
	for _, s := range t.Segments {
		total += s.Length
	}
	return total
}

// DistanceWithoutStart is Distance minus the starting segment.
func (t TrackInfo) DistanceWithoutStart() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Distance() - t.Segments[0].Length
}

// firstTrack returns the first non-generic track ID for which part is not
// empty, or "".
func (t TrackInfo) firstTrack(part func(TrackID) string) string {
	for _, s := range t.Segments {
		if s.TrackID.IsGeneric() {
			continue
		}
		if text := part(s.TrackID); text != "" {
			return text
		}
	}
	return ""
}

// NextTrackNumber is the number of the first numbered track on the walk.
func (t TrackInfo) NextTrackNumber() string {
	return t.firstTrack(func(id TrackID) string { return id.Number })
}

// NextTrackSign is the number and type of the first numbered track.
func (t TrackInfo) NextTrackSign() string {
	return t.firstTrack(TrackID.NumberSign)
}

// NextTrackFullSign includes the sub-yard.
func (t TrackInfo) NextTrackFullSign() string {
	return t.firstTrack(TrackID.FullSign)
}

// NextStation is the yard of the first numbered track on the walk.
func (t TrackInfo) NextStation() string {
	return t.firstTrack(func(id TrackID) string { return id.Yard })
}

// Walk follows the track from start in direction dir until it reaches a
// stopping signal, a dead end, a segment it already visited or MaxDepth.
// A nil lookup walks past every junction.
func Walk(start *TrackSegment, dir Direction, lookup SignalLookup) TrackInfo {
	var info TrackInfo
	visited := make(map[*TrackSegment]bool)

	for seg := start; seg != nil && !visited[seg]; {
		if len(info.Segments) >= MaxDepth {
			info.Truncated = true
			break
		}
		visited[seg] = true
		info.Segments = append(info.Segments, seg)
		info.LastSegment, info.LastDirection = seg, dir

		var next *TrackSegment
		if j := seg.Junction(dir); j != nil {
			if info.FirstJunction == nil {
				info.FirstJunction = j
			}
			fromIn := j.In() == seg
			if lookup != nil {
				facing := In
				if fromIn {
					facing = Out
				}
				if sig := lookup.SignalAt(j, facing); sig != nil {
					switch k := sig.Kind(); {
					case k.IsStopping():
						info.Next, info.NextJunction = sig, j
						return info
					case k == KindShunting:
						if info.Shunting == nil {
							info.Shunting = sig
						}
					}
				}
			}
			if fromIn {
				next = j.SelectedBranch()
			} else {
				next = j.In()
			}
		} else {
			next = seg.Next(dir)
		}

		if next == nil {
			break
		}
		if entersBackwards(seg, next, dir) {
			dir = dir.Flip()
		}
		seg = next
	}
	return info
}

// WalkFromJunction walks away from j on the side the signal facing the
// given direction protects: the selected branch for Out, the in-branch
// for In.
func WalkFromJunction(j *Junction, facing Direction, lookup SignalLookup) TrackInfo {
	start := j.In()
	if facing == Out {
		start = j.SelectedBranch()
	}
	if start == nil {
		return TrackInfo{}
	}
	dir := In
	if start.Junction(In) == j {
		dir = Out
	}
	return Walk(start, dir, lookup)
}

// entersBackwards reports whether moving from "from" onto next in direction
// dir reaches next through the end that dir points at, in which case travel
// on next runs the other way.
func entersBackwards(from, next *TrackSegment, dir Direction) bool {
	if next.Next(dir) == from {
		return true
	}
	if j := next.Junction(dir); j != nil {
		return j.In() == from || j.BranchIndex(from) >= 0
	}
	return false
}
