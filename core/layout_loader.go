package core

import (
	"encoding/json"
	"fmt"
	"io"
)

// LayoutSummary is a small summary of what was loaded from JSON.
type LayoutSummary struct {
	SegmentIDs  []string
	JunctionIDs []string
	Connections int
}

// internal JSON shapes, kept unexported so they can evolve.
type layoutJSON struct {
	Segments    []segmentJSON    `json:"segments"`
	Connections []connectionJSON `json:"connections"`
	Junctions   []junctionJSON   `json:"junctions"`
}

type segmentJSON struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Length  float64      `json:"length"` // optional; measured from the curve
	TrackID TrackID      `json:"track_id"`
	Points  []pointJSON  `json:"points"`  // straight pieces
	Anchors []anchorJSON `json:"anchors"` // explicit Bézier anchors
}

type anchorJSON struct {
	Position pointJSON  `json:"position"`
	Handle1  *pointJSON `json:"handle1"`
	Handle2  *pointJSON `json:"handle2"`
}

type pointJSON [3]float64

func (p pointJSON) vec() Vec3 { return Vec3{X: p[0], Y: p[1], Z: p[2]} }

type connectionJSON struct {
	A    string `json:"a"`
	AEnd string `json:"a_end"`
	B    string `json:"b"`
	BEnd string `json:"b_end"`
}

type junctionJSON struct {
	ID       string   `json:"id"`
	In       string   `json:"in"`
	InEnd    string   `json:"in_end"`
	Out      []string `json:"out"`
	Selected int      `json:"selected"`
}

// LoadLayout reads a JSON layout from r into net and returns a summary.
// Loading stops at the first invalid entry.
func LoadLayout(net *RailNetwork, r io.Reader) (*LayoutSummary, error) {
	if net == nil {
		return nil, fmt.Errorf("LoadLayout: network is nil")
	}

	var payload layoutJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadLayout: decode failed: %w", err)
	}

	result := &LayoutSummary{
		SegmentIDs:  make([]string, 0, len(payload.Segments)),
		JunctionIDs: make([]string, 0, len(payload.Junctions)),
	}

	// 1) Segments
	for _, js := range payload.Segments {
		curve, err := js.curve()
		if err != nil {
			return nil, fmt.Errorf("LoadLayout: segment %q: %w", js.ID, err)
		}
		name := js.Name
		if name == "" {
			name = js.ID
		}
		seg := NewTrackSegment(js.ID, name, curve, js.Length)
		seg.TrackID = js.TrackID
		if err := net.AddSegment(seg); err != nil {
			return nil, fmt.Errorf("LoadLayout: %w", err)
		}
		result.SegmentIDs = append(result.SegmentIDs, js.ID)
	}

	// 2) Direct connections
	for _, jc := range payload.Connections {
		aEnd, err := ParseDirection(jc.AEnd)
		if err != nil {
			return nil, fmt.Errorf("LoadLayout: connection %s-%s: %w", jc.A, jc.B, err)
		}
		bEnd, err := ParseDirection(jc.BEnd)
		if err != nil {
			return nil, fmt.Errorf("LoadLayout: connection %s-%s: %w", jc.A, jc.B, err)
		}
		if err := net.Connect(jc.A, aEnd, jc.B, bEnd); err != nil {
			return nil, fmt.Errorf("LoadLayout: %w", err)
		}
		result.Connections++
	}

	// 3) Junctions
	for _, jj := range payload.Junctions {
		inEnd, err := ParseDirection(jj.InEnd)
		if err != nil {
			return nil, fmt.Errorf("LoadLayout: junction %q: %w", jj.ID, err)
		}
		if _, err := net.AddJunction(JunctionSpec{
			ID:       jj.ID,
			In:       jj.In,
			InEnd:    inEnd,
			Out:      jj.Out,
			Selected: jj.Selected,
		}); err != nil {
			return nil, fmt.Errorf("LoadLayout: %w", err)
		}
		result.JunctionIDs = append(result.JunctionIDs, jj.ID)
	}

	return result, nil
}

func (js segmentJSON) curve() (Curve, error) {
	switch {
	case len(js.Anchors) > 0 && len(js.Points) > 0:
		return Curve{}, fmt.Errorf("%w: both points and anchors given", ErrBadInput)
	case len(js.Anchors) > 0:
		if len(js.Anchors) < 2 {
			return Curve{}, fmt.Errorf("%w: need at least two anchors", ErrBadInput)
		}
		pts := make([]Vec3, len(js.Anchors))
		for i, ja := range js.Anchors {
			pts[i] = ja.Position.vec()
		}
		// Missing handles fall back to straight pieces.
		c := PolylineCurve(pts...)
		for i, ja := range js.Anchors {
			if ja.Handle1 != nil {
				c.Anchors[i].Handle1 = ja.Handle1.vec()
			}
			if ja.Handle2 != nil {
				c.Anchors[i].Handle2 = ja.Handle2.vec()
			}
		}
		return c, nil
	default:
		if len(js.Points) < 2 {
			return Curve{}, fmt.Errorf("%w: need at least two points", ErrBadInput)
		}
		pts := make([]Vec3, len(js.Points))
		for i, p := range js.Points {
			pts[i] = p.vec()
		}
		return PolylineCurve(pts...), nil
	}
}
