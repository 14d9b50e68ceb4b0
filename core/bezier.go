package core

import "math"

// arcSamplesPerPiece controls the resolution of arc-length estimates.
const arcSamplesPerPiece = 32

// CubicBezier is a single cubic piece with control points P0..P3.
type CubicBezier struct {
	P0, P1, P2, P3 Vec3
}

// Point evaluates the curve at t in [0, 1].
func (c CubicBezier) Point(t float64) Vec3 {
	u := 1 - t
	return c.P0.Scale(u * u * u).
		Add(c.P1.Scale(3 * u * u * t)).
		Add(c.P2.Scale(3 * u * t * t)).
		Add(c.P3.Scale(t * t * t))
}

// Tangent returns the (unnormalised) first derivative at t.
func (c CubicBezier) Tangent(t float64) Vec3 {
	u := 1 - t
	return c.P1.Sub(c.P0).Scale(3 * u * u).
		Add(c.P2.Sub(c.P1).Scale(6 * u * t)).
		Add(c.P3.Sub(c.P2).Scale(3 * t * t))
}

// Split divides the curve at its midpoint using De Casteljau's construction.
func (c CubicBezier) Split() (CubicBezier, CubicBezier) {
	p01 := c.P0.Lerp(c.P1, 0.5)
	p12 := c.P1.Lerp(c.P2, 0.5)
	p23 := c.P2.Lerp(c.P3, 0.5)
	p012 := p01.Lerp(p12, 0.5)
	p123 := p12.Lerp(p23, 0.5)
	mid := p012.Lerp(p123, 0.5)
	return CubicBezier{c.P0, p01, p012, mid}, CubicBezier{mid, p123, p23, c.P3}
}

// ControlBounds is the box around the four control points. The curve lies
// inside its control polygon, so this box contains the curve.
func (c CubicBezier) ControlBounds() Bounds {
	return BoundsOf(c.P0, c.P1, c.P2, c.P3)
}

// Anchor is one point of a Curve. Handles are absolute positions: Handle1
// shapes the incoming piece, Handle2 the outgoing one.
type Anchor struct {
	Position Vec3
	Handle1  Vec3
	Handle2  Vec3
}

// Curve is a piecewise cubic Bézier path through its anchors.
type Curve struct {
	Anchors []Anchor
}

// StraightCurve returns a single-piece curve from a to b.
func StraightCurve(a, b Vec3) Curve {
	return PolylineCurve(a, b)
}

// PolylineCurve returns a curve whose pieces are straight lines through points.
func PolylineCurve(points ...Vec3) Curve {
	anchors := make([]Anchor, len(points))
	for i, p := range points {
		a := Anchor{Position: p, Handle1: p, Handle2: p}
		if i > 0 {
			a.Handle1 = p.Lerp(points[i-1], 1.0/3)
		}
		if i < len(points)-1 {
			a.Handle2 = p.Lerp(points[i+1], 1.0/3)
		}
		anchors[i] = a
	}
	return Curve{Anchors: anchors}
}

// PieceCount is the number of cubic pieces in the curve.
func (c Curve) PieceCount() int {
	if len(c.Anchors) < 2 {
		return 0
	}
	return len(c.Anchors) - 1
}

// Piece returns the cubic between anchor i and anchor i+1.
func (c Curve) Piece(i int) CubicBezier {
	a, b := c.Anchors[i], c.Anchors[i+1]
	return CubicBezier{P0: a.Position, P1: a.Handle2, P2: b.Handle1, P3: b.Position}
}

// Start returns the first anchor position.
func (c Curve) Start() Vec3 {
	if len(c.Anchors) == 0 {
		return Vec3{}
	}
	return c.Anchors[0].Position
}

// End returns the last anchor position.
func (c Curve) End() Vec3 {
	if len(c.Anchors) == 0 {
		return Vec3{}
	}
	return c.Anchors[len(c.Anchors)-1].Position
}

// StartHandle is the outgoing handle direction at the first anchor.
func (c Curve) StartHandle() Vec3 {
	if len(c.Anchors) == 0 {
		return Vec3{}
	}
	return c.Anchors[0].Handle2.Sub(c.Anchors[0].Position)
}

// Bounds is the box around every control point of the curve.
func (c Curve) Bounds() Bounds {
	if len(c.Anchors) == 0 {
		return Bounds{}
	}
	b := BoundsOf(c.Anchors[0].Position)
	for _, a := range c.Anchors {
		b = b.Encapsulate(a.Position).Encapsulate(a.Handle1).Encapsulate(a.Handle2)
	}
	return b
}

// ArcLength estimates the length of the curve by sampling each piece.
func (c Curve) ArcLength() float64 {
	total := 0.0
	for i := 0; i < c.PieceCount(); i++ {
		p := c.Piece(i)
		prev := p.P0
		for s := 1; s <= arcSamplesPerPiece; s++ {
			next := p.Point(float64(s) / arcSamplesPerPiece)
			total += prev.DistanceTo(next)
			prev = next
		}
	}
	return total
}

// pointAt evaluates the whole curve at u in [0, 1], spreading u uniformly
// over the pieces.
func (c Curve) pointAt(u float64) (Vec3, Vec3) {
	n := c.PieceCount()
	if n == 0 {
		return c.Start(), Vec3{}
	}
	u = math.Max(0, math.Min(1, u))
	scaled := u * float64(n)
	i := int(scaled)
	if i >= n {
		i = n - 1
	}
	t := scaled - float64(i)
	p := c.Piece(i)
	return p.Point(t), p.Tangent(t).Normalized()
}

// PointAtLength walks distance units from the start in small parameter
// steps and returns the reached point and the unit tangent there. If the
// curve is shorter than distance the end point is returned.
func (c Curve) PointAtLength(distance, step float64) (Vec3, Vec3) {
	return c.walkLength(distance, step, false)
}

// PointAtLengthReverse is PointAtLength measured from the end. The returned
// tangent still points along the curve's own direction.
func (c Curve) PointAtLengthReverse(distance, step float64) (Vec3, Vec3) {
	return c.walkLength(distance, step, true)
}

func (c Curve) walkLength(distance, step float64, reverse bool) (Vec3, Vec3) {
	if step <= 0 {
		step = 0.02
	}
	u, du, end := 0.0, step, 1.0
	if reverse {
		u, du, end = 1.0, -step, 0.0
	}
	prev, tangent := c.pointAt(u)
	walked := 0.0
	for walked < distance && u != end {
		next := u + du
		if (du > 0 && next > end) || (du < 0 && next < end) {
			next = end
		}
		p, tan := c.pointAt(next)
		walked += prev.DistanceTo(p)
		prev, tangent, u = p, tan, next
	}
	return prev, tangent
}
