package core

const (
	// DefaultIntersectionPrecision is the footprint area at which a pair of
	// overlapping boxes is accepted as a crossing.
	DefaultIntersectionPrecision = 0.5
	// DefaultVerticalMargin pads every box upwards so that tracks at nearly
	// the same height still overlap.
	DefaultVerticalMargin = 0.5
	// MaxIntersectionDepth bounds the subdivision of nearly tangent curves.
	MaxIntersectionDepth = 32
)

// IntersectionConfig tunes the curve intersection search.
type IntersectionConfig struct {
	Precision      float64
	VerticalMargin float64
	MaxDepth       int
}

// DefaultIntersectionConfig returns the standard search settings.
func DefaultIntersectionConfig() IntersectionConfig {
	return IntersectionConfig{
		Precision:      DefaultIntersectionPrecision,
		VerticalMargin: DefaultVerticalMargin,
		MaxDepth:       MaxIntersectionDepth,
	}
}

// ApplyDefaults fills zero fields.
func (c *IntersectionConfig) ApplyDefaults() {
	if c.Precision <= 0 {
		c.Precision = DefaultIntersectionPrecision
	}
	if c.VerticalMargin <= 0 {
		c.VerticalMargin = DefaultVerticalMargin
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = MaxIntersectionDepth
	}
}

// intersector carries the settings of one search and counts how many
// piece pairs it had to examine.
type intersector struct {
	cfg    IntersectionConfig
	visits int
}

func newIntersector(cfg IntersectionConfig) *intersector {
	cfg.ApplyDefaults()
	return &intersector{cfg: cfg}
}

// IntersectCurves returns an approximate crossing point of a and b.
func IntersectCurves(a, b Curve, cfg IntersectionConfig) (Vec3, bool) {
	x := newIntersector(cfg)
	return x.curves(a, b, x.curveBounds(a), x.curveBounds(b))
}

func (x *intersector) curveBounds(c Curve) Bounds {
	return c.Bounds().Encapsulate(c.Start().Add(Up.Scale(x.cfg.VerticalMargin)))
}

func (x *intersector) pieceBounds(c CubicBezier) Bounds {
	return c.ControlBounds().Encapsulate(c.P0.Add(Up.Scale(x.cfg.VerticalMargin)))
}

// curves tests every piece pair once the whole-curve boxes overlap. The
// boxes are passed in so callers can compute them once per curve.
func (x *intersector) curves(a, b Curve, ab, bb Bounds) (Vec3, bool) {
	if !ab.Intersects(bb) {
		return Vec3{}, false
	}
	for i := 0; i < a.PieceCount(); i++ {
		pa := a.Piece(i)
		for j := 0; j < b.PieceCount(); j++ {
			if p, ok := x.cubic(pa, b.Piece(j), 0); ok {
				return p, true
			}
		}
	}
	return Vec3{}, false
}

func (x *intersector) cubic(a, b CubicBezier, depth int) (Vec3, bool) {
	x.visits++
	ab, bb := x.pieceBounds(a), x.pieceBounds(b)
	if !ab.Intersects(bb) {
		return Vec3{}, false
	}
	merged := ab.Union(bb)
	if merged.Area2D() <= x.cfg.Precision || depth >= x.cfg.MaxDepth {
		return merged.Center(), true
	}

	a1, a2 := a.Split()
	b1, b2 := b.Split()
	for _, pair := range [4][2]CubicBezier{{a1, b1}, {a1, b2}, {a2, b1}, {a2, b2}} {
		if p, ok := x.cubic(pair[0], pair[1], depth+1); ok {
			return p, true
		}
	}
	return Vec3{}, false
}
