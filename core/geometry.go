package core

import (
	"math"

	"github.com/paulmach/orb"
)

// Up is the world vertical axis. Layouts are Y-up; the ground plane is XZ.
var Up = Vec3{Y: 1}

// Vec3 is a world-space position or direction in layout units.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return math.Sqrt(v.DistanceSqr(other))
}

// DistanceSqr returns the squared distance between two points.
func (v Vec3) DistanceSqr(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalized returns v scaled to unit length, or the zero vector.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Lerp interpolates linearly between v and other.
func (v Vec3) Lerp(other Vec3, t float64) Vec3 {
	return v.Add(other.Sub(v).Scale(t))
}

// Bounds is an axis-aligned box. The XZ footprint is held as an orb.Bound
// so the planar overlap and union logic is shared with orb; the vertical
// extent is tracked separately.
type Bounds struct {
	Footprint  orb.Bound
	MinY, MaxY float64
}

// BoundsOf returns the smallest box containing every point.
func BoundsOf(points ...Vec3) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	first := points[0]
	b := Bounds{
		Footprint: orb.Point{first.X, first.Z}.Bound(),
		MinY:      first.Y,
		MaxY:      first.Y,
	}
	for _, p := range points[1:] {
		b = b.Encapsulate(p)
	}
	return b
}

// Encapsulate grows the box to contain p.
func (b Bounds) Encapsulate(p Vec3) Bounds {
	b.Footprint = b.Footprint.Extend(orb.Point{p.X, p.Z})
	b.MinY = math.Min(b.MinY, p.Y)
	b.MaxY = math.Max(b.MaxY, p.Y)
	return b
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		Footprint: b.Footprint.Union(other.Footprint),
		MinY:      math.Min(b.MinY, other.MinY),
		MaxY:      math.Max(b.MaxY, other.MaxY),
	}
}

// Intersects reports whether the boxes overlap. Touching faces count.
func (b Bounds) Intersects(other Bounds) bool {
	if !b.Footprint.Intersects(other.Footprint) {
		return false
	}
	return b.MaxY >= other.MinY && b.MinY <= other.MaxY
}

// Center returns the centre of the box.
func (b Bounds) Center() Vec3 {
	c := b.Footprint.Center()
	return Vec3{X: c[0], Y: (b.MinY + b.MaxY) / 2, Z: c[1]}
}

// Area2D is the area of the XZ footprint.
func (b Bounds) Area2D() float64 {
	return (b.Footprint.Right() - b.Footprint.Left()) * (b.Footprint.Top() - b.Footprint.Bottom())
}
