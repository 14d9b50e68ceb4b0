package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/signalsfoundry/rail-signals/core"

const (
	// CrossingProbeRadius and CrossingProbeHeight size the capsule probed at
	// every crossing point in OccupancyIntersectionOnly mode.
	CrossingProbeRadius = 2.5
	CrossingProbeHeight = 4.0

	// endpointTouchDistSqr is the squared distance under which two segment
	// endpoints count as joined even without a logical connection.
	endpointTouchDistSqr = 0.01
)

// OccupancyMode selects how crossings feed into an occupancy check.
type OccupancyMode int

const (
	// OccupancyNone checks only the segment itself.
	OccupancyNone OccupancyMode = iota
	// OccupancyIntersectionOnly also probes the space around each crossing.
	OccupancyIntersectionOnly
	// OccupancyWholeTrack also treats any occupied crossing segment as
	// occupying this one.
	OccupancyWholeTrack
)

func (m OccupancyMode) String() string {
	switch m {
	case OccupancyIntersectionOnly:
		return "intersection_only"
	case OccupancyWholeTrack:
		return "whole_track"
	default:
		return "none"
	}
}

// ParseOccupancyMode parses the names produced by String.
func ParseOccupancyMode(s string) (OccupancyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OccupancyNone, nil
	case "intersection_only", "intersection":
		return OccupancyIntersectionOnly, nil
	case "whole_track", "whole":
		return OccupancyWholeTrack, nil
	default:
		return OccupancyNone, fmt.Errorf("%w: occupancy mode %q", ErrBadInput, s)
	}
}

// UnmarshalJSON accepts the mode name.
func (m *OccupancyMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("occupancy mode: %w", err)
	}
	parsed, err := ParseOccupancyMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON writes the mode name.
func (m OccupancyMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// OccupancySource answers vehicle presence questions for the host.
type OccupancySource interface {
	HasVehicle(s *TrackSegment) bool
	// VehicleNear reports whether a vehicle is inside the upright capsule
	// of the given radius rising height units from base.
	VehicleNear(base Vec3, radius, height float64) bool
}

// Crossing records that a segment crosses Other at Point.
type Crossing struct {
	Other *TrackSegment
	Point Vec3
}

// IntersectionMap lists, per segment, where other segments cross it. It is
// immutable once built.
type IntersectionMap struct {
	crossings map[*TrackSegment][]Crossing
	pairs     int
}

// Crossings returns the crossings of s.
func (m *IntersectionMap) Crossings(s *TrackSegment) []Crossing {
	if m == nil {
		return nil
	}
	return m.crossings[s]
}

// Points returns just the crossing positions of s.
func (m *IntersectionMap) Points(s *TrackSegment) []Vec3 {
	return lo.Map(m.Crossings(s), func(c Crossing, _ int) Vec3 { return c.Point })
}

// Pairs is the number of crossing segment pairs.
func (m *IntersectionMap) Pairs() int {
	if m == nil {
		return 0
	}
	return m.pairs
}

func (m *IntersectionMap) add(a, b *TrackSegment, p Vec3) {
	m.crossings[a] = append(m.crossings[a], Crossing{Other: b, Point: p})
	m.crossings[b] = append(m.crossings[b], Crossing{Other: a, Point: p})
	m.pairs++
}

// BuildRecorder receives build statistics. *observability.SignalCollector
// implements it.
type BuildRecorder interface {
	ObserveIntersectionBuild(d time.Duration, segments, pairs int)
}

// BuildIntersectionMap tests every unordered pair of segments once. Pairs
// that are connected, touch at an endpoint, or are sibling branches of one
// junction are skipped.
func BuildIntersectionMap(ctx context.Context, segments []*TrackSegment, cfg IntersectionConfig, rec BuildRecorder) (*IntersectionMap, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "core.BuildIntersectionMap")
	defer span.End()
	span.SetAttributes(attribute.Int("segments", len(segments)))

	start := time.Now()
	x := newIntersector(cfg)
	bounds := lo.Map(segments, func(s *TrackSegment, _ int) Bounds { return x.curveBounds(s.Curve) })

	m := &IntersectionMap{crossings: make(map[*TrackSegment][]Crossing)}
	for i, a := range segments {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("BuildIntersectionMap: %w", err)
		}
		for j := i + 1; j < len(segments); j++ {
			b := segments[j]
			if joined(a, b) {
				continue
			}
			if p, ok := x.curves(a.Curve, b.Curve, bounds[i], bounds[j]); ok {
				m.add(a, b, p)
			}
		}
	}

	span.SetAttributes(attribute.Int("pairs", m.pairs))
	if rec != nil {
		rec.ObserveIntersectionBuild(time.Since(start), len(segments), m.pairs)
	}
	return m, nil
}

// IntersectionResult is delivered by BuildIntersectionMapAsync.
type IntersectionResult struct {
	Map *IntersectionMap
	Err error
}

// BuildIntersectionMapAsync runs BuildIntersectionMap on its own goroutine.
// The channel receives exactly one result and is then closed.
func BuildIntersectionMapAsync(ctx context.Context, segments []*TrackSegment, cfg IntersectionConfig, rec BuildRecorder) <-chan IntersectionResult {
	out := make(chan IntersectionResult, 1)
	snapshot := append([]*TrackSegment(nil), segments...)
	go func() {
		defer close(out)
		m, err := BuildIntersectionMap(ctx, snapshot, cfg, rec)
		out <- IntersectionResult{Map: m, Err: err}
	}()
	return out
}

func joined(a, b *TrackSegment) bool {
	for _, ea := range []Direction{Out, In} {
		if a.Next(ea) == b || b.Next(ea) == a {
			return true
		}
		ja := a.Junction(ea)
		if ja == nil {
			continue
		}
		if ja == b.Junction(Out) || ja == b.Junction(In) {
			return true
		}
	}
	for _, pa := range []Vec3{a.Curve.Start(), a.Curve.End()} {
		for _, pb := range []Vec3{b.Curve.Start(), b.Curve.End()} {
			if pa.DistanceSqr(pb) < endpointTouchDistSqr {
				return true
			}
		}
	}
	return false
}

// Occupancy combines the host's vehicle source with the published
// IntersectionMap.
type Occupancy struct {
	source OccupancySource
	m      atomic.Pointer[IntersectionMap]
}

// NewOccupancy wraps src. Until a map is published crossings are ignored.
func NewOccupancy(src OccupancySource) *Occupancy {
	return &Occupancy{source: src}
}

// Publish makes m visible to every later check.
func (o *Occupancy) Publish(m *IntersectionMap) { o.m.Store(m) }

// Map returns the published map, or nil.
func (o *Occupancy) Map() *IntersectionMap { return o.m.Load() }

// IsOccupied reports whether s counts as occupied under mode.
func (o *Occupancy) IsOccupied(s *TrackSegment, mode OccupancyMode) bool {
	if o == nil || o.source == nil || s == nil {
		return false
	}
	if o.source.HasVehicle(s) {
		return true
	}
	switch mode {
	case OccupancyIntersectionOnly:
		for _, c := range o.Map().Crossings(s) {
			if o.source.VehicleNear(c.Point, CrossingProbeRadius, CrossingProbeHeight) {
				return true
			}
		}
	case OccupancyWholeTrack:
		for _, c := range o.Map().Crossings(s) {
			if o.source.HasVehicle(c.Other) {
				return true
			}
		}
	}
	return false
}

// StaticOccupancy is an OccupancySource driven by explicit updates, used by
// the CLI and tests.
type StaticOccupancy struct {
	mu       sync.RWMutex
	segments map[string]bool
	vehicles []Vec3
}

// NewStaticOccupancy returns an empty source.
func NewStaticOccupancy() *StaticOccupancy {
	return &StaticOccupancy{segments: make(map[string]bool)}
}

// SetSegment marks segment id occupied or free.
func (o *StaticOccupancy) SetSegment(id string, occupied bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if occupied {
		o.segments[id] = true
	} else {
		delete(o.segments, id)
	}
}

// SetVehicles replaces the vehicle positions.
func (o *StaticOccupancy) SetVehicles(points ...Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vehicles = append(o.vehicles[:0], points...)
}

func (o *StaticOccupancy) HasVehicle(s *TrackSegment) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.segments[s.ID]
}

func (o *StaticOccupancy) VehicleNear(base Vec3, radius, height float64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	top := base.Add(Up.Scale(height))
	for _, v := range o.vehicles {
		if distToSegmentSqr(v, base, top) <= radius*radius {
			return true
		}
	}
	return false
}

func distToSegmentSqr(p, a, b Vec3) float64 {
	ab := b.Sub(a)
	l := ab.Dot(ab)
	if l == 0 {
		return p.DistanceSqr(a)
	}
	t := p.Sub(a).Dot(ab) / l
	t = max(0, min(1, t))
	return p.DistanceSqr(a.Add(ab.Scale(t)))
}
