package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
	"github.com/signalsfoundry/rail-signals/internal/signal"
)

const tracerName = "github.com/signalsfoundry/rail-signals/internal/topology"

// ErrSkippedJunction wraps every junction the builder could not equip.
var ErrSkippedJunction = errors.New("junction skipped")

// Config tunes classification and placement.
type Config struct {
	// YardPrefix marks yard track names.
	YardPrefix string
	// In-branches this short that end in nothing get no signals.
	DeadEndThreshold float64
	// Facing junctions joined by an in-branch this short are merged.
	ClosenessThreshold float64
	// The branch-facing signal stands BackOffset before the switch, the
	// in-facing one FrontOffset past it.
	BackOffset  float64
	FrontOffset float64
	// Signals closer than CrossingClearance to a crossing move back by
	// CrossingNudge.
	CrossingClearance float64
	CrossingNudge     float64
}

// DefaultConfig returns the standard placement rules.
func DefaultConfig() Config {
	return Config{
		YardPrefix:         "[Y]",
		DeadEndThreshold:   100,
		ClosenessThreshold: 25,
		BackOffset:         1,
		FrontOffset:        4,
		CrossingClearance:  5,
		CrossingNudge:      5,
	}
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.YardPrefix == "" {
		c.YardPrefix = d.YardPrefix
	}
	if c.DeadEndThreshold <= 0 {
		c.DeadEndThreshold = d.DeadEndThreshold
	}
	if c.ClosenessThreshold <= 0 {
		c.ClosenessThreshold = d.ClosenessThreshold
	}
	if c.BackOffset <= 0 {
		c.BackOffset = d.BackOffset
	}
	if c.FrontOffset <= 0 {
		c.FrontOffset = d.FrontOffset
	}
	if c.CrossingClearance <= 0 {
		c.CrossingClearance = d.CrossingClearance
	}
	if c.CrossingNudge <= 0 {
		c.CrossingNudge = d.CrossingNudge
	}
}

// Classification is what a junction gets.
type Classification int

const (
	ClassNone Classification = iota
	ClassMainline
	ClassIntoYard
	ClassShunting
)

func (c Classification) String() string {
	switch c {
	case ClassMainline:
		return "mainline"
	case ClassIntoYard:
		return "into_yard"
	case ClassShunting:
		return "shunting"
	default:
		return "none"
	}
}

// MetricsRecorder receives signal population counts.
// *observability.SignalCollector implements it.
type MetricsRecorder interface {
	SetSignalCount(kind string, n int)
}

// Summary reports what a build did.
type Summary struct {
	RunID   string
	Created int
	Merged  int
	Distant int
	Skipped int
}

// Builder runs the one-time construction pass.
type Builder struct {
	cfg     Config
	net     *core.RailNetwork
	pack    *Pack
	env     *signal.Env
	reg     *SignalRegistry
	log     logging.Logger
	metrics MetricsRecorder
}

// NewBuilder prepares a build of net with pack. The registry becomes the
// environment's signal lookup when none is set.
func NewBuilder(cfg Config, net *core.RailNetwork, pack *Pack, env *signal.Env, reg *SignalRegistry, log logging.Logger) *Builder {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	if env.Lookup == nil {
		env.Lookup = reg
	}
	pack.ApplyDefaults()
	return &Builder{cfg: cfg, net: net, pack: pack, env: env, reg: reg, log: log}
}

func (b *Builder) SetMetrics(m MetricsRecorder) { b.metrics = m }

// Build classifies every junction, creates signal pairs, merges facing
// pairs and adds distant signals. Junctions that cannot be equipped are
// skipped; the returned error lists them and the registry stays usable.
func (b *Builder) Build(ctx context.Context) (Summary, error) {
	ctx, runID := logging.EnsureRunID(ctx)
	log := b.log.With(logging.String("run_id", runID), logging.String("pack", b.pack.ID))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "topology.Build")
	defer span.End()

	sum := Summary{RunID: runID}
	var skipped error
	classes := make(map[*core.Junction]Classification)

	for _, j := range b.net.Junctions() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		class := b.Classify(j)
		if class == ClassNone {
			continue
		}
		pair, err := b.createPair(j, class)
		if err != nil {
			skipped = multierr.Append(skipped, err)
			sum.Skipped++
			log.Warn(ctx, "skipping junction", logging.String("junction", j.ID), logging.Err(err))
			continue
		}
		if len(pair.All()) == 0 {
			continue
		}
		if err := b.reg.Add(pair); err != nil {
			skipped = multierr.Append(skipped, err)
			sum.Skipped++
			continue
		}
		classes[j] = class
		sum.Created++
	}
	log.Info(ctx, "created junction signals", logging.Int("junctions", sum.Created))

	sum.Merged = b.mergeClose(ctx, log)
	log.Info(ctx, "merged facing signals", logging.Int("junctions", sum.Merged))

	sum.Distant = b.createDistant(ctx, log)
	log.Info(ctx, "created distant signals", logging.Int("count", sum.Distant))

	b.publishCounts()
	span.SetAttributes(
		attribute.Int("junctions.created", sum.Created),
		attribute.Int("junctions.merged", sum.Merged),
		attribute.Int("signals.distant", sum.Distant),
		attribute.Int("junctions.skipped", sum.Skipped),
	)
	if skipped != nil {
		span.SetStatus(codes.Error, "some junctions were skipped")
	}
	return sum, skipped
}

//
// ---------- Classification ----------
//

// Classify decides what signals junction j gets from the naming of its
// tracks.
func (b *Builder) Classify(j *core.Junction) Classification {
	in := j.In()
	if in == nil || j.BranchCount() == 0 || b.inIsShortDeadEnd(j) {
		return ClassNone
	}

	inYard := b.isYard(in)
	for _, branch := range j.Branches() {
		// A branch that ends right after the switch always gets a signal.
		if !branch.Connected(core.Out) {
			return ClassMainline
		}
		after := branch.Neighbor(core.Out)
		if after == nil {
			return ClassMainline
		}
		if b.isYard(after) != inYard {
			return ClassIntoYard
		}
	}
	if inYard {
		return ClassShunting
	}
	return ClassMainline
}

func (b *Builder) isYard(s *core.TrackSegment) bool {
	return strings.HasPrefix(s.Name, b.cfg.YardPrefix)
}

func (b *Builder) inIsShortDeadEnd(j *core.Junction) bool {
	in := j.In()
	if in.Length > b.cfg.DeadEndThreshold {
		return false
	}
	end, ok := in.EndAt(j)
	if !ok {
		return false
	}
	return !in.Connected(end.Flip())
}

//
// ---------- Creation ----------
//

// placement returns where the pair at j stands: at the start of the first
// branch, the branch-facing signal backed off along the in side and the
// in-facing one moved onto the branch.
func (b *Builder) placement(j *core.Junction) (out, in signal.Placement, err error) {
	branch := j.Branch(0)
	start := branch.Curve.Start()
	along := branch.Curve.StartHandle().Sub(start)
	if along.Norm() < 1e-6 {
		return out, in, fmt.Errorf("%w: %s has a degenerate first branch", ErrSkippedJunction, j.ID)
	}
	along = along.Normalized()
	backward := along.Scale(-1)
	out = signal.Placement{Position: start.Add(backward.Scale(b.cfg.BackOffset)), Forward: backward}
	in = signal.Placement{Position: start.Add(along.Scale(b.cfg.FrontOffset)), Forward: along}
	return out, in, nil
}

func (b *Builder) createPair(j *core.Junction, class Classification) (Pair, error) {
	pair := Pair{Junction: j}
	if j.In() == nil || j.BranchCount() == 0 {
		return pair, fmt.Errorf("%w: %s has no branches", ErrSkippedJunction, j.ID)
	}
	outAt, inAt, err := b.placement(j)
	if err != nil {
		return pair, err
	}

	switch class {
	case ClassMainline:
		pair.Out = b.env.NewJunctionSignal(b.pack.Signal, core.KindMainline, j, core.Out, outAt)
		pair.In = b.env.NewJunctionSignal(b.pack.Signal, core.KindMainline, j, core.In, inAt)
	case ClassIntoYard:
		// The in-facing signal leads out of the yard and stays mainline.
		if b.pack.IntoYardSignal != nil {
			pair.Out = b.env.NewJunctionSignal(b.pack.IntoYardSignal, core.KindIntoYard, j, core.Out, outAt)
		}
		pair.In = b.env.NewJunctionSignal(b.pack.Signal, core.KindMainline, j, core.In, inAt)
	case ClassShunting:
		if b.pack.ShuntingSignal == nil {
			return pair, nil
		}
		pair.Out = b.env.NewJunctionSignal(b.pack.ShuntingSignal, core.KindShunting, j, core.Out, outAt)
		pair.In = b.env.NewJunctionSignal(b.pack.ShuntingSignal, core.KindShunting, j, core.In, inAt)
	}
	return pair, nil
}

//
// ---------- Merge ----------
//

// mergeClose removes the branch-facing signals of junction pairs whose
// in-branches are one short segment. The in-facing signals that remain take
// the into-yard kind of the signal removed across the gap.
func (b *Builder) mergeClose(ctx context.Context, log logging.Logger) int {
	merged := make(map[*core.Junction]bool)
	for _, j := range b.reg.Junctions() {
		track := j.In()
		if track.Length > b.cfg.ClosenessThreshold {
			continue
		}
		end, ok := track.EndAt(j)
		if !ok {
			continue
		}
		other := track.Junction(end.Flip())
		if other == nil || other.In() != track || merged[other] {
			continue
		}
		p1, ok1 := b.reg.TryGetSignals(j)
		p2, ok2 := b.reg.TryGetSignals(other)
		if !ok1 || !ok2 {
			continue
		}

		retype(p1.In, p2.Out)
		retype(p2.In, p1.Out)
		for _, c := range []*signal.Controller{p1.Out, p2.Out} {
			if c == nil {
				continue
			}
			if err := b.reg.Remove(c); err != nil {
				log.Warn(ctx, "merge could not remove signal", logging.String("signal", c.Name()), logging.Err(err))
			}
		}
		log.Debug(ctx, "merged junctions", logging.String("a", j.ID), logging.String("b", other.ID))
		merged[j] = true
	}
	return len(merged)
}

// retype gives the kept signal the into-yard kind when the removed signal
// across the gap led into a yard.
func retype(kept, removed *signal.Controller) {
	if kept == nil || removed == nil {
		return
	}
	if removed.Kind() == core.KindIntoYard && kept.Kind() == core.KindMainline {
		kept.SetKind(core.KindIntoYard)
	}
}

//
// ---------- Distant signals ----------
//

func (b *Builder) createDistant(ctx context.Context, log logging.Logger) int {
	def := b.pack.DistantSignal
	if def == nil {
		return 0
	}
	count := 0
	for _, j := range b.reg.Junctions() {
		pair, _ := b.reg.TryGetSignals(j)

		if home := pair.Out; stopping(home) {
			track := j.In()
			end, _ := track.EndAt(j)
			if at, ok := b.distantPlacement(track, end); ok {
				b.reg.AddDistant(b.env.NewDistantSignal(def, home, 1, b.pack.DistantDistance, at))
				count++
			}
		}

		if home := pair.In; stopping(home) {
			n := 0
			for _, branch := range j.Branches() {
				track := branch.Next(core.Out)
				if track == nil {
					continue
				}
				end := core.In
				if track.Next(core.Out) == branch {
					end = core.Out
				}
				if at, ok := b.distantPlacement(track, end); ok {
					n++
					b.reg.AddDistant(b.env.NewDistantSignal(def, home, n, b.pack.DistantDistance, at))
					count++
				}
			}
		}
	}
	log.Debug(ctx, "distant pass done", logging.Int("count", count))
	return count
}

func stopping(c *signal.Controller) bool {
	return c != nil && c.Alive() && c.Kind().IsStopping()
}

// distantPlacement measures the pack's distance along track from the end
// that touches the home junction. The distant signal faces away from it,
// towards approaching trains.
func (b *Builder) distantPlacement(track *core.TrackSegment, homeEnd core.Direction) (signal.Placement, bool) {
	if track.Length < b.pack.DistantMinTrackLength {
		return signal.Placement{}, false
	}
	var p, tangent core.Vec3
	if homeEnd == core.In {
		p, tangent = track.Curve.PointAtLength(b.pack.DistantDistance, 0)
	} else {
		p, tangent = track.Curve.PointAtLengthReverse(b.pack.DistantDistance, 0)
		tangent = tangent.Scale(-1)
	}
	return signal.Placement{Position: p, Forward: tangent}, true
}

//
// ---------- Post-processing ----------
//

// NudgeFromCrossings moves every signal standing too close to a crossing
// backwards along its facing. It runs once, after the intersection map is
// published, and returns how many signals moved.
func (b *Builder) NudgeFromCrossings(ctx context.Context, m *core.IntersectionMap) int {
	points := lo.Uniq(lo.FlatMap(b.net.Segments(), func(s *core.TrackSegment, _ int) []core.Vec3 {
		return m.Points(s)
	}))
	if len(points) == 0 {
		return 0
	}
	limit := b.cfg.CrossingClearance * b.cfg.CrossingClearance
	moved := 0
	for _, c := range b.reg.All() {
		nudged := false
		for _, p := range points {
			at := c.Placement()
			if at.Position.DistanceSqr(p) < limit {
				c.MoveBy(at.Forward.Normalized().Scale(-b.cfg.CrossingNudge))
				nudged = true
			}
		}
		if nudged {
			moved++
			b.log.Debug(ctx, "moved signal away from crossing", logging.String("signal", c.Name()))
		}
	}
	return moved
}

func (b *Builder) publishCounts() {
	if b.metrics == nil {
		return
	}
	counts := lo.CountValuesBy(b.reg.All(), func(c *signal.Controller) string { return c.Kind().String() })
	for _, k := range []core.SignalKind{core.KindMainline, core.KindIntoYard, core.KindShunting, core.KindDistant} {
		b.metrics.SetSignalCount(k.String(), counts[k.String()])
	}
}
