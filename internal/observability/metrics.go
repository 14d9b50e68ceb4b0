package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SignalCollector bundles Prometheus metrics for signal controllers, the
// topology builder and the intersection map, and exposes them over HTTP.
type SignalCollector struct {
	gatherer prometheus.Gatherer

	AspectChanges    *prometheus.CounterVec
	Updates          prometheus.Counter
	WalkSegments     prometheus.Histogram
	Signals          *prometheus.GaugeVec
	IntersectionTime prometheus.Histogram
	CrossingPairs    prometheus.Gauge
}

// NewSignalCollector registers signal metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSignalCollector(reg prometheus.Registerer) (*SignalCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_aspect_changes_total",
		Help: "Aspect changes applied by signal controllers, labeled by signal kind and aspect ID.",
	}, []string{"kind", "aspect"})
	changes, err := register(reg, changes, "signal_aspect_changes_total")
	if err != nil {
		return nil, err
	}

	updates, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_updates_total",
		Help: "Aspect re-evaluations performed by signal controllers.",
	}), "signal_updates_total")
	if err != nil {
		return nil, err
	}

	walk, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_walk_segments",
		Help:    "Number of track segments visited per signal walk.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	}), "signal_walk_segments")
	if err != nil {
		return nil, err
	}

	signals := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signals_registered",
		Help: "Signals currently registered, labeled by kind.",
	}, []string{"kind"})
	signals, err = register(reg, signals, "signals_registered")
	if err != nil {
		return nil, err
	}

	build, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intersection_map_build_duration_seconds",
		Help:    "Time spent building the track intersection map.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}), "intersection_map_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	pairs, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intersection_map_crossing_pairs",
		Help: "Crossing segment pairs in the published intersection map.",
	}), "intersection_map_crossing_pairs")
	if err != nil {
		return nil, err
	}

	return &SignalCollector{
		gatherer:         gatherer,
		AspectChanges:    changes,
		Updates:          updates,
		WalkSegments:     walk,
		Signals:          signals,
		IntersectionTime: build,
		CrossingPairs:    pairs,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SignalCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the gatherer backing this collector.
func (c *SignalCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// ObserveUpdate records one aspect re-evaluation and the size of its walk.
func (c *SignalCollector) ObserveUpdate(walkSegments int) {
	if c == nil {
		return
	}
	if c.Updates != nil {
		c.Updates.Inc()
	}
	if c.WalkSegments != nil {
		c.WalkSegments.Observe(float64(walkSegments))
	}
}

// IncAspectChange counts an applied aspect change. Turning a signal off is
// reported with aspect "off".
func (c *SignalCollector) IncAspectChange(kind, aspect string) {
	if c == nil || c.AspectChanges == nil {
		return
	}
	c.AspectChanges.WithLabelValues(kind, aspect).Inc()
}

// SetSignalCount sets the number of registered signals of one kind.
func (c *SignalCollector) SetSignalCount(kind string, n int) {
	if c == nil || c.Signals == nil {
		return
	}
	c.Signals.WithLabelValues(kind).Set(float64(n))
}

// ObserveIntersectionBuild satisfies core.BuildRecorder.
func (c *SignalCollector) ObserveIntersectionBuild(d time.Duration, _ int, pairs int) {
	if c == nil {
		return
	}
	if c.IntersectionTime != nil {
		c.IntersectionTime.Observe(d.Seconds())
	}
	if c.CrossingPairs != nil {
		c.CrossingPairs.Set(float64(pairs))
	}
}

// register adds c to reg. A collector already registered under the same
// descriptor is reused when it has the same type, so repeated construction
// against one registry is safe.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return c, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return existing, nil
}
